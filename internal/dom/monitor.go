package dom

import "time"

// Monitor owns the drift detection state of a single interface. It performs
// no I/O: observations return alerts for the caller to deliver.
type Monitor struct {
	id       string
	settings Settings
	now      Clock

	baseline     Baseline
	baselineTime time.Time

	linkUpNow  bool
	linkUpPrev bool

	pollIterations int
	alertPolls     int
	lastUptime     int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source used for baseline and alert timestamps.
func WithClock(now Clock) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor returns a monitor in the down state with no baseline.
func NewMonitor(id string, settings Settings, opts ...Option) *Monitor {
	m := &Monitor{
		id:       id,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Monitor) ID() string {
	return m.id
}

// State is the link state recorded by the last observation.
func (m *Monitor) State() State {
	if m.linkUpPrev {
		return StateUp
	}
	return StateDown
}

func (m *Monitor) LinkUp() bool {
	return m.linkUpNow
}

func (m *Monitor) Baseline() Baseline {
	return m.baseline
}

// BaselineTime returns when the baseline was last computed.
func (m *Monitor) BaselineTime() (time.Time, bool) {
	return m.baselineTime, !m.baselineTime.IsZero()
}

func (m *Monitor) PollIterations() int {
	return m.pollIterations
}

func (m *Monitor) ConsecutiveAlertPolls() int {
	return m.alertPolls
}

func (m *Monitor) LastUptime() int64 {
	return m.lastUptime
}

// Observe feeds one poll's reading through the state machine.
//
//	down -> up   compute a baseline, no alert
//	up   -> up   compare against the baseline, 0-2 alerts
//	any  -> down clear the baseline, no alert
func (m *Monitor) Observe(r Reading, uptime int64) Outcome {
	m.lastUptime = uptime
	m.linkUpNow = r.LinkUp

	var out Outcome
	switch {
	case !m.linkUpNow:
		if m.linkUpPrev {
			out.Event = EventLinkDown
		}
		m.ResetBaseline()
	case !m.linkUpPrev:
		m.ComputeBaseline(r)
		out.Event = EventBaselineComputed
	default:
		out = m.CheckDrift(r, uptime)
	}

	m.linkUpPrev = m.linkUpNow

	return out
}

// ComputeBaseline takes the reading as the new reference point. A direction
// without a measurement is left unset and will not alert.
func (m *Monitor) ComputeBaseline(r Reading) {
	m.ResetBaseline()
	m.baselineTime = m.now()
	m.baseline = Baseline{RX: r.RxPower, TX: r.TxPower}
}

// ResetBaseline forgets the baseline and its counters.
func (m *Monitor) ResetBaseline() {
	m.baseline = Baseline{}
	m.baselineTime = time.Time{}
	m.pollIterations = 0
	m.alertPolls = 0
}

// CheckDrift compares the reading with the baseline for every direction that
// has one, and rebases after RebaseLimit consecutive alerting polls.
func (m *Monitor) CheckDrift(r Reading, uptime int64) Outcome {
	var out Outcome

	m.pollIterations++
	now := m.now()

	for _, d := range Directions {
		base := m.baseline.Get(d)
		if !m.isSet(base) {
			continue
		}

		current := r.Power(d)
		if !current.Valid {
			continue
		}

		// The first comparison after a baseline is taken against it unchanged.
		if m.settings.CumulativeAverage && m.pollIterations > 1 {
			base.Value += (current.Value - base.Value) / float64(m.pollIterations)
			m.baseline.set(d, base)
		}

		low := base.Value - m.settings.Tolerance
		high := base.Value + m.settings.Tolerance
		if current.Value >= low && current.Value <= high {
			continue
		}

		out.Alerts = append(out.Alerts, Alert{
			Direction:    d,
			Interface:    m.id,
			VendorSerial: r.VendorSerial,
			Baseline:     base.Value,
			BaselineTime: m.baselineTime,
			Value:        current.Value,
			Time:         now,
			Uptime:       uptime,
		})
	}

	if len(out.Alerts) == 0 {
		m.alertPolls = 0
	} else {
		m.alertPolls++
	}

	if m.settings.RebaseLimit > 0 && m.alertPolls >= m.settings.RebaseLimit {
		m.ComputeBaseline(r)
		out.Event = EventRebased
	}

	return out
}

func (m *Monitor) isSet(p Power) bool {
	if !p.Valid {
		return false
	}

	return !(m.settings.ZeroIsUnset && p.Value == 0)
}
