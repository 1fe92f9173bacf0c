package poller

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"codeberg.org/mutker/domwatch/internal/dom"
	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/metrics"
	"codeberg.org/mutker/domwatch/internal/notify"
	"codeberg.org/mutker/domwatch/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poll struct {
	links    map[string]telemetry.LinkInfo
	readings map[string]telemetry.Transceiver
	uptime   int64
	linkErr  error
	xcvrErr  error
}

// fakeSource replays one poll per cycle and remembers what was requested.
type fakeSource struct {
	polls     []poll
	next      int
	requested [][]string
}

func (f *fakeSource) current() poll {
	return f.polls[f.next]
}

func (f *fakeSource) FetchLinkStatuses(context.Context) (map[string]telemetry.LinkInfo, error) {
	p := f.current()
	if p.linkErr != nil {
		f.next++
		return nil, p.linkErr
	}
	return p.links, nil
}

func (f *fakeSource) FetchTransceiverReadings(_ context.Context, ids []string) (map[string]telemetry.Transceiver, int64, error) {
	p := f.current()
	f.next++
	f.requested = append(f.requested, ids)
	if p.xcvrErr != nil {
		return nil, 0, p.xcvrErr
	}
	return p.readings, p.uptime, nil
}

type recorder struct {
	got []notify.Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (*recorder) Args() []string { return nil }
func (*recorder) Close() error   { return nil }

func (r *recorder) messages(sev notify.Severity) []string {
	var out []string
	for _, n := range r.got {
		if n.Severity == sev {
			out = append(out, n.Message)
		}
	}
	return out
}

var (
	connected = telemetry.LinkInfo{Status: telemetry.LinkStatusConnected}
	down      = telemetry.LinkInfo{Status: "notconnect"}
)

func present(v float64) telemetry.Measurement {
	return telemetry.Measurement{Value: v, State: telemetry.Present}
}

func optic(tx, rx float64) telemetry.Transceiver {
	return telemetry.Transceiver{TxPower: present(tx), RxPower: present(rx), VendorSerial: "XYZ12345"}
}

func fixedClock() func() time.Time {
	ts := time.Date(2015, 12, 15, 11, 33, 11, 0, time.Local)
	return func() time.Time { return ts }
}

func newPoller(t *testing.T, src telemetry.Source, rec notify.Notifier, settings dom.Settings) (*Poller, *metrics.Collector) {
	t.Helper()

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	clock := fixedClock()
	registry := dom.NewRegistry(settings, dom.WithClock(clock))
	return New(src, registry, rec, WithMetrics(collector), WithClock(clock)), collector
}

func TestRunOnceComputesBaselineThenAlerts(t *testing.T) {
	src := &fakeSource{polls: []poll{
		{
			links: map[string]telemetry.LinkInfo{
				"Ethernet2":   connected,
				"Ethernet1":   connected,
				"Management1": connected,
			},
			readings: map[string]telemetry.Transceiver{
				"Ethernet1": optic(-2.5189, -5.4035),
				"Ethernet2": optic(-1.0, -1.0),
			},
			uptime: 1450179191,
		},
		{
			links: map[string]telemetry.LinkInfo{
				"Ethernet1": connected,
				"Ethernet2": connected,
			},
			readings: map[string]telemetry.Transceiver{
				"Ethernet1": optic(-2.5189, -8.0382),
				"Ethernet2": optic(-1.0, -1.0),
			},
			uptime: 1450179191,
		},
	}}
	rec := &recorder{}
	settings := dom.DefaultSettings()
	settings.Tolerance = 2.5
	p, collector := newPoller(t, src, rec, settings)

	ctx := context.Background()
	require.NoError(t, p.RunOnce(ctx))

	assert.Equal(t, []string{"Ethernet1", "Ethernet2"}, src.requested[0])
	assert.Equal(t, []string{"Ethernet1", "Ethernet2"}, p.Registry().IDs())
	assert.Equal(t, []string{
		"Ethernet1: new TX base: -2.5189",
		"Ethernet1: new RX base: -5.4035",
		"Ethernet2: new TX base: -1.0000",
		"Ethernet2: new RX base: -1.0000",
	}, rec.messages(notify.SeverityInfo))
	assert.Empty(t, rec.messages(notify.SeverityWarning))

	require.NoError(t, p.RunOnce(ctx))

	alerts := rec.messages(notify.SeverityWarning)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "TRANSCEIVER_RX_POWER_CHANGE, Ethernet1 (XYZ12345) RX power level has changed by")

	last := rec.got[len(rec.got)-1]
	assert.Equal(t, int64(1450179191), last.Uptime)
	assert.Equal(t, "Ethernet1", last.Interface)
	assert.Equal(t, "rx", last.Direction)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.PollCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Alerts.WithLabelValues("rx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.BaselineEvents.WithLabelValues("baseline_computed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.LinksUp))
}

func TestRunOnceFailureLeavesMonitorsUntouched(t *testing.T) {
	failure := errors.New().WithData(telemetry.ErrConnectivity, telemetry.ConnectivityFailure{Reason: "refused"})
	src := &fakeSource{polls: []poll{
		{
			links:    map[string]telemetry.LinkInfo{"Ethernet1": connected},
			readings: map[string]telemetry.Transceiver{"Ethernet1": optic(-2, -5)},
		},
		{
			links:   map[string]telemetry.LinkInfo{"Ethernet1": down},
			xcvrErr: failure,
		},
		{linkErr: failure},
	}}
	rec := &recorder{}
	p, collector := newPoller(t, src, rec, dom.DefaultSettings())
	ctx := context.Background()

	require.NoError(t, p.RunOnce(ctx))
	m, ok := p.Registry().Get("Ethernet1")
	require.True(t, ok)
	before := m.Baseline()

	err := p.RunOnce(ctx)
	assert.Same(t, failure, err)
	assert.True(t, m.LinkUp())
	assert.Equal(t, before, m.Baseline())

	err = p.RunOnce(ctx)
	assert.True(t, telemetry.IsConnectivity(err))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.PollFailures.WithLabelValues(metrics.FailureConnectivity)))
}

func TestRunOnceMissingOpticsNeverAlert(t *testing.T) {
	na := telemetry.Transceiver{
		TxPower: telemetry.Measurement{State: telemetry.NotApplicable},
		RxPower: telemetry.Measurement{State: telemetry.NotApplicable},
	}
	src := &fakeSource{polls: []poll{
		{
			links:    map[string]telemetry.LinkInfo{"Ethernet1": connected, "Ethernet2": connected},
			readings: map[string]telemetry.Transceiver{"Ethernet1": na},
		},
		{
			links:    map[string]telemetry.LinkInfo{"Ethernet1": connected, "Ethernet2": connected},
			readings: map[string]telemetry.Transceiver{"Ethernet1": optic(-30, -30), "Ethernet2": optic(-30, -30)},
		},
	}}
	rec := &recorder{}
	p, _ := newPoller(t, src, rec, dom.DefaultSettings())

	require.NoError(t, p.RunOnce(context.Background()))
	require.NoError(t, p.RunOnce(context.Background()))

	assert.Empty(t, rec.messages(notify.SeverityWarning))
	assert.Empty(t, rec.messages(notify.SeverityInfo))
}

func TestRunOnceRebaseAnnouncedAfterAlert(t *testing.T) {
	links := map[string]telemetry.LinkInfo{"Ethernet1": connected}
	src := &fakeSource{polls: []poll{
		{links: links, readings: map[string]telemetry.Transceiver{"Ethernet1": optic(-2, -5)}},
		{links: links, readings: map[string]telemetry.Transceiver{"Ethernet1": optic(-2, -9)}},
	}}
	rec := &recorder{}
	settings := dom.DefaultSettings()
	settings.RebaseLimit = 1
	p, collector := newPoller(t, src, rec, settings)

	require.NoError(t, p.RunOnce(context.Background()))
	rec.got = nil
	require.NoError(t, p.RunOnce(context.Background()))

	require.Len(t, rec.got, 4)
	assert.Equal(t, notify.SeverityWarning, rec.got[0].Severity)
	assert.Equal(t, "Ethernet1: recomputing base", rec.got[1].Message)
	assert.Equal(t, "Ethernet1: new TX base: -2.0000", rec.got[2].Message)
	assert.Equal(t, "Ethernet1: new RX base: -9.0000", rec.got[3].Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.BaselineEvents.WithLabelValues("rebased")))
}

func TestRunOnceNotifierFailureDoesNotAbort(t *testing.T) {
	src := &fakeSource{polls: []poll{{
		links: map[string]telemetry.LinkInfo{"Ethernet1": connected, "Ethernet2": connected},
		readings: map[string]telemetry.Transceiver{
			"Ethernet1": optic(-2, -5),
			"Ethernet2": optic(-2, -5),
		},
	}}}
	rec := &recorder{err: stderrors.New("trap host unreachable")}
	p, _ := newPoller(t, src, rec, dom.DefaultSettings())

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Len(t, rec.got, 4)
	assert.Equal(t, 2, p.Registry().LinksUp())
}

func TestRunOnceNoMatchingInterfaces(t *testing.T) {
	src := &fakeSource{polls: []poll{{
		links: map[string]telemetry.LinkInfo{"Management1": connected},
	}}}
	p, _ := newPoller(t, src, &recorder{}, dom.DefaultSettings())

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Empty(t, src.requested)
	assert.Zero(t, p.Registry().Len())
}

func TestFailureKind(t *testing.T) {
	factory := errors.New()

	assert.Equal(t, metrics.FailureConnectivity, FailureKind(factory.New(telemetry.ErrConnectivity)))
	assert.Equal(t, metrics.FailureRejected, FailureKind(factory.New(telemetry.ErrCommandRejected)))
	assert.Equal(t, metrics.FailureMalformed, FailureKind(factory.New(telemetry.ErrMalformedResponse)))
	assert.Equal(t, metrics.FailureMalformed, FailureKind(telemetry.UnexpectedResponse("missing interfaceStatuses")))
	assert.Equal(t, metrics.FailureOther, FailureKind(stderrors.New("boom")))
}
