// Package metrics exposes poll and alert counters in Prometheus format.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure kinds recorded by PollFailed.
const (
	FailureConnectivity = "connectivity"
	FailureRejected     = "rejected"
	FailureMalformed    = "malformed"
	FailureOther        = "other"
)

// Collector bundles the daemon's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	PollCycles     prometheus.Counter
	PollFailures   *prometheus.CounterVec
	Alerts         *prometheus.CounterVec
	BaselineEvents *prometheus.CounterVec
	Monitored      prometheus.Gauge
	LinksUp        prometheus.Gauge
	PollDuration   prometheus.Histogram
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "domwatch_poll_cycles_total",
		Help: "Completed poll cycles.",
	}), "domwatch_poll_cycles_total")
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domwatch_poll_failures_total",
		Help: "Poll cycles that failed, labeled by failure kind.",
	}, []string{"kind"}), "domwatch_poll_failures_total")
	if err != nil {
		return nil, err
	}

	alerts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domwatch_alerts_total",
		Help: "Optical power drift alerts, labeled by direction.",
	}, []string{"direction"}), "domwatch_alerts_total")
	if err != nil {
		return nil, err
	}

	baselines, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domwatch_baseline_events_total",
		Help: "Baseline lifecycle events, labeled by event.",
	}, []string{"event"}), "domwatch_baseline_events_total")
	if err != nil {
		return nil, err
	}

	monitored, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "domwatch_monitored_interfaces",
		Help: "Interfaces evaluated in the last poll cycle.",
	}), "domwatch_monitored_interfaces")
	if err != nil {
		return nil, err
	}

	linksUp, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "domwatch_links_up",
		Help: "Monitored interfaces whose link was up in the last poll cycle.",
	}), "domwatch_links_up")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "domwatch_poll_duration_seconds",
		Help:    "Poll cycle latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "domwatch_poll_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		PollCycles:     cycles,
		PollFailures:   failures,
		Alerts:         alerts,
		BaselineEvents: baselines,
		Monitored:      monitored,
		LinksUp:        linksUp,
		PollDuration:   duration,
	}, nil
}

// CycleCompleted records a successful poll cycle.
func (c *Collector) CycleCompleted(elapsed time.Duration, monitored, linksUp int) {
	if c == nil {
		return
	}
	c.PollCycles.Inc()
	c.PollDuration.Observe(elapsed.Seconds())
	c.Monitored.Set(float64(monitored))
	c.LinksUp.Set(float64(linksUp))
}

func (c *Collector) PollFailed(kind string) {
	if c == nil {
		return
	}
	c.PollFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) AlertRaised(direction string) {
	if c == nil {
		return
	}
	c.Alerts.WithLabelValues(direction).Inc()
}

func (c *Collector) BaselineEvent(event string) {
	if c == nil {
		return
	}
	c.BaselineEvents.WithLabelValues(event).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds col to reg, returning the already registered collector of
// the same type when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return col, errors.New().WithData(ErrRegister,
				fmt.Sprintf("collector %s already registered with incompatible type", name))
		}
		return col, errors.New().Wrap(ErrRegister, err)
	}
	return col, nil
}
