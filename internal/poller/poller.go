// Package poller drives the monitors: one cycle fetches telemetry, feeds
// every monitor and routes what they produce to the notifiers.
package poller

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"codeberg.org/mutker/domwatch/internal/dom"
	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/logger"
	"codeberg.org/mutker/domwatch/internal/metrics"
	"codeberg.org/mutker/domwatch/internal/notify"
	"codeberg.org/mutker/domwatch/internal/telemetry"
	"github.com/samber/lo"
)

// DefaultInterfacePrefix selects front-panel ports.
const DefaultInterfacePrefix = "Ethernet"

// Poller runs poll cycles against one device. It owns its registry and must
// not be used from more than one goroutine.
type Poller struct {
	source   telemetry.Source
	registry *dom.Registry
	notifier notify.Notifier
	prefix   string
	metrics  *metrics.Collector
	now      func() time.Time
}

type Option func(*Poller)

// WithInterfacePrefix limits monitoring to interfaces whose name starts with prefix.
func WithInterfacePrefix(prefix string) Option {
	return func(p *Poller) {
		p.prefix = prefix
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(p *Poller) {
		p.metrics = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

func New(source telemetry.Source, registry *dom.Registry, notifier notify.Notifier, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		registry: registry,
		notifier: notifier,
		prefix:   DefaultInterfacePrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Registry returns the monitors owned by the poller.
func (p *Poller) Registry() *dom.Registry {
	return p.registry
}

// RunOnce performs one poll cycle. A telemetry failure aborts the cycle
// before any monitor is touched and is returned as is.
func (p *Poller) RunOnce(ctx context.Context) error {
	start := p.now()

	links, err := p.source.FetchLinkStatuses(ctx)
	if err != nil {
		p.metrics.PollFailed(FailureKind(err))
		return err
	}

	ids := MonitoredIDs(links, p.prefix)

	if len(ids) == 0 {
		logger.Debug().Str("prefix", p.prefix).Msg("No interfaces to monitor")
		p.metrics.CycleCompleted(p.now().Sub(start), 0, 0)
		return nil
	}

	readings, uptime, err := p.source.FetchTransceiverReadings(ctx, ids)
	if err != nil {
		p.metrics.PollFailed(FailureKind(err))
		return err
	}

	for _, id := range ids {
		m := p.registry.GetOrCreate(id)
		wasUp := m.LinkUp()

		out := m.Observe(toReading(links[id], readings[id]), uptime)
		if m.LinkUp() != wasUp {
			logger.Debug().Str("interface", id).Bool("link_up", m.LinkUp()).Msg("Link state changed")
		}

		p.handle(ctx, m, out)
	}

	linksUp := lo.CountBy(ids, func(id string) bool {
		return links[id].Connected()
	})
	p.metrics.CycleCompleted(p.now().Sub(start), len(ids), linksUp)

	logger.Debug().
		Int("interfaces", len(ids)).
		Int("links_up", linksUp).
		Int64("uptime", uptime).
		Msg("Poll cycle complete")

	return nil
}

func (p *Poller) handle(ctx context.Context, m *dom.Monitor, out dom.Outcome) {
	switch out.Event {
	case dom.EventBaselineComputed:
		p.metrics.BaselineEvent(out.Event.String())
		p.announceBaseline(ctx, m)
	case dom.EventLinkDown:
		p.metrics.BaselineEvent(out.Event.String())
	case dom.EventNone, dom.EventRebased:
	}

	for _, alert := range out.Alerts {
		p.metrics.AlertRaised(string(alert.Direction))
		p.send(ctx, notify.Notification{
			Message:   alert.String(),
			Severity:  notify.SeverityWarning,
			Uptime:    alert.Uptime,
			Interface: alert.Interface,
			Direction: string(alert.Direction),
			Time:      alert.Time,
		})
	}

	// Alerts describe the old baseline, so the rebase is announced after them.
	if out.Event == dom.EventRebased {
		p.metrics.BaselineEvent(out.Event.String())
		p.send(ctx, p.info(m, fmt.Sprintf("%s: recomputing base", m.ID()), ""))
		p.announceBaseline(ctx, m)
	}
}

func (p *Poller) announceBaseline(ctx context.Context, m *dom.Monitor) {
	base := m.Baseline()
	for _, d := range []dom.Direction{dom.TX, dom.RX} {
		power := base.Get(d)
		if !power.Valid {
			continue
		}
		msg := fmt.Sprintf("%s: new %s base: %.4f", m.ID(), d.Label(), power.Value)
		p.send(ctx, p.info(m, msg, string(d)))
	}
}

func (p *Poller) info(m *dom.Monitor, msg, direction string) notify.Notification {
	return notify.Notification{
		Message:   msg,
		Severity:  notify.SeverityInfo,
		Uptime:    m.LastUptime(),
		Interface: m.ID(),
		Direction: direction,
		Time:      p.now(),
	}
}

func (p *Poller) send(ctx context.Context, n notify.Notification) {
	if err := p.notifier.Notify(ctx, n); err != nil {
		logger.Warn().Err(err).Str("interface", n.Interface).Msg("Notification delivery failed")
	}
}

// MonitoredIDs returns the sorted interface names that start with prefix.
func MonitoredIDs(links map[string]telemetry.LinkInfo, prefix string) []string {
	ids := lo.Filter(lo.Keys(links), func(id string, _ int) bool {
		return strings.HasPrefix(id, prefix)
	})
	slices.Sort(ids)
	return ids
}

func toReading(link telemetry.LinkInfo, xcvr telemetry.Transceiver) dom.Reading {
	return dom.Reading{
		TxPower:      power(xcvr.TxPower),
		RxPower:      power(xcvr.RxPower),
		VendorSerial: xcvr.VendorSerial,
		LinkUp:       link.Connected(),
	}
}

func power(m telemetry.Measurement) dom.Power {
	if !m.Ok() {
		return dom.NoMeasurement
	}
	return dom.Measured(m.Value)
}

// FailureKind labels a cycle error for metrics.
func FailureKind(err error) string {
	switch {
	case errors.HasCode(err, telemetry.ErrMalformedResponse):
		return metrics.FailureMalformed
	case telemetry.IsConnectivity(err):
		return metrics.FailureConnectivity
	case errors.HasCode(err, telemetry.ErrCommandRejected):
		return metrics.FailureRejected
	default:
		return metrics.FailureOther
	}
}
