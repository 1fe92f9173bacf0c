// Package dom tracks optical transceiver power per interface and decides when
// a reading has drifted far enough from its learned baseline to alert.
package dom

import (
	"strings"
	"time"
)

// Direction is one optical power direction of a transceiver.
type Direction string

const (
	RX Direction = "rx"
	TX Direction = "tx"
)

// Directions lists the directions in the order they are evaluated.
var Directions = []Direction{RX, TX}

// Label returns the upper-case form used in alert text.
func (d Direction) Label() string {
	return strings.ToUpper(string(d))
}

// Power is an optional power level in dBm. The zero value means no measurement.
type Power struct {
	Value float64
	Valid bool
}

// Measured returns a valid Power.
func Measured(dbm float64) Power {
	return Power{Value: dbm, Valid: true}
}

// NoMeasurement is an absent or not-applicable power level.
var NoMeasurement = Power{}

// Reading is a snapshot of one interface's optics for one poll.
type Reading struct {
	TxPower      Power
	RxPower      Power
	VendorSerial string
	LinkUp       bool
}

// Power returns the reading's power level for the given direction.
func (r Reading) Power(d Direction) Power {
	if d == TX {
		return r.TxPower
	}
	return r.RxPower
}

// Baseline holds the reference power level per direction.
type Baseline struct {
	RX Power
	TX Power
}

func (b Baseline) Get(d Direction) Power {
	if d == TX {
		return b.TX
	}
	return b.RX
}

func (b *Baseline) set(d Direction, p Power) {
	if d == TX {
		b.TX = p
		return
	}
	b.RX = p
}

// Settings are the drift detection parameters shared by every monitor.
type Settings struct {
	// Tolerance is the half-width in dB of the band around baseline.
	Tolerance float64
	// RebaseLimit is the number of consecutive alerting polls after which
	// the baseline is recomputed. Zero disables rebasing.
	RebaseLimit int
	// CumulativeAverage blends each reading into the baseline as a running mean.
	CumulativeAverage bool
	// ZeroIsUnset treats a 0 dBm baseline as absent.
	ZeroIsUnset bool
}

const (
	DefaultTolerance   = 3.0
	DefaultRebaseLimit = 3
)

func DefaultSettings() Settings {
	return Settings{
		Tolerance:   DefaultTolerance,
		RebaseLimit: DefaultRebaseLimit,
		ZeroIsUnset: true,
	}
}

// State is the link state a monitor is tracking.
type State int

const (
	StateDown State = iota
	StateUp
)

func (s State) String() string {
	if s == StateUp {
		return "up"
	}
	return "down"
}

// Event reports what happened to a monitor's baseline during one observation.
type Event int

const (
	EventNone Event = iota
	EventBaselineComputed
	EventLinkDown
	EventRebased
)

func (e Event) String() string {
	switch e {
	case EventBaselineComputed:
		return "baseline_computed"
	case EventLinkDown:
		return "link_down"
	case EventRebased:
		return "rebased"
	default:
		return "none"
	}
}

// Outcome is the result of one observation.
type Outcome struct {
	Event  Event
	Alerts []Alert
}

// Clock returns the current time.
type Clock func() time.Time
