package telemetry

import "context"

// Source is the switch-side telemetry collaborator. Both calls are single
// round trips and may fail with a connectivity error.
type Source interface {
	// FetchLinkStatuses returns link information for every interface on the device.
	FetchLinkStatuses(ctx context.Context) (map[string]LinkInfo, error)

	// FetchTransceiverReadings returns optics for the given interfaces plus
	// the device uptime, in one batch.
	FetchTransceiverReadings(ctx context.Context, ids []string) (map[string]Transceiver, int64, error)
}

// LinkStatusConnected is the link status value of an interface that is up.
const LinkStatusConnected = "connected"

// LinkInfo is the per-interface summary from "show interfaces status".
type LinkInfo struct {
	Status        string
	Description   string
	InterfaceType string
	Bandwidth     int64
}

// Connected reports whether the link status is "connected"; anything else is down.
func (l LinkInfo) Connected() bool {
	return l.Status == LinkStatusConnected
}

// MeasurementState distinguishes a missing field from an explicit "N/A".
type MeasurementState int

const (
	Absent MeasurementState = iota
	NotApplicable
	Present
)

func (s MeasurementState) String() string {
	switch s {
	case Present:
		return "present"
	case NotApplicable:
		return "n/a"
	default:
		return "absent"
	}
}

// Measurement is one optional numeric transceiver field.
type Measurement struct {
	Value float64
	State MeasurementState
}

// Ok reports whether the measurement carries a value.
func (m Measurement) Ok() bool {
	return m.State == Present
}

// Transceiver is the per-interface DOM data from "show interfaces transceiver".
type Transceiver struct {
	TxPower      Measurement
	RxPower      Measurement
	TxBias       Measurement
	Temperature  Measurement
	Voltage      Measurement
	VendorSerial string
	MediaType    string
}
