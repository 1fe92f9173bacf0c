package dom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayout formats timestamps in alert text.
const TimeLayout = "2006-01-02 15:04:05"

// Alert describes one direction of one interface leaving its tolerance band.
type Alert struct {
	Direction    Direction
	Interface    string
	VendorSerial string
	Baseline     float64
	BaselineTime time.Time
	Value        float64
	Time         time.Time
	Uptime       int64
}

// Delta is the signed drift from baseline, rounded to 4 decimal places.
func (a Alert) Delta() float64 {
	return round4(a.Value - a.Baseline)
}

// Code is the event tag that prefixes the alert text.
func (a Alert) Code() string {
	return "TRANSCEIVER_" + a.Direction.Label() + "_POWER_CHANGE"
}

func (a Alert) String() string {
	return fmt.Sprintf("%s, %s (%s) %s power level has changed by %s dBm from baseline %s dBm (%s) to %s dBm (%s)",
		a.Code(),
		a.Interface,
		strings.TrimSpace(a.VendorSerial),
		a.Direction.Label(),
		formatDBm(a.Delta()),
		formatDBm(round4(a.Baseline)),
		a.BaselineTime.Format(TimeLayout),
		formatDBm(round4(a.Value)),
		a.Time.Format(TimeLayout),
	)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func formatDBm(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
