// Package notify delivers drift alerts and baseline events to operators.
package notify

import (
	"context"
	"strings"
	"time"
)

// Severity orders notifications the way syslog priorities do.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity is the inverse of Severity.String, case-insensitive.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return SeverityDebug, true
	case "INFO":
		return SeverityInfo, true
	case "WARNING", "WARN":
		return SeverityWarning, true
	case "ERROR":
		return SeverityError, true
	default:
		return SeverityInfo, false
	}
}

// Notification is one message handed to the notification sinks. Interface
// and Direction are empty for messages not tied to an optic.
type Notification struct {
	Message   string
	Severity  Severity
	Uptime    int64
	Interface string
	Direction string
	Time      time.Time
}

// Notifier is a notification sink. Notify is fire-and-forget from the
// caller's point of view: errors are reported, never retried.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	// Args renders the sink as an equivalent command line, secrets masked.
	Args() []string
	Close() error
}
