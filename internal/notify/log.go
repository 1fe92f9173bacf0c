package notify

import (
	"context"

	"codeberg.org/mutker/domwatch/internal/logger"
)

// Log writes notifications to the process logger.
type Log struct{}

func NewLog() *Log {
	return &Log{}
}

func (*Log) Notify(_ context.Context, n Notification) error {
	var event *logger.LogEvent
	switch n.Severity {
	case SeverityDebug:
		event = logger.Debug()
	case SeverityWarning:
		event = logger.Warn()
	case SeverityError:
		event = logger.Error()
	default:
		event = logger.Info()
	}

	if n.Interface != "" {
		event.Str("interface", n.Interface)
	}
	if n.Direction != "" {
		event.Str("direction", n.Direction)
	}
	if n.Uptime != 0 {
		event.Int64("uptime", n.Uptime)
	}
	event.Msg(n.Message)

	return nil
}

func (*Log) Args() []string {
	return []string{"log"}
}

func (*Log) Close() error {
	return nil
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error { return nil }
func (Noop) Args() []string                             { return nil }
func (Noop) Close() error                               { return nil }
