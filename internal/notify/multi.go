package notify

import (
	"context"
	"strings"

	"codeberg.org/mutker/domwatch/internal/errors"
)

// Multi fans a notification out to every sink. A failing sink does not stop
// delivery to the others.
type Multi struct {
	sinks []Notifier
}

func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Args lists each sink's rendering, one element per sink.
func (m *Multi) Args() []string {
	args := make([]string, 0, len(m.sinks))
	for _, sink := range m.sinks {
		if a := sink.Args(); len(a) > 0 {
			args = append(args, strings.Join(a, " "))
		}
	}
	return args
}

func (m *Multi) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Options selects the sinks assembled by Build.
type Options struct {
	Syslog bool
	SNMP   bool
	Trap   TrapConfig
	// Extra sinks are appended after the built-in ones.
	Extra []Notifier
}

// Build assembles the configured sinks. The log sink is always present.
func Build(opts Options) (*Multi, error) {
	sinks := []Notifier{NewLog()}

	if opts.Syslog {
		s, err := NewSyslog("", "")
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if opts.SNMP {
		t, err := NewTrap(opts.Trap)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, t)
	}

	sinks = append(sinks, opts.Extra...)

	return NewMulti(sinks...), nil
}

func closeAll(sinks []Notifier) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
