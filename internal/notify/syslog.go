package notify

import (
	"context"
	"log/syslog"

	"codeberg.org/mutker/domwatch/internal/errors"
)

const syslogTag = "domwatch"

// Syslog forwards notifications to the system logger under the daemon facility.
type Syslog struct {
	writer  *syslog.Writer
	network string
	raddr   string
}

// NewSyslog connects to the syslog daemon at raddr over network. Empty
// arguments select the local daemon.
func NewSyslog(network, raddr string) (*Syslog, error) {
	w, err := syslog.Dial(network, raddr, syslog.LOG_INFO|syslog.LOG_DAEMON, syslogTag)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInitFailed, err).WithMessage("Failed to initialize syslog")
	}

	return &Syslog{writer: w, network: network, raddr: raddr}, nil
}

func (s *Syslog) Notify(_ context.Context, n Notification) error {
	var err error
	switch n.Severity {
	case SeverityDebug:
		err = s.writer.Debug(n.Message)
	case SeverityWarning:
		err = s.writer.Warning(n.Message)
	case SeverityError:
		err = s.writer.Err(n.Message)
	default:
		err = s.writer.Info(n.Message)
	}
	if err != nil {
		return errors.New().Wrap(errors.ErrNotifyFailed, err)
	}

	return nil
}

func (s *Syslog) Args() []string {
	args := []string{"logger", "-t", syslogTag, "-p", "daemon.info"}
	if s.raddr != "" {
		args = append(args, "-n", s.raddr)
		if s.network == "udp" {
			args = append(args, "-d")
		}
	}
	return args
}

func (s *Syslog) Close() error {
	return s.writer.Close()
}
