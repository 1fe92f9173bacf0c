package poller

import (
	"context"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/logger"
	"codeberg.org/mutker/domwatch/internal/telemetry"
)

// Cycle is one unit of scheduled work.
type Cycle interface {
	RunOnce(ctx context.Context) error
}

// Scheduler runs a Cycle, then waits for the interval, until the context is
// canceled or a cycle fails for good. Cycles never overlap.
type Scheduler struct {
	cycle    Cycle
	interval time.Duration
	// maxFailures is the number of consecutive connectivity failures
	// tolerated before Run gives up. Zero means never.
	maxFailures int
}

func NewScheduler(cycle Cycle, interval time.Duration, maxConnectivityFailures int) *Scheduler {
	return &Scheduler{
		cycle:       cycle,
		interval:    interval,
		maxFailures: maxConnectivityFailures,
	}
}

// Run returns nil when ctx is canceled. Connectivity failures are logged and
// retried on the next interval until maxFailures is reached; any other cycle
// error is returned immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	errFactory := errors.New()
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.cycle.RunOnce(ctx)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return nil
		case telemetry.IsConnectivity(err):
			failures++
			logger.Error().Err(err).
				Str("error_code", string(errors.CodeOf(err))).
				Int("consecutive_failures", failures).
				Int("max_failures", s.maxFailures).
				Msg("Device unreachable")
			if s.maxFailures > 0 && failures >= s.maxFailures {
				return errFactory.Wrap(errors.ErrPollCycle, err)
			}
		default:
			return errFactory.Wrap(errors.ErrPollCycle, err)
		}

		logger.Debug().Dur("interval", s.interval).Msg("Sleeping until next poll")

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
