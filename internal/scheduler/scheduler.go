package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval with the tick time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	Clock        clockwork.Clock
}

// Scheduler drives periodic maintenance jobs such as journal retention.
type Scheduler struct {
	opts   Options
	clock  clockwork.Clock
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		opts:   opts,
		clock:  opts.Clock,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks, invoking tick at each interval until ctx is cancelled.
// Tick errors are logged and do not stop the schedule.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextTick(s.clock.Now().UTC())
	for {
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			next = s.nextTick(s.clock.Now().UTC())
			delay = next.Sub(s.clock.Now())
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		at := s.tickStart(next)
		s.logger.Debug().Time("at", at).Msg("executing scheduled tick")

		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) tickStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
