// Package scheduler drives the periodic checkpoint keeper.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every tick.
type TickFunc func(ctx context.Context, at time.Time) error

// BoundaryFunc returns the first boundary strictly after t.
type BoundaryFunc func(t time.Time) time.Time

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunAtStart fires one tick before waiting for the first interval.
	RunAtStart bool
	// Boundary adds ticks at ledger epoch boundaries that fall between
	// interval ticks, so a crossed boundary is checkpointed promptly.
	Boundary BoundaryFunc
}

// Scheduler fires ticks on a fixed interval and at epoch boundaries.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// tick is a planned firing. Boundary ticks report the boundary itself.
type tick struct {
	at       time.Time
	boundary bool
}

// Run blocks, invoking fn on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, fn TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunAtStart {
		s.fire(ctx, fn, time.Now().UTC())
	}

	next := s.plan(time.Now().UTC())
	for {
		delay := time.Until(next.at)
		if delay < 0 {
			next = s.plan(time.Now().UTC())
			delay = time.Until(next.at)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next.at).Bool("boundary", next.boundary).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		at := next.at
		if !next.boundary {
			at = s.bucketStart(at)
		}
		s.fire(ctx, fn, at)
		next = s.plan(next.at)
	}
}

func (s *Scheduler) fire(ctx context.Context, fn TickFunc, at time.Time) {
	s.logger.Info().Time("at", at).Msg("executing scheduled tick")
	if err := fn(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

// plan picks the earlier of the next interval tick and the next boundary.
func (s *Scheduler) plan(now time.Time) tick {
	next := tick{at: s.nextTick(now)}
	if s.opts.Boundary != nil {
		if b := s.opts.Boundary(now); b.After(now) && b.Before(next.at) {
			next = tick{at: b, boundary: true}
		}
	}
	return next
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
