// Package scheduler drives the collection task on a fixed interval. Runs
// happen on the scheduler goroutine, so they never overlap; ticks that fire
// while a run is still in progress are dropped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is the periodic unit of work.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunTimeout bounds each run. Zero means runs are only bounded by
// cancellation.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

// Scheduler invokes a Runner immediately and then on every interval tick.
type Scheduler struct {
	interval   time.Duration
	runner     Runner
	logger     *zap.Logger
	runTimeout time.Duration

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

// New creates a scheduler for runner.
func New(interval time.Duration, runner Runner, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		interval: interval,
		runner:   runner,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop. It blocks until ctx is cancelled or Cancel is called;
// the run in progress at that time sees its context cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))

	// Do an initial run immediately
	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.run(ctx)
		}
	}
}

// Cancel stops the loop and cancels the run in progress. A later Start
// returns immediately.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Interval returns the sampling interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

func (s *Scheduler) run(ctx context.Context) {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	s.runner.Run(ctx)
}
