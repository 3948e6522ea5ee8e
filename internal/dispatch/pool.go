package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Guliveer/databot/internal/failure"
)

// Pool runs submitted units of work. Submit never blocks the caller; units
// in excess of the pool's capacity wait inside the pool.
type Pool interface {
	// Submit schedules fn. If ctx is done before fn gets to run, fn is
	// dropped.
	Submit(ctx context.Context, fn func())
}

// DefaultWorkers is used when a non-positive worker count is requested.
const DefaultWorkers = 5

// BoundedPool runs at most a fixed number of units concurrently.
type BoundedPool struct {
	sem    *semaphore.Weighted
	size   int
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a pool running at most workers units at a time.
func NewPool(workers int, logger *zap.Logger) *BoundedPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoundedPool{
		sem:    semaphore.NewWeighted(int64(workers)),
		size:   workers,
		logger: logger,
	}
}

// Size returns the concurrency limit.
func (p *BoundedPool) Size() int { return p.size }

// Submit schedules fn on its own goroutine once a slot is free.
func (p *BoundedPool) Submit(ctx context.Context, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		runGuarded(fn, p.logger)
	}()
}

// Wait blocks until every submitted unit has finished or been dropped.
func (p *BoundedPool) Wait() {
	p.wg.Wait()
}

// Synchronous runs every unit inline on the caller's goroutine.
type Synchronous struct{}

// Submit runs fn immediately unless ctx is already done.
func (Synchronous) Submit(ctx context.Context, fn func()) {
	if ctx.Err() != nil {
		return
	}
	runGuarded(fn, zap.NewNop())
}

func runGuarded(fn func(), logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic in pool worker", zap.Error(failure.FromPanic(r)))
		}
	}()
	fn()
}
