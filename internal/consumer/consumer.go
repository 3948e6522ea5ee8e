// Package consumer drains collected events from the hand-off queue and
// hands them to consumer implementations (CSV file, SQLite, HTTP sink).
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/event"
	"github.com/Guliveer/databot/internal/failure"
	"github.com/Guliveer/databot/internal/queue"
	"github.com/Guliveer/databot/internal/telemetry"
)

// Handler processes collected events.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev *event.MultiSourceReading) error
	Close() error
}

// Starter is implemented by handlers that need to prepare before the first
// event, e.g. to flush data left over from a previous run.
type Starter interface {
	Start(ctx context.Context) error
}

// Taker is the consumer side of the hand-off queue.
type Taker interface {
	Take(ctx context.Context) (*event.MultiSourceReading, error)
	Len() int
}

// Mode selects how events are distributed between handlers.
type Mode string

const (
	// Broadcast delivers every event to every handler, in handler order.
	Broadcast Mode = "broadcast"
	// Compete lets handlers take events from the queue independently;
	// each event reaches exactly one handler.
	Compete Mode = "compete"
)

// ParseMode validates a mode name. The empty string selects Broadcast.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Broadcast:
		return Broadcast, nil
	case Compete:
		return Compete, nil
	default:
		return "", fmt.Errorf("unknown consumer mode %q (want %s or %s)", s, Broadcast, Compete)
	}
}

// Runner runs the drain loops.
type Runner struct {
	queue    Taker
	handlers []Handler
	mode     Mode
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	wg sync.WaitGroup
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(q Taker, handlers []Handler, mode Mode, logger *zap.Logger, metrics *telemetry.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = Broadcast
	}
	return &Runner{queue: q, handlers: handlers, mode: mode, logger: logger, metrics: metrics}
}

// Handlers returns the configured handlers.
func (r *Runner) Handlers() []Handler {
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Start prepares the handlers and launches the drain loops. The loops run
// until the queue is closed and drained or ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	var errs error
	for _, h := range r.handlers {
		if s, ok := h.(Starter); ok {
			if err := s.Start(ctx); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("start consumer %s: %w", h.Name(), err))
			}
		}
	}
	if errs != nil {
		return errs
	}
	if len(r.handlers) == 0 {
		r.logger.Warn("No consumers configured, collected events will stay in the queue")
		return nil
	}

	switch r.mode {
	case Compete:
		for _, h := range r.handlers {
			r.spawn(ctx, []Handler{h})
		}
	default:
		r.spawn(ctx, r.handlers)
	}
	r.logger.Info("Consumers started",
		zap.Int("consumers", len(r.handlers)),
		zap.String("mode", string(r.mode)))
	return nil
}

func (r *Runner) spawn(ctx context.Context, handlers []Handler) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drain(ctx, handlers)
	}()
}

func (r *Runner) drain(ctx context.Context, handlers []Handler) {
	for {
		ev, err := r.queue.Take(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				r.logger.Error("Failed to take event from queue", zap.Error(err))
			}
			return
		}
		r.metrics.SetQueueDepth(r.queue.Len())
		for _, h := range handlers {
			r.deliver(ctx, h, ev)
		}
	}
}

// deliver hands ev to h. Handler errors and panics are logged; the loop
// keeps going.
func (r *Runner) deliver(ctx context.Context, h Handler, ev *event.MultiSourceReading) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = failure.FromPanic(rec)
			}
		}()
		return h.Handle(ctx, ev)
	}()
	r.metrics.EventConsumed(h.Name(), err)
	if err != nil {
		r.logger.Error("Consumer failed to handle event",
			zap.String("consumer", h.Name()),
			zap.String("event", ev.ID()),
			zap.Error(err))
	}
}

// Wait blocks until every drain loop has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close closes every handler. Call it after Wait.
func (r *Runner) Close() error {
	var errs error
	for _, h := range r.handlers {
		if err := h.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close consumer %s: %w", h.Name(), err))
		}
	}
	return errs
}
