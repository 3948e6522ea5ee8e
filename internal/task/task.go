// Package task implements the periodic collection task: one run queries
// every configured source, consolidates the readings into a single event and
// hands it to the event queue.
package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/dispatch"
	"github.com/Guliveer/databot/internal/event"
	"github.com/Guliveer/databot/internal/failure"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/queue"
	"github.com/Guliveer/databot/internal/source"
	"github.com/Guliveer/databot/internal/telemetry"
)

// EventQueue is the producer side of the hand-off queue.
type EventQueue interface {
	Offer(ev *event.MultiSourceReading) error
	Len() int
}

// Host is the orchestrator as seen by the task.
type Host interface {
	ID() string
	// SourceAddresses returns the configured source addresses in
	// configuration order.
	SourceAddresses() []address.Address
	MetricDefinitions(a address.Address) []models.MetricDefinition
	MetricSource(a address.Address) (*source.Handle, bool)
	Pool() dispatch.Pool
	EventQueue() EventQueue
	// CollectionTaskDone is called once the task reached its execution bound.
	CollectionTaskDone()
}

// Option configures a Task.
type Option func(*Task)

// WithLogger sets the task logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Task) { t.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Task) { t.metrics = m }
}

// WithMaxExecutions bounds the number of runs; see SetMaxExecutions.
func WithMaxExecutions(n int64) Option {
	return func(t *Task) { t.SetMaxExecutions(n) }
}

// Task is the collection task. Run is invoked by the scheduler.
type Task struct {
	host       Host
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	metrics    *telemetry.Metrics

	executions    atomic.Int64
	successes     atomic.Int64
	maxExecutions atomic.Int64
	running       atomic.Bool
	doneOnce      sync.Once

	mu          sync.Mutex
	lastFailure error
}

// New creates a task bound to host.
func New(host Host, opts ...Option) *Task {
	t := &Task{host: host, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("databot", host.ID()))
	t.dispatcher = dispatch.New(host.Pool(), t.logger, t.metrics)
	return t
}

// Run performs one collection run. It never panics and never returns an
// error: failures are logged and kept as the cause of the last failure.
// A Run started while another one is still in progress is refused.
func (t *Task) Run(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		t.logger.Warn("Previous collection run still in progress, skipping")
		return
	}
	defer t.running.Store(false)

	n := t.executions.Add(1)
	start := time.Now()
	t.logger.Info("Executing data collection run", zap.Int64("execution", n))

	err := t.safeCollectAndEnqueue(ctx)
	elapsed := time.Since(start)
	t.metrics.ObserveRun(elapsed, err)

	if err != nil {
		t.setLastFailure(err)
		t.logger.Error("Data collection run failed",
			zap.Duration("elapsed", elapsed),
			zap.String("failure", failure.LogMessage(err)),
			zap.Error(err))
	} else {
		t.successes.Add(1)
	}

	if limit, ok := t.MaxExecutions(); ok && n == limit {
		t.logger.Debug("Completed all executions, exiting", zap.Int64("executions", n))
		t.doneOnce.Do(t.host.CollectionTaskDone)
	}
}

func (t *Task) safeCollectAndEnqueue(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.FromPanic(r)
		}
	}()
	return t.collectAndEnqueue(ctx)
}

func (t *Task) collectAndEnqueue(ctx context.Context) error {
	ev, err := t.collect(ctx)
	if err != nil {
		t.logger.Debug("Discarding partial event", zap.String("event", ev.ID()))
		return err
	}

	q := t.host.EventQueue()
	t.logger.Debug("Placing event in queue",
		zap.String("event", ev.ID()),
		zap.Int("queue_len", q.Len()))
	if err := q.Offer(ev); err != nil {
		if errors.Is(err, queue.ErrFull) {
			return failure.Wrap(failure.QueueFull, err)
		}
		return failure.Wrap(failure.Unexpected, err)
	}
	t.metrics.SetQueueDepth(q.Len())
	return nil
}

func (t *Task) collect(ctx context.Context) (*event.MultiSourceReading, error) {
	addrs := t.host.SourceAddresses()
	reqs := make([]dispatch.Request, 0, len(addrs))
	for _, a := range addrs {
		req := dispatch.Request{Address: a, Definitions: t.host.MetricDefinitions(a)}
		if h, ok := t.host.MetricSource(a); ok {
			req.Source = h
		}
		reqs = append(reqs, req)
	}

	ev := event.New()
	failed, err := t.dispatcher.Dispatch(ctx, reqs, ev)
	if err != nil {
		return ev, err
	}

	t.logger.Debug("Collection completed",
		zap.Int("sources", len(reqs)),
		zap.Int("failed_sources", failed),
		zap.Int("properties", ev.AllPropertiesCount()),
		zap.Duration("elapsed", ev.Duration()))
	if ce := t.logger.Check(zapcore.DebugLevel, "Collected properties"); ce != nil && ev.AllPropertiesCount() > 0 {
		ce.Write(zap.String("properties", "\n"+ev.Describe()))
	}
	t.logger.Info("Completed data collection",
		zap.String("sources", sourceList(ev.SortedLiterals())),
		zap.Duration("elapsed", time.Since(ev.CollectionStart())))
	return ev, nil
}

func sourceList(literals []string) string {
	if len(literals) == 0 {
		return "zero sources"
	}
	return strings.Join(literals, ", ")
}

// ExecutionCount returns the number of runs started, failed ones included.
func (t *Task) ExecutionCount() int64 { return t.executions.Load() }

// SuccessfulExecutionCount returns the number of runs that enqueued an event.
func (t *Task) SuccessfulExecutionCount() int64 { return t.successes.Load() }

// CauseOfLastFailure returns the error of the most recent failed run, or nil.
// It is not cleared by later successful runs.
func (t *Task) CauseOfLastFailure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFailure
}

func (t *Task) setLastFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFailure = err
}

// MaxExecutions returns the execution bound, if any.
func (t *Task) MaxExecutions() (int64, bool) {
	n := t.maxExecutions.Load()
	return n, n > 0
}

// SetMaxExecutions bounds the number of runs. n <= 0 means unlimited.
func (t *Task) SetMaxExecutions(n int64) {
	if n < 0 {
		n = 0
	}
	t.maxExecutions.Store(n)
	if n == 0 {
		t.logger.Debug("Max executions set to unlimited")
		return
	}
	t.logger.Debug("Max executions set", zap.Int64("max_executions", n))
}
