// Package databot wires the collection engine together: the source
// registry, the worker pool, the collection task and its scheduler, the
// hand-off queue and the consumers. A DataBot owns all of them and drives
// their lifecycle.
package databot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/config"
	"github.com/Guliveer/databot/internal/consumer"
	"github.com/Guliveer/databot/internal/dispatch"
	"github.com/Guliveer/databot/internal/failure"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/platform"
	"github.com/Guliveer/databot/internal/queue"
	"github.com/Guliveer/databot/internal/scheduler"
	"github.com/Guliveer/databot/internal/source"
	"github.com/Guliveer/databot/internal/source/jboss"
	"github.com/Guliveer/databot/internal/source/jmx"
	"github.com/Guliveer/databot/internal/source/local"
	"github.com/Guliveer/databot/internal/task"
	"github.com/Guliveer/databot/internal/telemetry"
)

// Lifecycle states.
const (
	StateCreated  = "created"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

const defaultStopTimeout = 10 * time.Second

const (
	eventStart   = "start"
	eventStop    = "stop"
	eventStopped = "stopped"
)

// ErrNotRunning is returned by Start when the DataBot was already started.
var ErrNotRunning = errors.New("databot is not in the created state")

// ErrSourcesBusy is returned by Stop when a source query outlived the stop
// deadline and its source could not be stopped.
var ErrSourcesBusy = errors.New("metric sources still busy")

// Option customizes a DataBot.
type Option func(*DataBot)

// WithFactories replaces the source factory for the given types.
func WithFactories(f map[models.SourceType]source.Factory) Option {
	return func(d *DataBot) {
		for t, fn := range f {
			d.factories[t] = fn
		}
	}
}

// WithHandlers replaces the consumers built from the configuration.
func WithHandlers(h ...consumer.Handler) Option {
	return func(d *DataBot) { d.handlers = h }
}

// WithMetrics sets the Prometheus instrumentation shared by all components.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *DataBot) { d.metrics = m }
}

// WithPool replaces the bounded worker pool.
func WithPool(p dispatch.Pool) Option {
	return func(d *DataBot) { d.pool = p }
}

// WithID sets the DataBot identifier instead of a random UUID.
func WithID(id string) Option {
	return func(d *DataBot) { d.id = id }
}

// DataBot is the owning process of one collection engine.
type DataBot struct {
	id        string
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	factories map[models.SourceType]source.Factory
	handlers  []consumer.Handler

	queue     *queue.Queue
	pool      dispatch.Pool
	registry  *source.Registry
	addresses []address.Address
	metricsOf map[address.Address][]models.MetricDefinition
	task      *task.Task
	scheduler *scheduler.Scheduler
	consumers *consumer.Runner
	lifecycle *fsm.FSM

	startedAt      time.Time
	schedulerDone  chan struct{}
	consumerCancel context.CancelFunc
	done           chan struct{}
	doneOnce       sync.Once
	stopOnce       sync.Once
	stopErr        error
	mu             sync.Mutex
}

// New builds a DataBot from cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*DataBot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &DataBot{
		cfg: cfg,
		factories: map[models.SourceType]source.Factory{
			models.SourceTypeLocal: local.Factory(platform.New()),
			models.SourceTypeJMX:   jmx.Factory(),
			models.SourceTypeJBoss: jboss.Factory(),
		},
		metricsOf: make(map[address.Address][]models.MetricDefinition),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		d.id = uuid.NewString()
	}
	d.logger = logger.With(zap.String("databot", d.id))

	if err := d.buildSources(); err != nil {
		return nil, err
	}

	d.queue = queue.New(cfg.Collection.QueueCapacity)
	if d.pool == nil {
		d.pool = dispatch.NewPool(cfg.Collection.Workers, d.logger.Named("pool"))
	}

	d.task = task.New(d,
		task.WithLogger(d.logger.Named("task")),
		task.WithMetrics(d.metrics),
		task.WithMaxExecutions(int64(cfg.Collection.MaxExecutions)))
	d.scheduler = scheduler.New(cfg.Collection.Interval.Duration, d.task, d.logger.Named("scheduler"),
		scheduler.WithRunTimeout(cfg.Collection.RunTimeout.Duration))

	if d.handlers == nil {
		handlers, err := buildHandlers(cfg.Consumers, d.id, d.logger)
		if err != nil {
			return nil, err
		}
		d.handlers = handlers
	}
	mode, err := consumer.ParseMode(cfg.Collection.ConsumerMode)
	if err != nil {
		return nil, err
	}
	d.consumers = consumer.NewRunner(d.queue, d.handlers, mode, d.logger.Named("consumer"), d.metrics)

	d.lifecycle = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventStart, Src: []string{StateCreated}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateCreated, StateRunning}, Dst: StateStopping},
			{Name: eventStopped, Src: []string{StateStopping}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.logger.Debug("DataBot state changed", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return d, nil
}

// buildSources resolves metric definitions and creates one source per
// address that has at least one metric.
func (d *DataBot) buildSources() error {
	defs, err := d.cfg.SourceDefinitions()
	if err != nil {
		return err
	}
	metrics, err := d.cfg.MetricDefinitions()
	if err != nil {
		return err
	}
	for _, m := range metrics {
		if m.Address.IsLocal() && !local.Supports(m.ID) {
			return fmt.Errorf("unknown local metric %q", m.ID)
		}
		d.metricsOf[m.Address] = append(d.metricsOf[m.Address], m)
	}

	used := make([]models.MetricSourceDefinition, 0, len(defs))
	for _, def := range defs {
		if len(d.metricsOf[def.Address]) == 0 {
			d.logger.Warn("Metric source has no metrics and will not be queried",
				zap.String("name", def.Name),
				zap.String("address", def.Address.Literal()))
			continue
		}
		used = append(used, def)
	}

	d.registry, err = source.NewRegistry(used, d.factories, d.logger.Named("sources"))
	if err != nil {
		return err
	}
	d.addresses = d.registry.Addresses()
	return nil
}

// ID returns the DataBot identifier.
func (d *DataBot) ID() string { return d.id }

// SourceAddresses returns the queried source addresses in configuration order.
func (d *DataBot) SourceAddresses() []address.Address {
	out := make([]address.Address, len(d.addresses))
	copy(out, d.addresses)
	return out
}

// MetricDefinitions returns the metrics read from a.
func (d *DataBot) MetricDefinitions(a address.Address) []models.MetricDefinition {
	defs := d.metricsOf[a]
	out := make([]models.MetricDefinition, len(defs))
	copy(out, defs)
	return out
}

// MetricSource returns the source handle for a.
func (d *DataBot) MetricSource(a address.Address) (*source.Handle, bool) {
	return d.registry.Get(a)
}

// Pool returns the worker pool used by the dispatcher.
func (d *DataBot) Pool() dispatch.Pool { return d.pool }

// EventQueue returns the hand-off queue.
func (d *DataBot) EventQueue() task.EventQueue { return d.queue }

// Queue returns the hand-off queue with its consumer side.
func (d *DataBot) Queue() *queue.Queue { return d.queue }

// Task returns the collection task.
func (d *DataBot) Task() *task.Task { return d.task }

// Metrics returns the instrumentation, which may be nil.
func (d *DataBot) Metrics() *telemetry.Metrics { return d.metrics }

// State returns the lifecycle state.
func (d *DataBot) State() string { return d.lifecycle.Current() }

// Done is closed once the collection task reached its execution bound or
// the DataBot was stopped.
func (d *DataBot) Done() <-chan struct{} { return d.done }

// CollectionTaskDone stops scheduling further runs and closes Done. It is
// called by the task on the scheduler goroutine, so it must not wait for
// the scheduler.
func (d *DataBot) CollectionTaskDone() {
	d.logger.Info("Collection task completed all executions",
		zap.Int64("executions", d.task.ExecutionCount()),
		zap.Int64("successful", d.task.SuccessfulExecutionCount()))
	d.scheduler.Cancel()
	d.closeDone()
}

func (d *DataBot) closeDone() {
	d.doneOnce.Do(func() { close(d.done) })
}

// Start starts the consumers, optionally the sources, and the scheduler.
// It returns once everything is launched.
func (d *DataBot) Start(ctx context.Context) error {
	if err := d.lifecycle.Event(context.Background(), eventStart); err != nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, d.lifecycle.Current())
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	if err := d.consumers.Start(consumerCtx); err != nil {
		cancel()
		d.lifecycle.SetState(StateStopped)
		d.closeDone()
		return fmt.Errorf("start consumers: %w", err)
	}

	if d.cfg.Collection.EagerStart {
		d.registry.StartAll(ctx)
	}

	d.mu.Lock()
	d.startedAt = time.Now()
	d.consumerCancel = cancel
	d.schedulerDone = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.schedulerDone)
		d.scheduler.Start(context.Background())
	}()

	d.logger.Info("DataBot started",
		zap.Int("sources", len(d.addresses)),
		zap.Int("consumers", len(d.handlers)),
		zap.Duration("interval", d.scheduler.Interval()))
	return nil
}

// Stop shuts the DataBot down: it cancels scheduling and the run in
// progress, closes the queue, lets the consumers drain it until ctx is done,
// closes the consumers and stops the sources. Stop is idempotent.
func (d *DataBot) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { d.stopErr = d.stop(ctx) })
	return d.stopErr
}

func (d *DataBot) stop(ctx context.Context) error {
	if d.lifecycle.Is(StateStopped) {
		return nil
	}
	wasRunning := d.lifecycle.Is(StateRunning)
	if err := d.lifecycle.Event(context.Background(), eventStop); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	d.logger.Info("Stopping DataBot")

	var errs error
	d.scheduler.Cancel()
	d.queue.Close()

	if wasRunning {
		d.mu.Lock()
		schedulerDone, consumerCancel := d.schedulerDone, d.consumerCancel
		d.mu.Unlock()

		if !waitFor(ctx, func() { <-schedulerDone }) {
			errs = multierr.Append(errs, failure.Wrap(failure.Cancelled, fmt.Errorf("collection run did not stop: %w", ctx.Err())))
		}
		if !waitFor(ctx, d.consumers.Wait) {
			d.logger.Warn("Consumers did not drain the queue in time",
				zap.Int("remaining", d.queue.Len()))
			consumerCancel()
			d.consumers.Wait()
		}
		consumerCancel()
	}

	errs = multierr.Append(errs, d.consumers.Close())
	if bp, ok := d.pool.(*dispatch.BoundedPool); ok && !waitFor(ctx, bp.Wait) {
		d.logger.Warn("Source queries still running at shutdown")
	}
	// A source stuck in a query holds its handle; leave it behind once the
	// deadline has passed.
	var stopSourcesErr error
	if waitFor(ctx, func() { stopSourcesErr = d.registry.StopAll(ctx) }) {
		errs = multierr.Append(errs, stopSourcesErr)
	} else {
		d.logger.Warn("Metric sources still busy at shutdown, not stopped")
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrSourcesBusy, ctx.Err()))
	}

	if err := d.lifecycle.Event(context.Background(), eventStopped); err != nil {
		errs = multierr.Append(errs, err)
	}
	d.closeDone()
	d.logger.Info("DataBot stopped",
		zap.Int64("executions", d.task.ExecutionCount()),
		zap.Int64("successful", d.task.SuccessfulExecutionCount()))
	return errs
}

// Run starts the DataBot and blocks until ctx is cancelled or the execution
// bound is reached, then stops it within the configured stop timeout.
func (d *DataBot) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		d.logger.Info("Shutdown requested")
	case <-d.done:
	}

	timeout := d.cfg.Collection.StopTimeout.Duration
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// waitFor runs fn and reports whether it returned before ctx was done.
func waitFor(ctx context.Context, fn func()) bool {
	ch := make(chan struct{})
	go func() {
		fn()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}
