// Package dispatch fans a collection run out to its metric sources. One
// query unit per source address is submitted to a Pool; results are awaited
// in configuration order and recorded on an aggregator.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/failure"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/telemetry"
)

// Aggregator receives per-source readings. *event.MultiSourceReading
// implements it.
type Aggregator interface {
	AddSourceReading(a address.Address, props []models.Property)
}

// Request is one source to query during a run.
type Request struct {
	Address     address.Address
	Source      Target
	Definitions []models.MetricDefinition
}

// Dispatcher submits query units to a Pool and collects their results.
type Dispatcher struct {
	pool    Pool
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New creates a dispatcher. metrics may be nil.
func New(pool Pool, logger *zap.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pool: pool, logger: logger, metrics: metrics}
}

type result struct {
	props []models.Property
	err   error
}

// Dispatch queries every request's source and records one reading per
// request on agg, in request order. A failed source contributes an empty
// reading and counts towards failed. When ctx is done before all results
// are in, the remaining addresses get empty readings and a Cancelled
// failure is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []Request, agg Aggregator) (failed int, err error) {
	pending := make([]chan result, len(reqs))
	for i, req := range reqs {
		ch := make(chan result, 1)
		pending[i] = ch
		unit := QueryUnit{Address: req.Address, Source: req.Source, Definitions: req.Definitions}
		d.pool.Submit(ctx, func() {
			props, err := unit.Run(ctx)
			ch <- result{props: props, err: err}
		})
	}

	for i, req := range reqs {
		r, ok := await(ctx, pending[i])
		if !ok {
			d.logger.Warn("Collection cancelled while awaiting sources",
				zap.Int("pending", len(reqs)-i),
				zap.Error(ctx.Err()))
			for _, rest := range reqs[i:] {
				agg.AddSourceReading(rest.Address, nil)
			}
			return failed, failure.Wrap(failure.Cancelled, ctx.Err())
		}
		if r.err != nil {
			failed++
			d.logger.Error("Failed to collect metrics from source",
				zap.String("address", req.Address.Literal()),
				zap.String("failure", failure.LogMessage(r.err)),
				zap.Error(r.err))
			d.metrics.SourceFailed(req.Address, failure.KindOf(r.err))
			agg.AddSourceReading(req.Address, nil)
			continue
		}
		d.metrics.PropertiesCollected(len(r.props))
		agg.AddSourceReading(req.Address, r.props)
	}
	if err := ctx.Err(); err != nil {
		return failed, failure.Wrap(failure.Cancelled, err)
	}
	return failed, nil
}

// await returns the unit result, preferring one that is already available
// over a done context. It reports false when ctx finished first.
func await(ctx context.Context, ch <-chan result) (result, bool) {
	select {
	case r := <-ch:
		return r, true
	default:
	}
	select {
	case r := <-ch:
		return r, true
	case <-ctx.Done():
		return result{}, false
	}
}
