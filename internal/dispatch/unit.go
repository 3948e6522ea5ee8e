package dispatch

import (
	"context"
	"errors"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/failure"
	"github.com/Guliveer/databot/internal/models"
)

// Target is the source side of a query unit. *source.Handle implements it.
type Target interface {
	Started() bool
	Start(ctx context.Context) error
	Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error)
}

var errNoSource = errors.New("no metric source registered for address")

// QueryUnit starts one source if needed and bulk-collects its definitions.
// It never stops the source.
type QueryUnit struct {
	Address     address.Address
	Source      Target
	Definitions []models.MetricDefinition
}

// Run executes the unit. Every error, including a recovered panic, is
// returned as a failure.Error tagged with the phase it happened in.
func (u QueryUnit) Run(ctx context.Context) (props []models.Property, err error) {
	kind := failure.SourceStart
	defer func() {
		if r := recover(); r != nil {
			props = nil
			err = failure.WrapSource(kind, u.Address, failure.FromPanic(r))
		}
	}()

	if u.Source == nil {
		return nil, failure.WrapSource(kind, u.Address, errNoSource)
	}
	if !u.Source.Started() {
		if err := u.Source.Start(ctx); err != nil {
			return nil, failure.WrapSource(kind, u.Address, err)
		}
	}

	kind = failure.SourceCollect
	props, err = u.Source.Collect(ctx, u.Definitions)
	if err != nil {
		return nil, failure.WrapSource(kind, u.Address, err)
	}
	return props, nil
}
