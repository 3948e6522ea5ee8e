package source

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

// Factory creates a Source for a definition.
type Factory func(def models.MetricSourceDefinition, logger *zap.Logger) (Source, error)

// Registry owns one Handle per configured address, in definition order.
type Registry struct {
	handles   map[address.Address]*Handle
	addresses []address.Address
	logger    *zap.Logger
}

// NewRegistry creates a source for every definition using the factory
// registered for its type. Two definitions sharing an address are rejected.
func NewRegistry(defs []models.MetricSourceDefinition, factories map[models.SourceType]Factory, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		handles: make(map[address.Address]*Handle, len(defs)),
		logger:  logger,
	}

	for _, def := range defs {
		if _, dup := r.handles[def.Address]; dup {
			return nil, fmt.Errorf("source %q: address %s is already registered", def.Name, def.Address)
		}
		factory, ok := factories[def.Type]
		if !ok {
			return nil, fmt.Errorf("source %q: unsupported source type %q", def.Name, def.Type)
		}
		src, err := factory(def, logger.With(zap.String("address", def.Address.Literal())))
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", def.Name, err)
		}
		r.handles[def.Address] = NewHandle(src)
		r.addresses = append(r.addresses, def.Address)
		r.logger.Info("Registered metric source",
			zap.String("name", def.Name),
			zap.String("type", string(def.Type)),
			zap.String("address", def.Address.Literal()))
	}
	return r, nil
}

// Get returns the handle for a, if any.
func (r *Registry) Get(a address.Address) (*Handle, bool) {
	h, ok := r.handles[a]
	return h, ok
}

// Addresses returns the registered addresses in definition order.
func (r *Registry) Addresses() []address.Address {
	out := make([]address.Address, len(r.addresses))
	copy(out, r.addresses)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int { return len(r.addresses) }

// StartAll starts every source. Failures are logged and left for the first
// collection run to retry.
func (r *Registry) StartAll(ctx context.Context) {
	for _, a := range r.addresses {
		if err := r.handles[a].Start(ctx); err != nil {
			r.logger.Warn("Metric source failed to start, will retry on next run",
				zap.String("address", a.Literal()),
				zap.Error(err))
		}
	}
}

// StopAll stops every started source and returns the combined errors.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs error
	for _, a := range r.addresses {
		if err := r.handles[a].Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", a, err))
		}
	}
	return errs
}
