// Package source defines the MetricSource abstraction and keeps exactly one
// live source instance per address.
package source

import (
	"context"
	"sync"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

// Source is an endpoint capable of producing properties for metric
// definitions. Implementations need not be safe for concurrent use; the
// Handle wrapping them serializes every call.
type Source interface {
	// Address returns the endpoint this source reads from.
	Address() address.Address

	// Start connects or otherwise prepares the source for collection.
	Start(ctx context.Context) error

	// Started reports whether Start has succeeded and Stop was not called.
	Started() bool

	// Collect reads the given definitions in one bulk operation. The
	// returned properties are named after the definition IDs.
	Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error)

	// Stop releases any resources held by the source.
	Stop(ctx context.Context) error
}

// Handle serializes access to a Source so that start, collect and stop on
// the same endpoint never overlap.
type Handle struct {
	mu  sync.Mutex
	src Source
}

// NewHandle wraps src.
func NewHandle(src Source) *Handle {
	return &Handle{src: src}
}

// Address returns the wrapped source's address.
func (h *Handle) Address() address.Address {
	return h.src.Address()
}

// Started reports whether the wrapped source is started.
func (h *Handle) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.src.Started()
}

// Start starts the source unless it is already started.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.src.Started() {
		return nil
	}
	return h.src.Start(ctx)
}

// Collect reads defs from the source. The caller is expected to start the
// source first.
func (h *Handle) Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.src.Collect(ctx, defs)
}

// Stop stops the source if it is started.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.src.Started() {
		return nil
	}
	return h.src.Stop(ctx)
}

// Unwrap returns the wrapped source.
func (h *Handle) Unwrap() Source {
	return h.src
}
