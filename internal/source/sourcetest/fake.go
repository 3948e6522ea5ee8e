// Package sourcetest provides a scriptable Source for tests.
package sourcetest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/source"
)

var _ source.Source = (*Fake)(nil)

// Fake is an in-memory Source. Readings are looked up by metric ID; IDs
// without a scripted reading are skipped.
type Fake struct {
	addr address.Address

	mu         sync.Mutex
	started    bool
	startErr   error
	collectErr error
	panicValue any
	delay      time.Duration
	block      <-chan struct{}
	readings   map[string]models.Property
	onCollect  func(defs []models.MetricDefinition)

	starts   int
	collects int
	stops    int
}

// New creates a Fake for a.
func New(a address.Address) *Fake {
	return &Fake{addr: a, readings: make(map[string]models.Property)}
}

// Factory returns a source.Factory that hands out the given fakes by address
// and creates fresh ones for unknown addresses.
func Factory(fakes ...*Fake) source.Factory {
	byAddr := make(map[address.Address]*Fake, len(fakes))
	for _, f := range fakes {
		byAddr[f.addr] = f
	}
	return func(def models.MetricSourceDefinition, _ *zap.Logger) (source.Source, error) {
		if f, ok := byAddr[def.Address]; ok {
			return f, nil
		}
		return New(def.Address), nil
	}
}

// WithReading scripts a property returned for its name.
func (f *Fake) WithReading(p models.Property) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[p.Name] = p
	return f
}

// FailStart makes every Start return err until cleared with nil.
func (f *Fake) FailStart(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
	return f
}

// FailCollect makes every Collect return err until cleared with nil.
func (f *Fake) FailCollect(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectErr = err
	return f
}

// PanicOnCollect makes Collect panic with v.
func (f *Fake) PanicOnCollect(v any) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicValue = v
	return f
}

// Delay makes Collect wait d, or until its context is done.
func (f *Fake) Delay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// Block makes Collect wait until ch is closed, ignoring its context.
func (f *Fake) Block(ch <-chan struct{}) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = ch
	return f
}

// OnCollect registers a hook called at the start of every Collect.
func (f *Fake) OnCollect(fn func(defs []models.MetricDefinition)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCollect = fn
	return f
}

func (f *Fake) Address() address.Address { return f.addr }

func (f *Fake) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error) {
	f.mu.Lock()
	f.collects++
	delay, block, hook, pv, cerr := f.delay, f.block, f.onCollect, f.panicValue, f.collectErr
	f.mu.Unlock()

	if hook != nil {
		hook(defs)
	}
	if block != nil {
		<-block
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if pv != nil {
		panic(pv)
	}
	if cerr != nil {
		return nil, cerr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	props := make([]models.Property, 0, len(defs))
	for _, d := range defs {
		if p, ok := f.readings[d.ID]; ok {
			props = append(props, p)
		}
	}
	return props, nil
}

func (f *Fake) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.started = false
	return nil
}

// Starts returns how many times Start was called.
func (f *Fake) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Collects returns how many times Collect was called.
func (f *Fake) Collects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collects
}

// Stops returns how many times Stop was called.
func (f *Fake) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
