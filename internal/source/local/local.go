// Package local implements the metric source for the local operating
// system. Readings come from gopsutil; GPU temperature falls back to the
// platform layer.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/platform"
	"github.com/Guliveer/databot/internal/source"
)

// reader produces the property for one metric ID from a sample.
type reader func(s *sample, id string) (models.Property, error)

// readers maps every supported metric ID to its reader.
var readers = map[string]reader{}

func register(r reader, ids ...string) {
	for _, id := range ids {
		readers[id] = r
	}
}

// Supports reports whether id names a local OS metric.
func Supports(id string) bool {
	_, ok := readers[id]
	return ok
}

// MetricIDs returns the supported metric IDs, sorted.
func MetricIDs() []string {
	ids := make([]string, 0, len(readers))
	for id := range readers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Source reads metrics from the local OS.
type Source struct {
	platform platform.Platform
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	info    *host.InfoStat

	// previous readings for delta based metrics
	prevCPU *cpuTimes
	prevNet *netCounters
}

var _ source.Source = (*Source)(nil)

// New creates a local OS source. p may be nil to disable platform fallbacks.
func New(p platform.Platform, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{platform: p, logger: logger}
}

// Factory returns a source.Factory creating local sources.
func Factory(p platform.Platform) source.Factory {
	return func(def models.MetricSourceDefinition, logger *zap.Logger) (source.Source, error) {
		if !def.Address.IsLocal() {
			return nil, fmt.Errorf("local source cannot serve address %s", def.Address)
		}
		return New(p, logger), nil
	}
}

// Address returns the local address.
func (s *Source) Address() address.Address { return address.Local() }

// Start caches host information. It fails only if the host cannot be
// described at all.
func (s *Source) Start(ctx context.Context) error {
	info, err := host.InfoWithContext(ctx)
	if info == nil {
		return fmt.Errorf("read host info: %w", err)
	}
	if err != nil {
		s.logger.Debug("Host information is incomplete", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.started = true
	s.logger.Info("Local metric source started",
		zap.String("hostname", info.Hostname),
		zap.String("os", info.Platform),
		zap.String("os_version", info.PlatformVersion))
	return nil
}

// Started reports whether Start succeeded.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stop marks the source stopped and drops delta baselines.
func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.prevCPU = nil
	s.prevNet = nil
	return nil
}

// Collect reads every definition from one sample of the OS. Native calls
// are shared between metrics of the same family. Metrics that cannot be
// read are skipped and logged; Collect fails only when none could be read.
func (s *Source) Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	smp := &sample{ctx: ctx, src: s}
	props := make([]models.Property, 0, len(defs))
	var errs error
	for _, def := range defs {
		read, ok := readers[def.ID]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("unknown local metric %q", def.ID))
			continue
		}
		p, err := read(smp, def.ID)
		if err != nil {
			s.logger.Warn("Failed to read local metric",
				zap.String("metric", def.ID),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", def.ID, err))
			continue
		}
		props = append(props, p)
	}
	smp.commit()

	if len(props) == 0 && errs != nil {
		return nil, errs
	}
	return props, nil
}

// lazy memoizes one native call per sample.
type lazy[T any] struct {
	done bool
	v    T
	err  error
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	if !l.done {
		l.v, l.err = fn()
		l.done = true
	}
	return l.v, l.err
}

// sample holds the native readings taken during one Collect.
type sample struct {
	ctx context.Context
	src *Source

	memory  lazy[memoryStat]
	swap    lazy[memoryStat]
	cpu     lazy[cpuTimes]
	load    lazy[loadStat]
	uptime  lazy[uint64]
	net     lazy[netCounters]
	procs   lazy[int]
	disk    lazy[memoryStat]
	temps   lazy[temperatures]
	gpuTemp lazy[*float64]
}

// commit stores the current readings as baselines for the next sample.
func (s *sample) commit() {
	if s.cpu.done && s.cpu.err == nil {
		cur := s.cpu.v
		s.src.prevCPU = &cur
	}
	if s.net.done && s.net.err == nil {
		cur := s.net.v
		s.src.prevNet = &cur
	}
}
