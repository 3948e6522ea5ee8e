// Package jmx implements a metric source reading JMX MBean attributes
// through a Jolokia agent.
//
// Metric IDs have the form "mbean/attribute[/path]", for example
// "java.lang:type=Memory/HeapMemoryUsage/used".
package jmx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/source"
	"github.com/Guliveer/databot/internal/source/remote"
)

const (
	// DefaultPort is the Jolokia JVM agent's default port.
	DefaultPort = 8778
	// DefaultPath is the Jolokia agent's context path.
	DefaultPath = "/jolokia"
)

// Query is a parsed metric ID.
type Query struct {
	MBean     string
	Attribute string
	Path      string
}

// ParseID splits a metric ID into its MBean, attribute and optional path.
func ParseID(id string) (Query, error) {
	mbean, rest, ok := strings.Cut(id, "/")
	if !ok || mbean == "" || rest == "" {
		return Query{}, fmt.Errorf("invalid JMX metric %q: want mbean/attribute[/path]", id)
	}
	if !strings.Contains(mbean, ":") {
		return Query{}, fmt.Errorf("invalid JMX metric %q: mbean name %q has no domain", id, mbean)
	}
	attr, path, _ := strings.Cut(rest, "/")
	if attr == "" {
		return Query{}, fmt.Errorf("invalid JMX metric %q: empty attribute", id)
	}
	return Query{MBean: mbean, Attribute: attr, Path: path}, nil
}

type readRequest struct {
	Type      string `json:"type"`
	MBean     string `json:"mbean"`
	Attribute string `json:"attribute"`
	Path      string `json:"path,omitempty"`
}

type response struct {
	Status int             `json:"status"`
	Value  json.RawMessage `json:"value"`
	Error  string          `json:"error"`
}

type versionValue struct {
	Agent    string `json:"agent"`
	Protocol string `json:"protocol"`
}

// Source reads MBean attributes in bulk from a Jolokia agent.
type Source struct {
	addr   address.Address
	path   string
	client *remote.Client
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

var _ source.Source = (*Source)(nil)

// New creates a Jolokia source from its definition.
func New(def models.MetricSourceDefinition, logger *zap.Logger, opts ...remote.Option) (*Source, error) {
	if def.Address.IsLocal() || def.Address.Host == "" {
		return nil, fmt.Errorf("jmx source needs a remote address, got %s", def.Address)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	target := def.Address
	if target.Port == 0 {
		target.Port = DefaultPort
	}
	path := def.Path
	if path == "" {
		path = DefaultPath
	}
	return &Source{
		addr:   def.Address,
		path:   "/" + strings.Trim(path, "/"),
		client: remote.NewClient(target, def.Password, def.Timeout, opts...),
		logger: logger,
	}, nil
}

// Factory returns a source.Factory creating Jolokia sources.
func Factory(opts ...remote.Option) source.Factory {
	return func(def models.MetricSourceDefinition, logger *zap.Logger) (source.Source, error) {
		return New(def, logger, opts...)
	}
}

// Address returns the endpoint address.
func (s *Source) Address() address.Address { return s.addr }

// Start checks that the agent answers.
func (s *Source) Start(ctx context.Context) error {
	var resp response
	if err := s.client.GetJSON(ctx, s.path+"/version", &resp); err != nil {
		return fmt.Errorf("connect to jolokia agent: %w", err)
	}
	if resp.Status != 0 && resp.Status != 200 {
		return fmt.Errorf("jolokia version request failed (%d): %s", resp.Status, resp.Error)
	}
	var v versionValue
	_ = json.Unmarshal(resp.Value, &v)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Connected to Jolokia agent",
		zap.String("agent_version", v.Agent),
		zap.String("protocol", v.Protocol))
	return nil
}

// Started reports whether Start succeeded.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stop marks the source stopped; the agent holds no session state.
func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Collect reads all definitions in one bulk request. Attributes the agent
// cannot read are skipped; Collect fails only when none could be read.
func (s *Source) Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error) {
	if len(defs) == 0 {
		return []models.Property{}, nil
	}

	var errs error
	reqs := make([]readRequest, 0, len(defs))
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		q, err := ParseID(def.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		reqs = append(reqs, readRequest{Type: "read", MBean: q.MBean, Attribute: q.Attribute, Path: q.Path})
		ids = append(ids, def.ID)
	}
	if len(reqs) == 0 {
		return nil, errs
	}

	start := time.Now()
	var resps []response
	if err := s.client.PostJSON(ctx, s.path, reqs, &resps); err != nil {
		return nil, fmt.Errorf("jolokia bulk read: %w", err)
	}
	if len(resps) != len(reqs) {
		return nil, fmt.Errorf("jolokia bulk read: got %d responses for %d requests", len(resps), len(reqs))
	}

	props := make([]models.Property, 0, len(resps))
	for i, r := range resps {
		if r.Status != 200 {
			err := fmt.Errorf("%s: status %d: %s", ids[i], r.Status, r.Error)
			s.logger.Warn("Failed to read JMX attribute", zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		p, err := remote.Property(ids[i], r.Value)
		if err != nil {
			s.logger.Warn("Unusable JMX attribute value", zap.String("metric", ids[i]), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ids[i], err))
			continue
		}
		props = append(props, p)
	}

	s.logger.Debug("Jolokia bulk read completed",
		zap.Int("requested", len(reqs)),
		zap.Int("read", len(props)),
		zap.Duration("elapsed", time.Since(start)))

	if len(props) == 0 && errs != nil {
		return nil, errs
	}
	return props, nil
}
