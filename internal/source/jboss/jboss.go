// Package jboss implements a metric source reading management model
// attributes from a JBoss/WildFly controller over its HTTP management API.
//
// Metric IDs are CLI-style resource paths followed by an attribute name,
// for example "/subsystem=undertow/server=default-server/http-listener=default:request-count"
// or ":server-state" for the root resource.
package jboss

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/source"
	"github.com/Guliveer/databot/internal/source/remote"
)

const (
	// DefaultPort is the management interface's default port.
	DefaultPort = 9990
	// DefaultPath is the HTTP management endpoint.
	DefaultPath = "/management"

	outcomeSuccess = "success"
)

// Segment is one key=value element of a resource address.
type Segment struct {
	Key   string
	Value string
}

// Query is a parsed metric ID.
type Query struct {
	Address   []Segment
	Attribute string
}

// ParseID splits a metric ID into its resource address and attribute.
func ParseID(id string) (Query, error) {
	i := strings.LastIndexByte(id, ':')
	if i < 0 || i == len(id)-1 {
		return Query{}, fmt.Errorf("invalid management metric %q: want /key=value...:attribute", id)
	}
	q := Query{Attribute: id[i+1:]}
	if strings.ContainsAny(q.Attribute, "/=") {
		return Query{}, fmt.Errorf("invalid management metric %q: bad attribute %q", id, q.Attribute)
	}
	path := strings.Trim(id[:i], "/")
	if path == "" {
		return q, nil
	}
	for _, part := range strings.Split(path, "/") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" || v == "" {
			return Query{}, fmt.Errorf("invalid management metric %q: bad address element %q", id, part)
		}
		q.Address = append(q.Address, Segment{Key: k, Value: v})
	}
	return q, nil
}

// operation is a management operation in its JSON (DMR) form.
type operation struct {
	Operation string              `json:"operation"`
	Address   []map[string]string `json:"address"`
	Name      string              `json:"name,omitempty"`
	Steps     []operation         `json:"steps,omitempty"`
}

func readAttribute(q Query) operation {
	addr := make([]map[string]string, 0, len(q.Address))
	for _, s := range q.Address {
		addr = append(addr, map[string]string{s.Key: s.Value})
	}
	return operation{Operation: "read-attribute", Address: addr, Name: q.Attribute}
}

type outcome struct {
	Outcome string          `json:"outcome"`
	Result  json.RawMessage `json:"result"`
	Failure json.RawMessage `json:"failure-description"`
}

func (o outcome) err() error {
	if o.Outcome == outcomeSuccess {
		return nil
	}
	msg := strings.Trim(string(o.Failure), `"`)
	if msg == "" {
		msg = "no failure description"
	}
	return fmt.Errorf("operation %s: %s", o.Outcome, msg)
}

// Source reads management attributes from a JBoss/WildFly controller.
type Source struct {
	addr   address.Address
	path   string
	client *remote.Client
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

var _ source.Source = (*Source)(nil)

// New creates a management source from its definition.
func New(def models.MetricSourceDefinition, logger *zap.Logger, opts ...remote.Option) (*Source, error) {
	if def.Address.IsLocal() || def.Address.Host == "" {
		return nil, fmt.Errorf("jboss source needs a remote address, got %s", def.Address)
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

// Factory returns a source.Factory creating management sources.
func Factory(opts ...remote.Option) source.Factory {
	return func(def models.MetricSourceDefinition, logger *zap.Logger) (source.Source, error) {
		return New(def, logger, opts...)
	}
}

// Address returns the controller address.
func (s *Source) Address() address.Address { return s.addr }

// Start reads the controller's server state to verify connectivity and
// credentials.
func (s *Source) Start(ctx context.Context) error {
	var out outcome
	op := readAttribute(Query{Attribute: "server-state"})
	if err := s.client.PostJSON(ctx, s.path, op, &out); err != nil && out.Outcome == "" {
		return fmt.Errorf("connect to management controller: %w", err)
	}
	if err := out.err(); err != nil {
		return fmt.Errorf("read server-state: %w", err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Connected to management controller",
		zap.String("server_state", strings.Trim(string(out.Result), `"`)))
	return nil
}

// Started reports whether Start succeeded.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stop marks the source stopped; HTTP management holds no session state.
func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Collect reads all definitions with one composite operation. Attributes
// that cannot be read are skipped; Collect fails only when none could be.
func (s *Source) Collect(ctx context.Context, defs []models.MetricDefinition) ([]models.Property, error) {
	if len(defs) == 0 {
		return []models.Property{}, nil
	}

	var errs error
	steps := make([]operation, 0, len(defs))
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		q, err := ParseID(def.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		steps = append(steps, readAttribute(q))
		ids = append(ids, def.ID)
	}
	if len(steps) == 0 {
		return nil, errs
	}

	var out outcome
	composite := operation{Operation: "composite", Address: []map[string]string{}, Steps: steps}
	// a failed composite answers 500 but still reports per-step outcomes
	if err := s.client.PostJSON(ctx, s.path, composite, &out); err != nil && out.Outcome == "" {
		return nil, fmt.Errorf("composite read: %w", err)
	}

	var results map[string]outcome
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &results); err != nil {
			return nil, fmt.Errorf("decode composite result: %w", err)
		}
	}
	if results == nil {
		if err := out.err(); err != nil {
			return nil, fmt.Errorf("composite read: %w", err)
		}
		return nil, errors.New("composite read: empty result")
	}

	props := make([]models.Property, 0, len(ids))
	for i, id := range ids {
		step, ok := results["step-"+strconv.Itoa(i+1)]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: missing step result", id))
			continue
		}
		if err := step.err(); err != nil {
			s.logger.Warn("Failed to read management attribute", zap.String("metric", id), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		p, err := remote.Property(id, step.Result)
		if err != nil {
			s.logger.Warn("Unusable management attribute value", zap.String("metric", id), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		props = append(props, p)
	}

	if len(props) == 0 && errs != nil {
		return nil, errs
	}
	return props, nil
}
