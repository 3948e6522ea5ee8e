// Package httpsink implements a consumer that posts batches of collected
// events to an HTTP ingestion endpoint. Payloads are gzip-compressed and
// retried with exponential backoff; batches that cannot be delivered are
// spooled to disk and resent on the next start.
package httpsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/event"
	"github.com/Guliveer/databot/internal/spool"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultTimeout bounds each request.
	DefaultTimeout = 10 * time.Second

	// ingestPath is appended to the configured server URL.
	ingestPath = "/api/ingest"

	// closeFlushTimeout bounds the final flush done by Close.
	closeFlushTimeout = 15 * time.Second
)

// Config configures the sink.
type Config struct {
	URL        string
	Token      string
	AgentID    string
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
}

// Payload is the JSON document posted to the ingestion endpoint.
type Payload struct {
	AgentID string            `json:"agent_id"`
	Events  []json.RawMessage `json:"events"`
}

// Option customizes a Sink.
type Option func(*Sink)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

// WithBackOff replaces the exponential backoff policy.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(s *Sink) { s.newBackOff = f }
}

// Sink is a consumer.Handler posting events over HTTP.
type Sink struct {
	cfg        Config
	client     *http.Client
	spool      *spool.Spool
	logger     *zap.Logger
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	pending []json.RawMessage
	sent    int
}

// New creates a sink. sp may be nil, in which case undeliverable batches
// are dropped.
func New(cfg Config, sp *spool.Spool, logger *zap.Logger, opts ...Option) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http sink: empty server url")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		spool:  sp,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements consumer.Handler.
func (s *Sink) Name() string {
	return "http:" + s.cfg.URL
}

// Start resends batches spooled during earlier outages.
func (s *Sink) Start(ctx context.Context) error {
	if s.spool == nil {
		return nil
	}
	batches, err := s.spool.RetrieveAll()
	if err != nil {
		return fmt.Errorf("retrieve spooled batches: %w", err)
	}
	if len(batches) == 0 {
		return nil
	}

	s.logger.Info("Flushing spooled batches", zap.Int("batches", len(batches)))
	for _, data := range batches {
		if err := s.send(ctx, data); err != nil {
			s.logger.Warn("Spooled batch still undeliverable", zap.Error(err))
			s.store(data)
		}
	}
	return nil
}

// Handle adds ev to the current batch and sends the batch once it is full.
func (s *Sink) Handle(ctx context.Context, ev *event.MultiSourceReading) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	s.pending = append(s.pending, raw)
	if len(s.pending) < s.cfg.BatchSize {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	return s.flush(ctx, batch)
}

// Sent returns the number of events delivered.
func (s *Sink) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Close sends whatever is left in the current batch.
func (s *Sink) Close() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	return s.flush(ctx, batch)
}

func (s *Sink) flush(ctx context.Context, batch []json.RawMessage) error {
	data, err := json.Marshal(Payload{AgentID: s.cfg.AgentID, Events: batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	if err := s.send(ctx, data); err != nil {
		var rl *rateLimitError
		if errors.As(err, &rl) {
			s.logger.Warn("Rate limited by server, spooling batch", zap.Error(err))
		} else {
			s.logger.Error("Batch undeliverable, spooling", zap.Int("events", len(batch)), zap.Error(err))
		}
		if !s.store(data) {
			return fmt.Errorf("batch of %d events dropped: %w", len(batch), err)
		}
		return nil
	}

	s.mu.Lock()
	s.sent += len(batch)
	s.mu.Unlock()
	s.logger.Debug("Batch sent", zap.Int("events", len(batch)))
	return nil
}

// send compresses data and posts it, retrying transient failures.
func (s *Sink) send(ctx context.Context, data []byte) error {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("compress batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize gzip compression: %w", err)
	}
	body := compressed.Bytes()

	attempt := 0
	op := func() error {
		attempt++
		return s.doSend(ctx, body)
	}
	notify := func(err error, delay time.Duration) {
		s.logger.Warn("Send failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(op, b, notify)
}

// doSend performs a single POST. Client errors other than 408 are not
// retried.
func (s *Sink) doSend(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return backoff.Permanent(&rateLimitError{statusCode: resp.StatusCode})
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout:
		return backoff.Permanent(fmt.Errorf("server rejected batch (%d)", resp.StatusCode))
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

// store spools data and reports whether it was kept.
func (s *Sink) store(data []byte) bool {
	if s.spool == nil {
		s.logger.Warn("No spool available, dropping batch")
		return false
	}
	if err := s.spool.Store(data); err != nil {
		s.logger.Error("Failed to spool batch", zap.Error(err))
		return false
	}
	return true
}

// rateLimitError indicates the server returned HTTP 429.
type rateLimitError struct {
	statusCode int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.statusCode)
}
