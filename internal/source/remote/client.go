// Package remote implements the JSON-over-HTTP client shared by the remote
// metric sources (Jolokia and JBoss/WildFly management).
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Guliveer/databot/internal/address"
)

const (
	// DefaultTimeout is the request timeout when the source definition sets none.
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithScheme sets the URL scheme, "http" by default.
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// Client performs JSON requests against one remote endpoint.
type Client struct {
	http     *http.Client
	scheme   string
	hostPort string
	username string
	password string
}

// NewClient creates a client for a. Credentials are sent with basic auth
// when the address carries a username.
func NewClient(a address.Address, password string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		http:     &http.Client{Timeout: timeout},
		scheme:   "http",
		hostPort: a.HostPort(),
		username: a.Username,
		password: password,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the absolute URL for path.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.scheme + "://" + c.hostPort + path
}

// GetJSON issues a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON encodes in, POSTs it and decodes the response into out. For a
// non-2xx response a *StatusError is returned and out is filled if the body
// decodes.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, data, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// error bodies of JSON APIs often carry the failure details
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func snippet(data []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
