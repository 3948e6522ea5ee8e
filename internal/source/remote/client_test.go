package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/databot/internal/address"
)

func serverAddress(t *testing.T, srv *httptest.Server, user string) address.Address {
	t.Helper()
	hostPort := strings.TrimPrefix(srv.URL, "http://")
	literal := "jmx://" + hostPort
	if user != "" {
		literal = "jmx://" + user + "@" + hostPort
	}
	return address.MustParse(literal)
}

func TestPostJSONWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/api/read", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"q":"x"}`, string(body))
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	c := NewClient(serverAddress(t, srv, "admin"), "secret", time.Second)
	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "api/read", map[string]string{"q": "x"}, &out))
	assert.Equal(t, 42, out.Value)
}

func TestGetJSONWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"agent":"2.0"}`))
	}))
	defer srv.Close()

	c := NewClient(serverAddress(t, srv, ""), "", 0)
	var out map[string]string
	require.NoError(t, c.GetJSON(context.Background(), "/version", &out))
	assert.Equal(t, "2.0", out["agent"])
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(serverAddress(t, srv, ""), "", time.Second)
	err := c.GetJSON(context.Background(), "/", nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "nope", se.Body)
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(serverAddress(t, srv, ""), "", time.Second)
	var out map[string]any
	assert.ErrorContains(t, c.GetJSON(context.Background(), "/", &out), "decode response")
}

func TestURL(t *testing.T) {
	c := NewClient(address.MustParse("jboss://srv:9990"), "", 0, WithScheme("https"))
	assert.Equal(t, "https://srv:9990/management", c.URL("management"))
}

func TestSnippetTruncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	assert.Len(t, snippet([]byte(long)), 259)
}
