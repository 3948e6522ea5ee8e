package httpsink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/event"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/spool"
)

type ingest struct {
	mu       sync.Mutex
	payloads []Payload
	headers  []http.Header
	attempts atomic.Int32
	// statuses are returned in order; once exhausted every request succeeds
	statuses []int
}

func (in *ingest) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(in.attempts.Add(1))
		if !assert.Equal(t, ingestPath, r.URL.Path) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if n <= len(in.statuses) {
			w.WriteHeader(in.statuses[n-1])
			return
		}

		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var p Payload
		if !assert.NoError(t, json.NewDecoder(zr).Decode(&p)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		in.mu.Lock()
		in.payloads = append(in.payloads, p)
		in.headers = append(in.headers, r.Header.Clone())
		in.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
}

func (in *ingest) received() []Payload {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Payload(nil), in.payloads...)
}

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newEvent() *event.MultiSourceReading {
	ev := event.New()
	ev.AddSourceReading(address.Local(), []models.Property{models.LongProperty("PhysicalMemoryFree", 512)})
	return ev
}

func startServer(t *testing.T, in *ingest) *httptest.Server {
	srv := httptest.NewServer(in.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func TestBatchesEventsAndFlushesOnClose(t *testing.T) {
	in := &ingest{}
	srv := startServer(t, in)

	s, err := New(Config{URL: srv.URL + "/", Token: "secret", AgentID: "bot-1", BatchSize: 2}, nil,
		zaptest.NewLogger(t), WithBackOff(noDelay))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Handle(ctx, newEvent()))
	}
	require.Len(t, in.received(), 1)
	require.NoError(t, s.Close())

	got := in.received()
	require.Len(t, got, 2)
	assert.Len(t, got[0].Events, 2)
	assert.Len(t, got[1].Events, 1)
	assert.Equal(t, "bot-1", got[0].AgentID)
	assert.Equal(t, 3, s.Sent())

	h := in.headers[0]
	assert.Equal(t, "Bearer secret", h.Get("Authorization"))
	assert.Equal(t, "gzip", h.Get("Content-Encoding"))
}

func TestEventPayloadCarriesReadings(t *testing.T) {
	in := &ingest{}
	srv := startServer(t, in)

	s, err := New(Config{URL: srv.URL}, nil, nil, WithBackOff(noDelay))
	require.NoError(t, err)

	ev := newEvent()
	require.NoError(t, s.Handle(context.Background(), ev))

	got := in.received()
	require.Len(t, got, 1)
	var decoded struct {
		ID      string `json:"id"`
		Sources []struct {
			Address string `json:"address"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(got[0].Events[0], &decoded))
	assert.Equal(t, ev.ID(), decoded.ID)
	require.Len(t, decoded.Sources, 1)
	assert.Equal(t, "local", decoded.Sources[0].Address)
}

func TestRetriesServerErrors(t *testing.T) {
	in := &ingest{statuses: []int{http.StatusInternalServerError, http.StatusBadGateway}}
	srv := startServer(t, in)

	s, err := New(Config{URL: srv.URL}, nil, zaptest.NewLogger(t), WithBackOff(noDelay))
	require.NoError(t, err)

	require.NoError(t, s.Handle(context.Background(), newEvent()))
	assert.EqualValues(t, 3, in.attempts.Load())
	assert.Len(t, in.received(), 1)
}

func TestRateLimitedBatchIsSpooledAndResentOnStart(t *testing.T) {
	in := &ingest{statuses: []int{http.StatusTooManyRequests}}
	srv := startServer(t, in)

	sp, err := spool.New(t.TempDir(), 0, nil)
	require.NoError(t, err)

	s, err := New(Config{URL: srv.URL}, sp, zaptest.NewLogger(t), WithBackOff(noDelay))
	require.NoError(t, err)

	require.NoError(t, s.Handle(context.Background(), newEvent()))
	assert.EqualValues(t, 1, in.attempts.Load(), "429 is not retried")
	assert.Equal(t, 1, sp.Count())
	assert.Equal(t, 0, s.Sent())

	restarted, err := New(Config{URL: srv.URL}, sp, zaptest.NewLogger(t), WithBackOff(noDelay))
	require.NoError(t, err)
	require.NoError(t, restarted.Start(context.Background()))

	assert.Equal(t, 0, sp.Count())
	got := in.received()
	require.Len(t, got, 1)
	assert.Len(t, got[0].Events, 1)
}

func TestUndeliverableWithoutSpoolIsAnError(t *testing.T) {
	in := &ingest{statuses: []int{http.StatusBadRequest}}
	srv := startServer(t, in)

	s, err := New(Config{URL: srv.URL}, nil, zaptest.NewLogger(t), WithBackOff(noDelay))
	require.NoError(t, err)

	assert.Error(t, s.Handle(context.Background(), newEvent()))
	assert.EqualValues(t, 1, in.attempts.Load())
}

func TestNewRejectsEmptyURL(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
}
