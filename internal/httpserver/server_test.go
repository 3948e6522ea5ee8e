package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/databot/internal/databot"
	"github.com/Guliveer/databot/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticStatus struct {
	st databot.Status
}

func (s *staticStatus) Status() databot.Status { return s.st }

func newTestServer(t *testing.T, st databot.Status) (*Server, *telemetry.Metrics, *gin.Engine) {
	t.Helper()
	m := telemetry.New()
	srv := NewServer("", &staticStatus{st: st}, m.Registry(), nil)
	srv.startTime = time.Now()
	return srv, m, srv.routes()
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, databot.Status{State: databot.StateRunning})

	w := get(r, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, databot.StateRunning, body["state"])
}

func TestHealthEndpoint_Stopped(t *testing.T) {
	_, _, r := newTestServer(t, databot.Status{State: databot.StateStopped})
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/api/health").Code)
}

func TestStatusEndpoint(t *testing.T) {
	st := databot.Status{
		ID:                   "bot-1",
		State:                databot.StateRunning,
		Executions:           4,
		SuccessfulExecutions: 3,
		LastFailure:          "queue_full: event queue is full",
		LastFailureKind:      "queue_full",
		QueueLength:          10,
		QueueCapacity:        10,
		Sources:              []string{"local", "jmx://app:8778"},
		Consumers:            []string{"csv:-"},
	}
	_, _, r := newTestServer(t, st)

	w := get(r, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got databot.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, st.Executions, got.Executions)
	assert.Equal(t, st.LastFailureKind, got.LastFailureKind)
	assert.Equal(t, st.Sources, got.Sources)
}

func TestMetricsEndpoint(t *testing.T) {
	_, m, r := newTestServer(t, databot.Status{State: databot.StateRunning})
	m.ObserveRun(time.Millisecond, nil)
	m.ObserveRun(time.Millisecond, errors.New("boom"))

	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "databot_collection_runs_total")
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, _, r := newTestServer(t, databot.Status{State: databot.StateRunning})

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestStartAndStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", &staticStatus{st: databot.Status{State: databot.StateRunning}}, nil, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"status":"ok"`))

	require.NoError(t, srv.Stop())
}
