package jboss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

func TestParseID(t *testing.T) {
	q, err := ParseID("/subsystem=undertow/server=default-server/http-listener=default:request-count")
	require.NoError(t, err)
	assert.Equal(t, "request-count", q.Attribute)
	assert.Equal(t, []Segment{
		{Key: "subsystem", Value: "undertow"},
		{Key: "server", Value: "default-server"},
		{Key: "http-listener", Value: "default"},
	}, q.Address)

	q, err = ParseID(":server-state")
	require.NoError(t, err)
	assert.Empty(t, q.Address)
	assert.Equal(t, "server-state", q.Attribute)

	for _, bad := range []string{"", "server-state", "/subsystem=undertow:", "/subsystem:attr", "/a=b/=c:attr"} {
		_, err := ParseID(bad)
		assert.Error(t, err, bad)
	}
}

type dmrRequest struct {
	Operation string              `json:"operation"`
	Address   []map[string]string `json:"address"`
	Name      string              `json:"name"`
	Steps     []dmrRequest        `json:"steps"`
}

func key(r dmrRequest) string {
	var b strings.Builder
	for _, seg := range r.Address {
		for k, v := range seg {
			b.WriteString("/" + k + "=" + v)
		}
	}
	return b.String() + ":" + r.Name
}

// controller is a minimal HTTP management endpoint.
func controller(t *testing.T, values map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/management" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req dmrRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		switch req.Operation {
		case "read-attribute":
			_, _ = io.WriteString(w, `{"outcome":"success","result":"running"}`)
		case "composite":
			steps := make([]string, 0, len(req.Steps))
			failed := false
			for i, st := range req.Steps {
				if v, ok := values[key(st)]; ok {
					steps = append(steps, fmt.Sprintf(`"step-%d":{"outcome":"success","result":%s}`, i+1, v))
				} else {
					failed = true
					steps = append(steps, fmt.Sprintf(`"step-%d":{"outcome":"failed","failure-description":"WFLYCTL0216: Management resource not found"}`, i+1))
				}
			}
			outcome := "success"
			if failed {
				outcome = "failed"
				w.WriteHeader(http.StatusInternalServerError)
			}
			_, _ = fmt.Fprintf(w, `{"outcome":%q,"result":{%s}}`, outcome, strings.Join(steps, ","))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"outcome":"failed","failure-description":"unknown operation"}`)
		}
	}))
}

func newSource(t *testing.T, srv *httptest.Server) *Source {
	t.Helper()
	a := address.MustParse("jboss://admin@" + strings.TrimPrefix(srv.URL, "http://"))
	s, err := New(models.MetricSourceDefinition{Type: models.SourceTypeJBoss, Address: a, Password: "pw", Timeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func defs(a address.Address, ids ...string) []models.MetricDefinition {
	out := make([]models.MetricDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.MetricDefinition{ID: id, Address: a})
	}
	return out
}

func TestStartAndCollect(t *testing.T) {
	srv := controller(t, map[string]string{
		"/subsystem=undertow/server=default-server/http-listener=default:request-count": "1234",
		"/core-service=platform-mbean/type=threading:thread-count":                      "88",
		":server-state": `"running"`,
	})
	defer srv.Close()

	s := newSource(t, srv)
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Started())

	props, err := s.Collect(context.Background(), defs(s.Address(),
		"/subsystem=undertow/server=default-server/http-listener=default:request-count",
		"/core-service=platform-mbean/type=threading:thread-count",
		":server-state",
	))
	require.NoError(t, err)
	assert.Equal(t, []models.Property{
		models.LongProperty("/subsystem=undertow/server=default-server/http-listener=default:request-count", 1234),
		models.LongProperty("/core-service=platform-mbean/type=threading:thread-count", 88),
		models.StringProperty(":server-state", "running"),
	}, props)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Started())
}

func TestCollectPartialFailure(t *testing.T) {
	srv := controller(t, map[string]string{":server-state": `"running"`})
	defer srv.Close()

	s := newSource(t, srv)
	props, err := s.Collect(context.Background(), defs(s.Address(), "/subsystem=missing:attr", ":server-state"))
	require.NoError(t, err)
	assert.Equal(t, []models.Property{models.StringProperty(":server-state", "running")}, props)
}

func TestCollectAllFailed(t *testing.T) {
	srv := controller(t, nil)
	defer srv.Close()

	s := newSource(t, srv)
	_, err := s.Collect(context.Background(), defs(s.Address(), "/subsystem=missing:attr"))
	assert.ErrorContains(t, err, "WFLYCTL0216")
}

func TestStartUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newSource(t, srv)
	err := s.Start(context.Background())
	assert.ErrorContains(t, err, "401")
	assert.False(t, s.Started())
}

func TestNewDefaults(t *testing.T) {
	s, err := New(models.MetricSourceDefinition{Address: address.MustParse("jboss://srv")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://srv:9990/management", s.client.URL(s.path))

	_, err = New(models.MetricSourceDefinition{Address: address.Local()}, nil)
	assert.Error(t, err)
}
