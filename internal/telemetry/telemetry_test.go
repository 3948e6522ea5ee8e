package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/failure"
)

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(10*time.Millisecond, nil)
	m.ObserveRun(10*time.Millisecond, failure.Wrap(failure.QueueFull, errors.New("full")))
	m.ObserveRun(10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runFailures.WithLabelValues(string(failure.QueueFull))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runFailures.WithLabelValues(string(failure.Unexpected))))
}

func TestSourceFailedAndGauges(t *testing.T) {
	m := New()
	a := address.MustParse("jmx://app:9999")
	m.SourceFailed(a, failure.SourceStart)
	m.SourceFailed(a, failure.SourceStart)
	m.SetQueueDepth(3)
	m.PropertiesCollected(5)
	m.PropertiesCollected(0)
	m.EventConsumed("csv", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sourceFailures.WithLabelValues("jmx://app:9999", "source_start")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.properties))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumed.WithLabelValues("csv", ResultSuccess)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(time.Second, errors.New("x"))
		m.SourceFailed(address.Local(), failure.SourceCollect)
		m.PropertiesCollected(1)
		m.SetQueueDepth(1)
		m.EventConsumed("csv", nil)
	})
	assert.Nil(t, m.Registry())
}
