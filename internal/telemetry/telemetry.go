// Package telemetry exposes Prometheus instrumentation for collection runs,
// source failures, the hand-off queue and consumers. A nil *Metrics is valid
// and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/failure"
)

const (
	namespace = "databot"
	subsystem = "collection"
)

// Run results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered for one agent instance.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runFailures    *prometheus.CounterVec
	runDuration    prometheus.Histogram
	sourceFailures *prometheus.CounterVec
	properties     prometheus.Counter
	queueDepth     prometheus.Gauge
	consumed       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Total number of collection runs by result",
		}, []string{"result"}),
		runFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_failures_total",
			Help:      "Total number of failed collection runs by failure kind",
		}, []string{"kind"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of collection runs",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		sourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "source_failures_total",
			Help:      "Total number of failed source queries by address and failure kind",
		}, []string{"address", "kind"}),
		properties: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "properties_total",
			Help:      "Total number of properties collected",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of events waiting in the hand-off queue",
		}),
		consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "events_total",
			Help:      "Total number of events handled by consumer and result",
		}, []string{"consumer", "result"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records one collection run. A nil err counts as success.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	if err == nil {
		m.runs.WithLabelValues(ResultSuccess).Inc()
		return
	}
	m.runs.WithLabelValues(ResultFailure).Inc()
	m.runFailures.WithLabelValues(string(failure.KindOf(err))).Inc()
}

// SourceFailed records a failed source query.
func (m *Metrics) SourceFailed(a address.Address, kind failure.Kind) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(a.Literal(), string(kind)).Inc()
}

// PropertiesCollected adds n to the collected properties counter.
func (m *Metrics) PropertiesCollected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.properties.Add(float64(n))
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// EventConsumed records the outcome of a consumer handling one event.
func (m *Metrics) EventConsumed(consumer string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.consumed.WithLabelValues(consumer, result).Inc()
}
