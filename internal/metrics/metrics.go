// Package metrics aggregates process-wide serving counters. The
// Aggregator feeds both the JSON snapshot surface and the Prometheus
// collectors registered by this package.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"inferd/pkg/types"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "serve",
			Name:      "requests_total",
			Help:      "Total inference requests resolved",
		},
		[]string{"model", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "serve",
			Name:      "request_duration_seconds",
			Help:      "Per-request latency from submission to resolution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "serve",
			Name:      "batch_size",
			Help:      "Number of requests per dispatched batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "registry",
			Name:      "loads_total",
			Help:      "Total model load attempts",
		},
		[]string{"model", "outcome"},
	)

	unloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "registry",
			Name:      "unloads_total",
			Help:      "Total model unload attempts",
		},
		[]string{"model", "outcome"},
	)

	modelsReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "registry",
			Name:      "models_ready",
			Help:      "Number of models currently in the ready state",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, batchSize, loadsTotal, unloadsTotal, modelsReady)
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Aggregator maintains running request counters. A single mutex guards the
// struct so a snapshot never observes a partially applied record; the
// critical sections are a handful of integer updates.
type Aggregator struct {
	mu         sync.Mutex
	total      uint64
	successful uint64
	failed     uint64
	latencySum time.Duration
	perModel   map[types.ModelKey]uint64
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{perModel: make(map[types.ModelKey]uint64)}
}

// Record registers one resolved request. It must be called exactly once
// per resolution.
func (a *Aggregator) Record(key types.ModelKey, latency time.Duration, success bool) {
	a.mu.Lock()
	a.total++
	if success {
		a.successful++
	} else {
		a.failed++
	}
	a.latencySum += latency
	a.perModel[key]++
	a.mu.Unlock()

	requestsTotal.WithLabelValues(key.String(), outcomeLabel(success)).Inc()
	requestDuration.WithLabelValues(key.String()).Observe(latency.Seconds())
}

// ObserveBatch records the size of a dispatched batch.
func (a *Aggregator) ObserveBatch(n int) {
	batchSize.Observe(float64(n))
}

// RecordLoad registers a model load attempt and adjusts the ready gauge.
func (a *Aggregator) RecordLoad(key types.ModelKey, success bool) {
	loadsTotal.WithLabelValues(key.String(), outcomeLabel(success)).Inc()
	if success {
		modelsReady.Inc()
	}
}

// RecordUnload registers a model unload and adjusts the ready gauge.
func (a *Aggregator) RecordUnload(key types.ModelKey, success bool) {
	unloadsTotal.WithLabelValues(key.String(), outcomeLabel(success)).Inc()
	modelsReady.Dec()
}

// Snapshot returns a copy-on-read view of the counters.
func (a *Aggregator) Snapshot() types.MetricsResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	perModel := make(map[string]uint64, len(a.perModel))
	for k, n := range a.perModel {
		perModel[k.String()] = n
	}
	avg := 0.0
	if a.total > 0 {
		avg = float64(a.latencySum.Microseconds()) / float64(a.total) / 1000.0
	}
	return types.MetricsResponse{
		TotalRequests:      a.total,
		SuccessfulRequests: a.successful,
		FailedRequests:     a.failed,
		AverageLatencyMS:   avg,
		RequestsPerModel:   perModel,
		Timestamp:          time.Now().UTC(),
	}
}
