// Package metrics provides Prometheus metrics export for the retrieval
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports pipeline metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Broadcast metrics
	broadcastLatency  *prometheus.HistogramVec
	broadcastRequests *prometheus.CounterVec

	// Per-signal embedding metrics
	vectorsGenerated *prometheus.CounterVec
	vectorFailures   *prometheus.CounterVec

	// Search metrics
	searchLatency  prometheus.Histogram
	candidateCount prometheus.Histogram

	// Embedding cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.broadcastLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "attune",
			Subsystem: "broadcast",
			Name:      "stage_latency_seconds",
			Help:      "Broadcast stage latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"stage"},
	)

	e.broadcastRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune",
			Subsystem: "broadcast",
			Name:      "requests_total",
			Help:      "Total number of broadcast requests",
		},
		[]string{"status"},
	)

	e.vectorsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune",
			Subsystem: "broadcast",
			Name:      "vectors_generated_total",
			Help:      "Embeddings generated per vector type",
		},
		[]string{"vector_type"},
	)

	e.vectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune",
			Subsystem: "broadcast",
			Name:      "vector_failures_total",
			Help:      "Embedding generations that failed or timed out, per vector type",
		},
		[]string{"vector_type"},
	)

	e.searchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "attune",
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Multi-vector search latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.candidateCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "attune",
			Subsystem: "search",
			Name:      "candidates",
			Help:      "Behavior candidates returned per broadcast",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune",
			Subsystem: "embedding",
			Name:      "cache_hits_total",
			Help:      "Total number of embedding cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune",
			Subsystem: "embedding",
			Name:      "cache_misses_total",
			Help:      "Total number of embedding cache misses",
		},
		[]string{"cache_type"},
	)

	registry.MustRegister(
		e.broadcastLatency,
		e.broadcastRequests,
		e.vectorsGenerated,
		e.vectorFailures,
		e.searchLatency,
		e.candidateCount,
		e.cacheHits,
		e.cacheMisses,
	)

	return e
}

// RecordBroadcast records one broadcast request with its total latency.
func (e *PrometheusExporter) RecordBroadcast(latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.broadcastRequests.WithLabelValues(status).Inc()
	e.broadcastLatency.WithLabelValues("total").Observe(latency.Seconds())
}

// RecordStageLatency records the latency of one broadcast stage
// ("generation", "search", "persistence").
func (e *PrometheusExporter) RecordStageLatency(stage string, latency time.Duration) {
	e.broadcastLatency.WithLabelValues(stage).Observe(latency.Seconds())
}

// RecordVectorGenerated counts one successfully generated embedding.
func (e *PrometheusExporter) RecordVectorGenerated(vectorType string) {
	e.vectorsGenerated.WithLabelValues(vectorType).Inc()
}

// RecordVectorFailure counts one failed or timed-out embedding generation.
func (e *PrometheusExporter) RecordVectorFailure(vectorType string) {
	e.vectorFailures.WithLabelValues(vectorType).Inc()
}

// RecordSearch records one multi-vector search pass.
func (e *PrometheusExporter) RecordSearch(latency time.Duration, candidates int) {
	e.searchLatency.Observe(latency.Seconds())
	e.candidateCount.Observe(float64(candidates))
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
