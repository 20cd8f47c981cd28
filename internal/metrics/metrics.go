// Package metrics holds the Prometheus collectors for ingestion, caching, and search.
// All collectors live on a private registry so tests can create independent instances.
// Every Record method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kotae"

// Metrics is the set of collectors exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Transitions counts document state transitions.
	// Labels: from, to
	Transitions *prometheus.CounterVec
	// Failures counts documents reaching the failed state.
	// Labels: reason (extraction, validation, infrastructure, too_many_chunks)
	Failures *prometheus.CounterVec
	// Retries counts rescheduled ingestion attempts.
	Retries prometheus.Counter
	// QueueDepth is the number of documents waiting for a worker.
	QueueDepth prometheus.Gauge

	// EmbeddingRequests counts calls to the embedding provider.
	// Labels: result (success, error)
	EmbeddingRequests *prometheus.CounterVec
	// EmbeddingTexts counts texts by cache outcome.
	// Labels: result (hit, miss)
	EmbeddingTexts *prometheus.CounterVec

	// CacheLookups counts cache reads per namespace.
	// Labels: namespace (embedding, search, answer), result (hit, miss)
	CacheLookups *prometheus.CounterVec

	// LexicalRebuilds counts lexical snapshot rebuilds.
	// Labels: result (success, error)
	LexicalRebuilds *prometheus.CounterVec
	// LexicalRebuildDuration tracks snapshot rebuild time.
	LexicalRebuildDuration prometheus.Histogram

	// SearchDuration tracks end-to-end search latency.
	// Labels: tier
	SearchDuration *prometheus.HistogramVec
	// SearchOutcomes counts searches by result.
	// Labels: tier, outcome (grounded, empty, error, cached)
	SearchOutcomes *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "transitions_total",
			Help:      "Total number of document state transitions",
		}, []string{"from", "to"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of documents that reached the failed state",
		}, []string{"reason"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "retries_total",
			Help:      "Total number of rescheduled ingestion attempts",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Documents waiting for an ingestion worker",
		}),
		EmbeddingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total number of embedding provider calls",
		}, []string{"result"}),
		EmbeddingTexts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "texts_total",
			Help:      "Total number of texts embedded, by cache outcome",
		}, []string{"result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups",
		}, []string{"namespace", "result"}),
		LexicalRebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lexical",
			Name:      "rebuilds_total",
			Help:      "Total number of lexical snapshot rebuilds",
		}, []string{"result"}),
		LexicalRebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lexical",
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of lexical snapshot rebuilds in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SearchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end search latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),
		SearchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "outcomes_total",
			Help:      "Total number of searches by outcome",
		}, []string{"tier", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransition records a document moving between states.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordFailure records a document failing with reason.
func (m *Metrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(reason).Inc()
}

// RecordRetry records a rescheduled attempt.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// SetQueueDepth sets the ingestion queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordEmbeddingRequest records one provider call.
func (m *Metrics) RecordEmbeddingRequest(success bool) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(result(success, "success", "error")).Inc()
}

// RecordEmbeddingTexts records hits and misses for one Embed call.
func (m *Metrics) RecordEmbeddingTexts(hits, misses int) {
	if m == nil {
		return
	}
	m.EmbeddingTexts.WithLabelValues("hit").Add(float64(hits))
	m.EmbeddingTexts.WithLabelValues("miss").Add(float64(misses))
}

// RecordCacheLookup records a cache read in namespace ns.
func (m *Metrics) RecordCacheLookup(ns string, hit bool) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(ns, result(hit, "hit", "miss")).Inc()
}

// RecordLexicalRebuild records one snapshot rebuild.
func (m *Metrics) RecordLexicalRebuild(d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.LexicalRebuilds.WithLabelValues(result(success, "success", "error")).Inc()
	m.LexicalRebuildDuration.Observe(d.Seconds())
}

// RecordSearch records one search with its outcome.
func (m *Metrics) RecordSearch(tier, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(tier).Observe(d.Seconds())
	m.SearchOutcomes.WithLabelValues(tier, outcome).Inc()
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
