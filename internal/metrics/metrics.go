// Package metrics exposes Prometheus instrumentation for the cache, index, and search paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheRequests *prometheus.CounterVec
	storeFetches  *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	indexBuilds   *prometheus.CounterVec
	indexRecords  *prometheus.GaugeVec
	searchLatency prometheus.Histogram
	searchHits    prometheus.Histogram
}

// New creates the collectors and registers them with reg. When reg is nil the
// collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqai",
			Name:      "cache_requests_total",
			Help:      "Entity cache reads by outcome (hit, miss, shared).",
		}, []string{"entity_type", "outcome"}),
		storeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqai",
			Name:      "store_fetches_total",
			Help:      "Collection fetches issued to the record store.",
		}, []string{"entity_type", "outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqai",
			Name:      "mutations_total",
			Help:      "Create, update, and delete calls by outcome.",
		}, []string{"entity_type", "op", "outcome"}),
		indexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqai",
			Name:      "index_builds_total",
			Help:      "Embedding index builds by outcome (snapshot, rebuild, superseded, provider_error, embed_error, canceled).",
		}, []string{"entity_type", "outcome"}),
		indexRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reqai",
			Name:      "index_records",
			Help:      "Records in the live embedding index.",
		}, []string{"entity_type"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reqai",
			Name:      "search_duration_seconds",
			Help:      "Similarity search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reqai",
			Name:      "search_results",
			Help:      "Results returned per similarity search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cacheRequests, m.storeFetches, m.mutations, m.indexBuilds,
			m.indexRecords, m.searchLatency, m.searchHits)
	}
	return m
}

// CacheRequest counts one cache read.
func (m *Metrics) CacheRequest(entityType, outcome string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(entityType, outcome).Inc()
}

// StoreFetch counts one collection fetch.
func (m *Metrics) StoreFetch(entityType string, err error) {
	if m == nil {
		return
	}
	m.storeFetches.WithLabelValues(entityType, outcome(err)).Inc()
}

// Mutation counts one write through the coordinator.
func (m *Metrics) Mutation(entityType, op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(entityType, op, outcome(err)).Inc()
}

// IndexBuild counts one index build attempt.
func (m *Metrics) IndexBuild(entityType, result string) {
	if m == nil {
		return
	}
	m.indexBuilds.WithLabelValues(entityType, result).Inc()
}

// IndexSize records the live index size.
func (m *Metrics) IndexSize(entityType string, n int) {
	if m == nil {
		return
	}
	m.indexRecords.WithLabelValues(entityType).Set(float64(n))
}

// Search records one completed search.
func (m *Metrics) Search(d time.Duration, results int) {
	if m == nil {
		return
	}
	m.searchLatency.Observe(d.Seconds())
	m.searchHits.Observe(float64(results))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
