// Package metrics defines the Prometheus collectors used across the search
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ReportsIndexedTotal  *prometheus.CounterVec
	IndexApplyDuration   prometheus.Histogram
	TombstonesActive     prometheus.Gauge
	CompactionsTotal     *prometheus.CounterVec
	CompactionPurgedDocs prometheus.Counter

	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	QueryResultsCount prometheus.Histogram
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
}

// New creates and registers all collectors with the given registerer. Pass
// nil to use the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "HTTP requests currently being processed.",
			},
		),
		ReportsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reports_indexed_total",
				Help: "Report index operations by outcome (indexed, updated, deleted, rejected, failed).",
			},
			[]string{"outcome"},
		),
		IndexApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_apply_duration_seconds",
				Help:    "Latency of atomic per-document index store applies.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		TombstonesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_tombstones_active",
				Help: "Documents tombstoned but not yet compacted away.",
			},
		),
		CompactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_compactions_total",
				Help: "Compaction runs by status.",
			},
			[]string{"status"},
		),
		CompactionPurgedDocs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_compaction_purged_docs_total",
				Help: "Tombstoned documents physically purged by compaction.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_query_duration_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Query cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ReportsIndexedTotal,
		m.IndexApplyDuration,
		m.TombstonesActive,
		m.CompactionsTotal,
		m.CompactionPurgedDocs,
		m.QueriesTotal,
		m.QueryDuration,
		m.QueryResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
