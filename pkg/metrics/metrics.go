// Package metrics defines the Prometheus metric collectors used across the
// cluster-coordination and query planes, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for a Katta process. Not every
// field is populated by every component: a Worker never touches the
// election gauges, and a Master never touches the query ones.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Query Coordinator.
	QueriesTotal       *prometheus.CounterVec
	QueryLatency       *prometheus.HistogramVec
	QueryResultsCount  prometheus.Histogram
	ScatterShardErrors *prometheus.CounterVec
	ResultCacheHits    prometheus.Counter
	ResultCacheMisses  prometheus.Counter
	MergeLatency       prometheus.Histogram

	// Worker node.
	ShardOpensTotal    *prometheus.CounterVec
	ShardDocCount      *prometheus.GaugeVec
	OpenShards         prometheus.Gauge
	SearchPoolInFlight prometheus.Gauge
	SearchPoolRejected prometheus.Counter
	FilterCacheHits    prometheus.Counter
	FilterCacheMisses  prometheus.Counter

	// Master.
	ElectionTransitionsTotal *prometheus.CounterVec
	IsActiveMaster           prometheus.Gauge
	AssignmentsTotal         *prometheus.CounterVec
	RecoveryRunsTotal        prometheus.Counter
	IndexesByState           *prometheus.GaugeVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics for a process. A process
// only reports nonzero values for the collectors its component actually
// drives.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "katta_http_requests_total",
				Help: "Total number of admin HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "katta_http_request_duration_seconds",
				Help:    "Admin HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "katta_http_requests_in_flight",
				Help: "Number of admin HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "katta_queries_total",
				Help: "Total queries handled by the coordinator, by outcome.",
			},
			[]string{"outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "katta_query_latency_seconds",
				Help:    "End-to-end query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "katta_query_results_count",
				Help:    "Number of hits returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		ScatterShardErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "katta_scatter_shard_errors_total",
				Help: "Per-query shard RPC failures during scatter, by reason.",
			},
			[]string{"reason"},
		),
		ResultCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katta_result_cache_hits_total",
				Help: "Total result-cache hits at the coordinator.",
			},
		),
		ResultCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katta_result_cache_misses_total",
				Help: "Total result-cache misses at the coordinator.",
			},
		),
		MergeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "katta_merge_latency_seconds",
				Help:    "Time spent merging per-shard hit lists into the final top-K.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
		ShardOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "katta_shard_opens_total",
				Help: "Shard open attempts by outcome (success, error).",
			},
			[]string{"outcome"},
		),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "katta_shard_document_count",
				Help: "Number of documents in an open shard replica.",
			},
			[]string{"shard"},
		),
		OpenShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "katta_open_shards",
				Help: "Number of shard replicas this node currently has open.",
			},
		),
		SearchPoolInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "katta_search_pool_in_flight",
				Help: "Number of search/docFreqs RPCs currently executing in the node's pool.",
			},
		),
		SearchPoolRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katta_search_pool_rejected_total",
				Help: "Number of RPCs rejected because the search pool was saturated.",
			},
		),
		FilterCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katta_filter_cache_hits_total",
				Help: "Total filter-cache hits on a worker node.",
			},
		),
		FilterCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katta_filter_cache_misses_total",
				Help: "Total filter-cache misses on a worker node.",
			},
		),
		ElectionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "katta_election_transitions_total",
				Help: "Master election state transitions by new state (candidate, leader, follower).",
			},
			[]string{"state"},
		),
		IsActiveMaster: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "katta_is_active_master",
				Help: "1 if this process currently holds the master election, else 0.",
			},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "katta_assignments_total",
				Help: "Shard assignment decisions made by the master, by reason.",
			},
			[]string{"reason"},
		),
		RecoveryRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katta_recovery_runs_total",
				Help: "Number of failure-recovery passes run by the master.",
			},
		),
		IndexesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "katta_indexes_by_state",
				Help: "Number of indexes currently in each lifecycle state.",
			},
			[]string{"state"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "katta_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.ScatterShardErrors,
		m.ResultCacheHits,
		m.ResultCacheMisses,
		m.MergeLatency,
		m.ShardOpensTotal,
		m.ShardDocCount,
		m.OpenShards,
		m.SearchPoolInFlight,
		m.SearchPoolRejected,
		m.FilterCacheHits,
		m.FilterCacheMisses,
		m.ElectionTransitionsTotal,
		m.IsActiveMaster,
		m.AssignmentsTotal,
		m.RecoveryRunsTotal,
		m.IndexesByState,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
