// Package observability holds the Prometheus collectors of the search pipeline.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	searchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_runs_total",
			Help: "Search runs by terminal outcome.",
		},
		[]string{"search", "outcome"},
	)

	searchStageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_stage_duration_seconds",
			Help:    "Duration of buffer and query stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"stage"},
	)

	staleCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_stale_completions_total",
			Help: "Completions discarded because a newer request was live.",
		},
		[]string{"stage"},
	)

	selectionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "selection_size",
			Help: "Selected features per rendered layer after the last reconciliation.",
		},
		[]string{"layer"},
	)

	queryCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_results_total",
			Help: "Spatial query cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Feature change events applied to the query cache.",
		},
		[]string{"op", "result"},
	)

	invalidationLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Age of the last consumed change event.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with reg (the default registerer when nil).
// Later calls are no-ops.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			upstreamLatencySeconds,
			searchRunsTotal,
			searchStageSeconds,
			staleCompletionsTotal,
			selectionSize,
			queryCacheResults,
			invalidationsTotal,
			invalidationLagSeconds,
			kafkaConsumerErrors,
		)
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstream(upstream string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamLatencySeconds.WithLabelValues(upstream, outcome).Observe(durationSeconds)
}

func ObserveStage(stage string, durationSeconds float64) {
	searchStageSeconds.WithLabelValues(stage).Observe(durationSeconds)
}

func IncSearchRun(search, outcome string) {
	searchRunsTotal.WithLabelValues(search, outcome).Inc()
}

func IncStaleCompletion(stage string) {
	staleCompletionsTotal.WithLabelValues(stage).Inc()
}

func SetSelectionSize(layer string, n int) {
	selectionSize.WithLabelValues(layer).Set(float64(n))
}

func IncQueryCache(outcome string) {
	queryCacheResults.WithLabelValues(outcome).Inc()
}

func ObserveInvalidation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationsTotal.WithLabelValues(op, result).Inc()
}

func SetInvalidationLag(seconds float64) {
	invalidationLagSeconds.Set(seconds)
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}
