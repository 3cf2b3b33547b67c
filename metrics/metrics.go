// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry; the HTTP layer exposes them under
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts terminal task outcomes by status.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrofind",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Tasks brought to a terminal state, by status.",
	}, []string{"status"})

	// TaskRetries counts republished messages.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hydrofind",
		Subsystem: "worker",
		Name:      "task_retries_total",
		Help:      "Messages republished after a transient failure.",
	})

	// OracleCalls counts oracle operations by outcome.
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrofind",
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Oracle calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	// CacheHits counts search-cache hits by where the probe ran.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrofind",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Search cache hits by probing component.",
	}, []string{"component"})

	// CatalogSearches counts catalog lookups by component type.
	CatalogSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrofind",
		Subsystem: "catalog",
		Name:      "searches_total",
		Help:      "Catalog searches by component type.",
	}, []string{"component_type"})

	// StageDuration observes per-stage pipeline latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hydrofind",
		Subsystem: "worker",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"stage"})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrofind",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "code"})
)
