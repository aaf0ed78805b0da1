// Package metrics registers the pipeline's Prometheus collectors and
// keeps short sliding windows of raw samples for the JSON metrics
// endpoints the dashboard polls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts queries accepted by the query service,
	// including ones answered from cache.
	QueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_queries_total",
		Help: "Total number of queries processed",
	})
	// QueryErrorsTotal counts queries that failed with an error.
	QueryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_query_errors_total",
		Help: "Total number of query errors",
	})
	// QueryLatencySeconds observes end-to-end query latency.
	QueryLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_query_latency_seconds",
		Help:    "Query latency in seconds",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0},
	})
	// QueryDurationSeconds observes query processing time.
	QueryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_query_duration_seconds",
		Help:    "Query processing duration",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0},
	})

	// UpdatesTotal counts CDC events accepted by the event processor.
	UpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_updates_total",
		Help: "Total number of document updates processed",
	})
	// UpdateErrorsTotal counts events whose processing raised an error.
	UpdateErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_update_errors_total",
		Help: "Total number of update errors",
	})
	// UpdateLagSeconds observes the time from the source-database change
	// to the completed vector update.
	UpdateLagSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_update_lag_seconds",
		Help:    "Time from DB change to vector update",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	})
	// UpdateProcessingDuration observes per-event processing time.
	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_update_processing_duration_seconds",
		Help:    "Update processing duration",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0},
	})
)
