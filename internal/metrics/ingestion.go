// Package metrics defines the Prometheus collectors exported by kbase.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion and retrieval Prometheus metrics.
var (
	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Name:      "documents_ingested_total",
			Help:      "Documents that reached a terminal status",
		},
		[]string{"status"}, // "indexed" / "failed" / "cancelled"
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbase",
			Name:      "ingestion_stage_duration_seconds",
			Help:      "Time spent per ingestion stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	EmbeddingRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Name:      "embedding_retries_total",
			Help:      "Embedding batch attempts retried after a transient failure",
		},
	)

	IngestionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kbase",
			Name:      "ingestion_queue_depth",
			Help:      "Files waiting for an ingestion worker",
		},
	)

	ProgressDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Name:      "progress_events_dropped_total",
			Help:      "Progress events discarded because a subscriber fell behind",
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbase",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"status"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbase",
			Name:      "search_duration_seconds",
			Help:      "Search latency including query embedding",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

var registerOnce sync.Once

// Register registers every kbase collector with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DocumentsTotal,
			StageDuration,
			EmbeddingRetriesTotal,
			IngestionQueueDepth,
			ProgressDroppedTotal,
			SearchRequestsTotal,
			SearchDuration,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingErrorsTotal,
			EmbeddingCacheTotal,
		)
	})
}
