// Package metrics holds the Prometheus collectors of the ingestion service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ris_study_ingest"

var (
	IngestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingestions_total",
		Help:      "Study ingestions by outcome (ok or error kind).",
	}, []string{"outcome"})

	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingestion_duration_seconds",
		Help:      "End-to-end duration of study ingestions.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	PACSRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pacs_requests_total",
		Help:      "Requests sent to the PACS by operation and outcome.",
	}, []string{"operation", "outcome"})

	PACSRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pacs_request_duration_seconds",
		Help:      "Latency of PACS requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensating_deletes_total",
		Help:      "Compensating remote deletes issued after failed ingestions.",
	}, []string{"outcome"})

	ViewerCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "viewer_cache_lookups_total",
		Help:      "Viewer configuration cache lookups by result.",
	}, []string{"result"})
)

// Outcome returns "ok" for a nil error and the classified kind otherwise.
func Outcome(kind string) string {
	if kind == "" {
		return "ok"
	}
	return kind
}

// ObservePACS records one PACS request.
func ObservePACS(operation, kind string, started time.Time) {
	PACSRequestsTotal.WithLabelValues(operation, Outcome(kind)).Inc()
	PACSRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveIngestion records one finished ingestion.
func ObserveIngestion(kind string, started time.Time) {
	IngestionsTotal.WithLabelValues(Outcome(kind)).Inc()
	IngestionDuration.Observe(time.Since(started).Seconds())
}
