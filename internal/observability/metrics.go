// Package observability holds the engine-level Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recurring_engine",
		Subsystem: "runs",
		Name:      "total",
		Help:      "Materialization runs, labeled by outcome.",
	}, []string{"outcome"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "recurring_engine",
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time of a materialization run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	definitionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recurring_engine",
		Subsystem: "definitions",
		Name:      "results_total",
		Help:      "Per-definition run results, labeled by result tag.",
	}, []string{"tag"})

	occurrencesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recurring_engine",
		Subsystem: "occurrences",
		Name:      "total",
		Help:      "Occurrences consumed by the catch-up loop, labeled by outcome.",
	}, []string{"outcome"})

	lastRunGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "recurring_engine",
		Subsystem: "runs",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful run.",
	})
)

func init() {
	prometheus.MustRegister(runsCounter, runDuration, definitionsCounter, occurrencesCounter, lastRunGauge)
}

// Occurrence outcomes.
const (
	OccurrenceMaterialized    = "materialized"
	OccurrenceDuplicate       = "duplicate"
	OccurrenceRateUnavailable = "rate_unavailable"
	OccurrenceWriteFailed     = "write_failed"
)

// RecordRun records one run's outcome and duration.
func RecordRun(outcome string, started time.Time, finished time.Time) {
	runsCounter.WithLabelValues(outcome).Inc()
	runDuration.Observe(finished.Sub(started).Seconds())
	if outcome == "success" {
		lastRunGauge.Set(float64(finished.Unix()))
	}
}

// RecordDefinition counts one per-definition result.
func RecordDefinition(tag string) {
	definitionsCounter.WithLabelValues(tag).Inc()
}

// RecordOccurrence counts one consumed occurrence.
func RecordOccurrence(outcome string) {
	occurrencesCounter.WithLabelValues(outcome).Inc()
}
