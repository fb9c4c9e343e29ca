// Package metrics registers the Prometheus instruments shared by the
// consumer, worker, and detection pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the drift service
type Metrics struct {
	// Ingestion metrics
	EventsConsumed *prometheus.CounterVec
	EventsAcked    prometheus.Counter
	DeadLetters    prometheus.Counter

	// Scan metrics
	ScansTotal   *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	JobsEnqueued *prometheus.CounterVec

	// Detection metrics
	DriftEventsDetected *prometheus.CounterVec
	DriftScore          *prometheus.HistogramVec
	EventsPublished     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Consumed Events Counter
		EventsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drift_events_consumed_total",
				Help: "Total behavior events read from the inbound stream",
			},
			[]string{"event_type", "result"}, // result: handled, dropped, failed
		),

		// Acked Events Counter
		EventsAcked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "drift_events_acked_total",
				Help: "Total behavior events acknowledged to the consumer group",
			},
		),

		// Dead Letter Counter
		DeadLetters: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "drift_dead_letters_total",
				Help: "Total messages moved to the dead letter stream",
			},
		),

		// Scan Counter
		ScansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drift_scans_total",
				Help: "Total drift scans executed by the worker pool",
			},
			[]string{"status"}, // status: done, failed, skipped
		),

		// Scan Duration Histogram
		ScanDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drift_scan_duration_seconds",
				Help:    "Wall-clock duration of a full drift scan",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
			},
		),

		// Enqueued Jobs Counter
		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drift_jobs_enqueued_total",
				Help: "Total scan jobs enqueued",
			},
			[]string{"trigger"},
		),

		// Detected Drift Events Counter
		DriftEventsDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drift_events_detected_total",
				Help: "Total drift events persisted, by type and severity",
			},
			[]string{"drift_type", "severity"},
		),

		// Drift Score Histogram
		DriftScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drift_signal_score",
				Help:    "Aggregated drift scores that cleared the threshold",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"drift_type"},
		),

		// Published Events Counter
		EventsPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "drift_events_published_total",
				Help: "Total drift events published to the outbound stream",
			},
		),
	}
}

// RecordEventConsumed records one inbound event outcome
func (m *Metrics) RecordEventConsumed(eventType, result string) {
	m.EventsConsumed.WithLabelValues(eventType, result).Inc()
}

// RecordScan records a completed scan with its wall-clock duration
func (m *Metrics) RecordScan(status string, seconds float64) {
	m.ScansTotal.WithLabelValues(status).Inc()
	m.ScanDuration.Observe(seconds)
}

// RecordJobEnqueued records a newly queued scan job
func (m *Metrics) RecordJobEnqueued(trigger string) {
	m.JobsEnqueued.WithLabelValues(trigger).Inc()
}

// RecordDriftEvent records one persisted drift event
func (m *Metrics) RecordDriftEvent(driftType, severity string, score float64) {
	m.DriftEventsDetected.WithLabelValues(driftType, severity).Inc()
	m.DriftScore.WithLabelValues(driftType).Observe(score)
}
