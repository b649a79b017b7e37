// Package metrics defines the Prometheus metrics of the reconciliation runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run metrics
var (
	// RunsTotal tracks reconciliation runs by final status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securitysync_runs_total",
			Help: "Total number of reconciliation runs by status",
		},
		[]string{"status"},
	)

	// RunDuration tracks reconciliation run duration
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "securitysync_run_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// LastRunTimestamp records when the last run finished
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "securitysync_last_run_timestamp_seconds",
			Help: "Unix time the last reconciliation run finished",
		},
	)
)

// Finding metrics
var (
	// FindingsTotal tracks per-finding outcomes by source record kind
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securitysync_findings_total",
			Help: "Total number of reconciled findings by source and outcome",
		},
		[]string{"source", "outcome"},
	)
)

// Tracker metrics
var (
	// TrackerRequestsTotal tracks tracker API calls by operation and status
	TrackerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securitysync_tracker_requests_total",
			Help: "Total number of tracker API requests by operation and status",
		},
		[]string{"operation", "status"},
	)
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RecordRun records a finished run.
func RecordRun(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
	LastRunTimestamp.SetToCurrentTime()
}

// RecordFinding records one finding outcome.
func RecordFinding(source, outcome string) {
	FindingsTotal.WithLabelValues(source, outcome).Inc()
}

// RecordTrackerRequest records one tracker API call.
func RecordTrackerRequest(operation string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	TrackerRequestsTotal.WithLabelValues(operation, status).Inc()
}

// WriteTextfile writes all registered metrics to path in the text exposition
// format, for the node-exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
