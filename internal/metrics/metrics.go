// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package metrics declares the Prometheus collectors exported on /metrics.
// Collectors are registered with the default registry through promauto at
// package init; callers use the Record* helpers rather than touching vectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup Job Metrics
	BackupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_total",
			Help: "Backup job invocations by outcome",
		},
		[]string{"outcome"}, // succeeded, rescheduled, suspended, failed, locked, skipped
	)

	BackupPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_phase_duration_seconds",
			Help:    "Duration of backup job phases in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"phase"},
	)

	BackupPhaseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_phase_errors_total",
			Help: "Backup phase failures",
		},
		[]string{"phase"},
	)

	BackupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful backup job",
		},
	)

	BackupArchiveBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_archive_size_bytes",
			Help: "Size of the most recently created archive",
		},
	)

	// Upload Metrics
	UploadChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_chunks_total",
			Help: "Upload chunk requests by result",
		},
		[]string{"result"}, // continue, created, bad_response, interrupted
	)

	UploadChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_chunk_duration_seconds",
			Help:    "Duration of individual upload chunk requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_bytes_total",
			Help: "Bytes acknowledged by the remote store",
		},
	)

	UploadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_sessions_total",
			Help: "Upload sessions by outcome",
		},
		[]string{"outcome"}, // started, resumed, completed, suspended, dropped
	)

	// Retention Metrics
	RetentionDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_deletions_total",
			Help: "Artifacts removed by retention purges",
		},
		[]string{"target"}, // local, drive, log, record
	)

	// Remote Quota
	DriveQuotaBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drive_quota_bytes",
			Help: "Remote storage quota in bytes",
		},
		[]string{"kind"}, // used, total
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Authorization Metrics
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"scope", "decision"},
	)

	AuthzDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	// Settings Store Metrics
	StoreGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_store_gc_runs_total",
			Help: "Settings store value-log GC runs by result",
		},
		[]string{"result"}, // ok, error
	)

	StoreGCDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settings_store_gc_duration_seconds",
			Help:    "Duration of settings store value-log GC runs",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordJobOutcome counts a finished job invocation.
func RecordJobOutcome(outcome string) {
	BackupJobsTotal.WithLabelValues(outcome).Inc()
	if outcome == "succeeded" {
		BackupLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordPhase records how long a job phase ran and whether it failed.
func RecordPhase(phase string, duration time.Duration, err error) {
	BackupPhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		BackupPhaseErrors.WithLabelValues(phase).Inc()
	}
}

// RecordChunk records one chunk round trip. bytes is what the server acknowledged.
func RecordChunk(result string, duration time.Duration, bytes int64) {
	UploadChunksTotal.WithLabelValues(result).Inc()
	UploadChunkDuration.Observe(duration.Seconds())
	if bytes > 0 {
		UploadBytesTotal.Add(float64(bytes))
	}
}

// RecordUploadSession counts an upload session lifecycle event.
func RecordUploadSession(outcome string) {
	UploadSessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetentionDeletion counts an artifact removed by retention.
func RecordRetentionDeletion(target string) {
	RetentionDeletionsTotal.WithLabelValues(target).Inc()
}

// UpdateQuota publishes the remote quota gauges.
func UpdateQuota(used, total int64) {
	DriveQuotaBytes.WithLabelValues("used").Set(float64(used))
	DriveQuotaBytes.WithLabelValues("total").Set(float64(total))
}

// RecordAuthzDecision records one policy decision.
func RecordAuthzDecision(scope string, allowed bool, duration time.Duration) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	AuthzDecisionsTotal.WithLabelValues(scope, decision).Inc()
	AuthzDecisionDuration.Observe(duration.Seconds())
}

// RecordStoreGC records one settings store GC run.
func RecordStoreGC(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreGCRuns.WithLabelValues(result).Inc()
	StoreGCDuration.Observe(duration.Seconds())
}

// SetAppInfo publishes the build information gauge.
func SetAppInfo(version, goVersion string) {
	AppInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
