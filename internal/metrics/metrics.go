// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Backup creation (count, duration, size)
// - The maintenance cycle and its four subtasks
// - Storage usage and alerts
// - Recovery operations
// - Remote replication and its circuit breaker
// - Notifications and the worker pool
// - The metrics and health endpoint itself

var (
	// Backup Creation Metrics
	BackupsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_backups_total",
			Help: "Total number of backup attempts",
		},
		[]string{"type", "status"}, // status: "success", "failure"
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_backup_duration_seconds",
			Help:    "Duration of backup creation in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)

	BackupSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_backup_size_bytes",
			Help:    "Size of committed backup artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10), // 1 MiB .. 256 GiB
		},
		[]string{"type"},
	)

	BackupLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapvault_backup_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful backup",
		},
		[]string{"type"},
	)

	// Maintenance Cycle Metrics
	LifecycleCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_lifecycle_cycles_total",
			Help: "Total number of maintenance cycles",
		},
		[]string{"result"},
	)

	LifecycleCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapvault_lifecycle_cycle_duration_seconds",
			Help:    "Duration of maintenance cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	LifecycleSubtasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_lifecycle_subtasks_total",
			Help: "Total number of maintenance subtask runs",
		},
		[]string{"subtask", "result"},
	)

	CleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapvault_cleanup_deleted_total",
			Help: "Total number of expired artifacts deleted",
		},
	)

	ReconcileRewritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_reconcile_rewritten_total",
			Help: "Total number of metadata sidecars written by reconciliation",
		},
		[]string{"reason"}, // "missing", "size_drift", "orphan"
	)

	RemoteSyncArtifacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_remote_sync_artifacts_total",
			Help: "Total number of artifacts processed by remote sync",
		},
		[]string{"result"}, // "replicated", "failed"
	)

	// Storage Metrics
	StorageUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapvault_storage_usage_ratio",
			Help: "Used fraction of the filesystem holding the backup directory",
		},
	)

	StorageArtifacts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapvault_storage_artifacts",
			Help: "Current number of artifacts by type",
		},
		[]string{"type"},
	)

	StorageAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapvault_storage_alerts_total",
			Help: "Total number of storage threshold alerts raised",
		},
	)

	IntegrityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_integrity_failures_total",
			Help: "Total number of checksum mismatches detected",
		},
		[]string{"stage"}, // "listing", "recovery", "verify"
	)

	// Recovery Metrics
	RecoveryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_recovery_operations_total",
			Help: "Total number of recovery operations",
		},
		[]string{"type", "result"},
	)

	RecoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_recovery_duration_seconds",
			Help:    "Duration of recovery operations in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)

	RecoveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapvault_recoveries_in_flight",
			Help: "Current number of running recovery operations",
		},
	)

	// Notification Metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_notifications_total",
			Help: "Total number of notifications sent",
		},
		[]string{"sink", "result"},
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

	// Observability Endpoint Metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_http_requests_total",
			Help: "Total number of requests to the metrics and health endpoint",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_http_request_duration_seconds",
			Help:    "Duration of requests to the metrics and health endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordBackup records the outcome of one backup attempt.
func RecordBackup(backupType string, duration time.Duration, sizeBytes int64, err error) {
	BackupsCreated.WithLabelValues(backupType, resultLabel(err)).Inc()
	BackupDuration.WithLabelValues(backupType).Observe(duration.Seconds())
	if err == nil {
		BackupSizeBytes.WithLabelValues(backupType).Observe(float64(sizeBytes))
		BackupLastSuccess.WithLabelValues(backupType).SetToCurrentTime()
	}
}

// RecordCycle records one maintenance cycle.
func RecordCycle(duration time.Duration, err error) {
	LifecycleCycles.WithLabelValues(resultLabel(err)).Inc()
	LifecycleCycleDuration.Observe(duration.Seconds())
}

// RecordSubtask records one maintenance subtask run.
func RecordSubtask(subtask string, err error) {
	LifecycleSubtasks.WithLabelValues(subtask, resultLabel(err)).Inc()
}

// UpdateStorage publishes the latest storage statistics.
func UpdateStorage(usageRatio float64, countByType map[string]int) {
	StorageUsageRatio.Set(usageRatio)
	for t, n := range countByType {
		StorageArtifacts.WithLabelValues(t).Set(float64(n))
	}
}

// RecordRecovery records a finished recovery operation.
func RecordRecovery(recoveryType string, duration time.Duration, err error) {
	RecoveryOperations.WithLabelValues(recoveryType, resultLabel(err)).Inc()
	RecoveryDuration.WithLabelValues(recoveryType).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request. route is the matched
// pattern, not the raw path, to bound label cardinality.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(sink string, err error) {
	NotificationsSent.WithLabelValues(sink, resultLabel(err)).Inc()
}

// RegisterWorkerPool exposes worker pool occupancy as gauges. Only the first
// registration takes effect.
func RegisterWorkerPool(running, queued func() float64) {
	for _, g := range []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "snapvault_workers_running",
			Help: "Current number of tasks executing on the worker pool",
		}, running),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "snapvault_workers_queued",
			Help: "Current number of tasks waiting for a worker",
		}, queued),
	} {
		if err := prometheus.Register(g); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err) // invalid descriptor, a programming error
		}
	}
}
