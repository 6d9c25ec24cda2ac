// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package metrics provides Prometheus metrics collection and export for observability.

All collectors are registered on the default registry through promauto and are
exposed by the server's /metrics endpoint:

	curl http://localhost:9477/metrics

# Available Metrics

Backup Metrics:
  - snapvault_backups_total: Backup attempts (counter)
    Labels: type, status
  - snapvault_backup_duration_seconds: Creation latency (histogram)
    Labels: type
  - snapvault_backup_size_bytes: Committed artifact size (histogram)
    Labels: type
  - snapvault_backup_last_success_timestamp_seconds: Last success (gauge)
    Labels: type

Maintenance Cycle Metrics:
  - snapvault_lifecycle_cycles_total: Cycles run (counter)
    Labels: result
  - snapvault_lifecycle_cycle_duration_seconds: Cycle latency (histogram)
  - snapvault_lifecycle_subtasks_total: Subtask runs (counter)
    Labels: subtask (cleanup, reconcile, storage, remote_sync), result
  - snapvault_cleanup_deleted_total: Expired artifacts deleted (counter)
  - snapvault_reconcile_rewritten_total: Sidecars written by reconciliation (counter)
    Labels: reason
  - snapvault_remote_sync_artifacts_total: Replication attempts (counter)
    Labels: result

Storage Metrics:
  - snapvault_storage_usage_ratio: Filesystem usage, 0..1 (gauge)
  - snapvault_storage_artifacts: Artifacts by type (gauge)
    Labels: type
  - snapvault_storage_alerts_total: Threshold alerts raised (counter)
  - snapvault_integrity_failures_total: Checksum mismatches (counter)
    Labels: stage

Recovery Metrics:
  - snapvault_recovery_operations_total: Recoveries (counter)
    Labels: type, result
  - snapvault_recovery_duration_seconds: Recovery latency (histogram)
    Labels: type
  - snapvault_recoveries_in_flight: Running recoveries (gauge)

Circuit Breaker Metrics (remote target):
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge)
  - circuit_breaker_requests_total: Labels: name, result (counter)
  - circuit_breaker_consecutive_failures: (gauge)
  - circuit_breaker_state_transitions_total: Labels: name, from_state, to_state

Other:
  - snapvault_notifications_total: Labels: sink, result (counter)
  - snapvault_workers_running, snapvault_workers_queued: Pool occupancy (gauge)

# Thread Safety

All collectors are safe for concurrent use.
*/
package metrics
