// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package audit records the security-relevant history of the backup service:
// which artifacts were created, deleted or repaired, who changed the retention
// policy, and every recovery attempt with its outcome.
//
// # Event Types
//
// Backup events:
//   - backup.created, backup.failed: creation attempts
//   - backup.deleted: retention cleanup
//   - backup.metadata_reconciled: sidecar synthesized or rewritten
//   - backup.remote_synced: artifact replicated offsite
//
// Policy and storage events:
//   - policy.updated: retention policy changes (applied and rejected fields)
//   - storage.alert: usage at or above the alert threshold
//
// Recovery events:
//   - recovery.started, recovery.completed, recovery.failed
//   - authz.denied: recovery refused for lack of permission or confirmation
//
// # Architecture
//
// Recording never blocks the caller:
//
//	Logger.Record() -> Event Buffer (chan) -> Async Writer -> Store
//	                        |                      |
//	                    Non-blocking          Background goroutine
//
// When the buffer is full the event is dropped with a warning log. Close
// drains the buffer before returning.
//
// # Usage Example
//
//	store := audit.NewMemoryStore(10000)
//	logger := audit.NewLogger(store, audit.DefaultConfig())
//	defer logger.Close()
//
//	logger.Record(audit.NewEvent(ctx, audit.EventTypeBackupDeleted, audit.OutcomeSuccess,
//	    audit.ArtifactTarget(id), "Expired artifact deleted", nil))
//
// # Thread Safety
//
// Logger and MemoryStore are safe for concurrent use.
package audit
