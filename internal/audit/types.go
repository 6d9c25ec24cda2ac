// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Backup events
	EventTypeBackupCreated       EventType = "backup.created"
	EventTypeBackupFailed        EventType = "backup.failed"
	EventTypeBackupDeleted       EventType = "backup.deleted"
	EventTypeMetadataReconciled  EventType = "backup.metadata_reconciled"
	EventTypeBackupRemoteSynced  EventType = "backup.remote_synced"
	EventTypeBackupIntegrityFail EventType = "backup.integrity_failed"

	// Policy events
	EventTypePolicyUpdated EventType = "policy.updated"

	// Storage events
	EventTypeStorageAlert EventType = "storage.alert"

	// Recovery events
	EventTypeRecoveryStarted   EventType = "recovery.started"
	EventTypeRecoveryCompleted EventType = "recovery.completed"
	EventTypeRecoveryFailed    EventType = "recovery.failed"

	// Authorization events
	EventTypeAuthzDenied EventType = "authz.denied"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Severity of the event.
	Severity Severity `json:"severity"`

	// Outcome indicates success or failure.
	Outcome Outcome `json:"outcome"`

	// Actor who performed the action.
	Actor Actor `json:"actor"`

	// Target of the action (optional).
	Target *Target `json:"target,omitempty"`

	// Action describes what was done.
	Action string `json:"action"`

	// Description provides human-readable details.
	Description string `json:"description"`

	// Metadata contains event-specific details.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// CorrelationID links related events.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Actor represents who performed an action.
type Actor struct {
	// ID is the operator ID or "system".
	ID string `json:"id"`

	// Type of actor (operator, system).
	Type string `json:"type"`

	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Target represents the object of an action.
type Target struct {
	// ID of the target resource.
	ID string `json:"id"`

	// Type of target (artifact, recovery, policy, storage).
	Type string `json:"type"`

	Name string `json:"name,omitempty"`
}

// Sink accepts audit events without blocking.
type Sink interface {
	Record(event Event)
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the retention period.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	Types    []EventType `json:"types,omitempty"`
	Outcomes []Outcome   `json:"outcomes,omitempty"`

	ActorID    string `json:"actor_id,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`

	// StartTime is the beginning of the time range.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the end of the time range.
	EndTime *time.Time `json:"end_time,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`

	// Limit is the maximum number of results.
	Limit int `json:"limit,omitempty"`
}
