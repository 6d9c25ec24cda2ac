// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/notify"
	"github.com/tomtom215/snapvault/internal/workers"
)

// Deps are the collaborators shared by Engine and Lifecycle.
type Deps struct {
	Store     *artifact.Store
	Integrity *integrity.Store
	Pool      *workers.Pool
	Policy    *PolicyStore

	// Audit defaults to audit.Discard.
	Audit audit.Sink

	// Notifier defaults to notify.LogSink.
	Notifier notify.Sink
}

func (d *Deps) check() error {
	switch {
	case d.Store == nil:
		return errors.New("artifact store is required")
	case d.Integrity == nil:
		return errors.New("integrity store is required")
	case d.Pool == nil:
		return errors.New("worker pool is required")
	case d.Policy == nil:
		return errors.New("policy store is required")
	}
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogSink{}
	}
	return nil
}

// Result is the outcome of one backup creation.
type Result struct {
	Success    bool
	ArtifactID string
	Type       artifact.Type
	StartTime  time.Time
	EndTime    time.Time
	SizeBytes  int64
	Path       string
	Checksum   string

	// SourceChecksum is the checksum of the raw dump before compression and
	// encryption. A restore that reproduces it is byte-identical.
	SourceChecksum string

	Err error
}

// Duration returns EndTime - StartTime.
func (r Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

func succeeded(a artifact.Artifact, start, end time.Time) Result {
	return Result{
		Success:        true,
		ArtifactID:     a.ID,
		Type:           a.Type,
		StartTime:      start,
		EndTime:        end,
		SizeBytes:      a.SizeBytes,
		Path:           a.Path,
		Checksum:       a.Checksum,
		SourceChecksum: a.CustomValue(artifact.CustomSourceChecksum),
	}
}

func failed(id string, t artifact.Type, start, end time.Time, err error) Result {
	return Result{
		ArtifactID: id,
		Type:       t,
		StartTime:  start,
		EndTime:    end,
		Err:        err,
	}
}

// StorageStatistics is a point-in-time view of backup storage. It is
// recomputed on every check and never persisted.
type StorageStatistics struct {
	CheckedAt time.Time

	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
	UsageRatio     float64
	UsagePercent   float64

	ArtifactCount int
	ArtifactBytes int64
	CountByType   map[artifact.Type]int
	OldestAge     time.Duration
	NewestAge     time.Duration

	// AlertRaised is true when usage reached the policy threshold.
	AlertRaised bool
}

// ReconcileReport summarizes one metadata reconciliation pass.
type ReconcileReport struct {
	Scanned        int
	Synthesized    int
	Refreshed      int
	OrphansRemoved int
	RecordsPruned  int
	Failed         int
}

// SyncReport summarizes one remote replication pass.
type SyncReport struct {
	Enabled       bool
	Candidates    int
	Replicated    int
	AlreadySynced int
	Failed        int
}

// String renders the "n of m replicated" summary.
func (r SyncReport) String() string {
	if !r.Enabled {
		return "remote storage disabled"
	}
	return fmt.Sprintf("%d of %d replicated", r.Replicated, r.Candidates)
}

// CycleReport is the outcome of one maintenance cycle. Errors holds the
// failed subtasks by name; effects of the others stand.
type CycleReport struct {
	StartTime time.Time
	EndTime   time.Time

	Deleted   int
	Reconcile ReconcileReport
	Storage   StorageStatistics
	Sync      SyncReport

	Errors map[string]error
}

// Failed reports whether any subtask failed.
func (r CycleReport) Failed() bool {
	return len(r.Errors) > 0
}

// Err joins the subtask errors.
func (r CycleReport) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, name := range subtaskNames {
		if err := r.Errors[name]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Listing is one artifact as shown to operators.
type Listing struct {
	Artifact    artifact.Artifact
	HasMetadata bool

	// IntegrityValid is true when the on-disk bytes match the recorded
	// checksum. IntegrityError explains a false value.
	IntegrityValid bool
	IntegrityError string

	RemoteSynced bool
}
