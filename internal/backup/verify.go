// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
verify.go - Integrity Verification

An artifact is valid when three checksums agree:

  - the one recorded in the integrity store at commit time
  - the one in its .meta sidecar
  - the one recomputed from the bytes on disk

A sidecar that disagrees with the integrity store has been rewritten behind
our back and is treated exactly like corrupted bytes. Artifacts that predate
the integrity store (no record) are checked against their sidecar alone.

Verification results are collected by callers (listing, recovery
prerequisites) rather than aborting their loops.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// Verification stages, used as metric labels.
const (
	StageListing    = "listing"
	StageRecovery   = "recovery"
	StageVerify     = "verify"
	StageReconcile  = "reconcile"
	StageRemoteSync = "remote_sync"
)

// Verifier checks artifacts against their recorded checksums.
type Verifier struct {
	store     *artifact.Store
	integrity *integrity.Store
	audit     audit.Sink
	now       func() time.Time
}

// NewVerifier returns a verifier over store and records.
func NewVerifier(store *artifact.Store, records *integrity.Store, sink audit.Sink) *Verifier {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Verifier{store: store, integrity: records, audit: sink, now: time.Now}
}

// VerifyPath verifies the artifact at path and returns its metadata. stage
// labels where the check happened.
func (v *Verifier) VerifyPath(ctx context.Context, path, stage string) (artifact.Artifact, error) {
	entry, err := v.store.Stat(path)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return v.verifyEntry(ctx, entry, stage)
}

func (v *Verifier) verifyEntry(ctx context.Context, entry artifact.Entry, stage string) (artifact.Artifact, error) {
	a := entry.Artifact()
	expected := ""
	if entry.Meta != nil {
		expected = entry.Meta.Checksum
	} else if sum, err := artifact.ReadHash(entry.Path); err == nil {
		expected = sum
	}

	rec, err := v.integrity.Get(a.ID)
	switch {
	case err == nil:
		if expected != "" && expected != rec.Checksum {
			return a, v.integrityFailed(ctx, a, stage, failure.Integrity("backup.verify",
				fmt.Errorf("%w: metadata checksum of %s differs from recorded checksum", artifact.ErrChecksumMismatch, a.ID)))
		}
		expected = rec.Checksum
	case errors.Is(err, integrity.ErrNotFound):
		// Predates the integrity store.
	default:
		return a, failure.IO("backup.verify", err)
	}

	if expected == "" {
		return a, v.integrityFailed(ctx, a, stage, failure.Integrity("backup.verify",
			fmt.Errorf("%w: no checksum recorded for %s", artifact.ErrChecksumMismatch, a.ID)))
	}

	if err := artifact.Verify(ctx, entry.Path, expected); err != nil {
		if errors.Is(err, failure.ErrIntegrity) {
			return a, v.integrityFailed(ctx, a, stage, err)
		}
		return a, err
	}

	if rec.ArtifactID != "" {
		if err := v.integrity.MarkVerified(a.ID, v.now()); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("artifact_id", a.ID).Msg("Failed to stamp verification time")
		}
	}
	return a, nil
}

func (v *Verifier) integrityFailed(ctx context.Context, a artifact.Artifact, stage string, err error) error {
	metrics.IntegrityFailures.WithLabelValues(stage).Inc()
	logging.Ctx(ctx).Error().Err(err).Str("artifact_id", a.ID).Str("stage", stage).Msg("Integrity check failed")
	v.audit.Record(audit.NewEvent(ctx, audit.EventTypeBackupIntegrityFail, audit.OutcomeFailure,
		audit.ArtifactTarget(a.ID), "checksum mismatch", map[string]any{
			"stage": stage,
			"error": err.Error(),
		}))
	return err
}
