// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// UpdateBackupMetadata reconciles sidecars with the files on disk:
//
//   - artifacts without metadata get it synthesized from their file name
//     (type from the prefix, FULL when unrecognized) and a fresh checksum
//   - artifacts whose size differs from the recorded size get their checksum
//     recomputed and metadata rewritten; when this replaces a committed
//     integrity record the change is reported as an integrity failure and
//     the recipients are notified
//   - sidecars and integrity records whose artifact is gone are removed
//
// A synthesized checksum never overrides an existing integrity record; such
// an artifact is counted as failed and left for an operator.
func (l *Lifecycle) UpdateBackupMetadata(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	entries, err := l.store.List(ctx)
	if err != nil {
		return report, err
	}

	logger := logging.Ctx(ctx)
	live := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		live[e.Name.ID] = true

		switch {
		case e.Meta == nil:
			if err := l.synthesize(ctx, e); err != nil {
				report.Failed++
				logger.Warn().Err(err).Str("artifact_id", e.Name.ID).Msg("Failed to synthesize metadata")
				continue
			}
			report.Synthesized++
			metrics.ReconcileRewritten.WithLabelValues("missing").Inc()

		case e.Meta.SizeBytes != e.Size:
			if err := l.refresh(ctx, e); err != nil {
				report.Failed++
				logger.Warn().Err(err).Str("artifact_id", e.Name.ID).Msg("Failed to refresh metadata")
				continue
			}
			report.Refreshed++
			metrics.ReconcileRewritten.WithLabelValues("size_drift").Inc()
		}
	}

	orphans, err := l.store.RemoveOrphanSidecars(ctx)
	if err != nil {
		return report, err
	}
	report.OrphansRemoved = orphans
	metrics.ReconcileRewritten.WithLabelValues("orphan").Add(float64(orphans))

	pruned, err := l.integrity.Prune(ctx, live)
	if err != nil {
		return report, err
	}
	report.RecordsPruned = pruned

	if report.Synthesized+report.Refreshed+report.OrphansRemoved > 0 {
		logger.Info().
			Int("synthesized", report.Synthesized).
			Int("refreshed", report.Refreshed).
			Int("orphans", report.OrphansRemoved).
			Int("pruned", report.RecordsPruned).
			Msg("Backup metadata reconciled")
	}
	if report.Failed > 0 {
		return report, fmt.Errorf("%d of %d artifacts could not be reconciled", report.Failed, report.Scanned)
	}
	return report, nil
}

func (l *Lifecycle) synthesize(ctx context.Context, e artifact.Entry) error {
	sum, size, err := artifact.Checksum(ctx, e.Path)
	if err != nil {
		return err
	}

	rec, err := l.integrity.Get(e.Name.ID)
	switch {
	case err == nil && rec.Checksum != sum:
		return l.verifier.integrityFailed(ctx, e.Artifact(), StageVerify, failure.Integrity("backup.reconcile",
			fmt.Errorf("%w: %s no longer matches its recorded checksum", artifact.ErrChecksumMismatch, e.Name.ID)))
	case err != nil && !errors.Is(err, integrity.ErrNotFound):
		return err
	}

	a := e.Artifact()
	a.Checksum = sum
	a.SizeBytes = size
	a.ExpiryTime = a.CreatedTime.AddDate(0, 0, l.policy.Get().RetentionDays)
	if err := l.store.SaveMetadata(a); err != nil {
		return err
	}
	if err := l.integrity.Put(integrity.Record{ArtifactID: a.ID, Checksum: sum, SizeBytes: size}); err != nil {
		return err
	}

	l.audit.Record(audit.NewEvent(ctx, audit.EventTypeMetadataReconciled, audit.OutcomeSuccess,
		audit.ArtifactTarget(a.ID), "metadata synthesized", map[string]any{"reason": "missing", "size_bytes": size}))
	return nil
}

func (l *Lifecycle) refresh(ctx context.Context, e artifact.Entry) error {
	sum, size, err := artifact.Checksum(ctx, e.Path)
	if err != nil {
		return err
	}
	previous := e.Meta.SizeBytes

	rec, err := l.integrity.Get(e.Name.ID)
	switch {
	case err == nil && rec.Checksum != sum:
		drift := l.verifier.integrityFailed(ctx, e.Artifact(), StageReconcile, failure.Integrity("backup.reconcile",
			fmt.Errorf("%w: %s changed size from %d to %d bytes after commit", artifact.ErrChecksumMismatch, e.Name.ID, rec.SizeBytes, size)))
		l.notifyIntegrity(ctx, e.Name.ID, drift)
	case err != nil && !errors.Is(err, integrity.ErrNotFound):
		return err
	}

	a, err := l.store.UpdateMetadata(e.Path, func(a *artifact.Artifact) error {
		a.Checksum = sum
		a.SizeBytes = size
		return nil
	})
	if err != nil {
		return err
	}
	if err := l.integrity.Put(integrity.Record{ArtifactID: a.ID, Checksum: sum, SizeBytes: size}); err != nil {
		return err
	}

	logging.Ctx(ctx).Warn().
		Str("artifact_id", a.ID).
		Int64("recorded_size", previous).
		Int64("actual_size", size).
		Msg("Artifact size changed; metadata rewritten")
	l.audit.Record(audit.NewEvent(ctx, audit.EventTypeMetadataReconciled, audit.OutcomeSuccess,
		audit.ArtifactTarget(a.ID), "metadata refreshed after size change", map[string]any{
			"reason":        "size_drift",
			"recorded_size": previous,
			"actual_size":   size,
		}))
	return nil
}

// notifyIntegrity tells the recipients that an artifact no longer matches
// the checksum recorded when it was committed.
func (l *Lifecycle) notifyIntegrity(ctx context.Context, id string, cause error) {
	subject := "Snapvault integrity failure: " + id
	body := fmt.Sprintf("Backup artifact %s in %s failed integrity verification: %v", id, l.store.Dir(), cause)
	for _, r := range uniqueRecipients(l.cfg.Recipients) {
		if err := l.notifier.Send(ctx, r, subject, body); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("recipient", r).Str("artifact_id", id).Msg("Failed to send integrity notification")
		}
	}
}
