// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/remote"
)

// SyncToRemoteStorage replicates every artifact not yet marked as synced
// and marks it afterwards. It is a no-op while remote storage is disabled.
// Artifacts that fail verification are not uploaded. Failures are counted
// per artifact and retried on the next cycle.
func (l *Lifecycle) SyncToRemoteStorage(ctx context.Context) (SyncReport, error) {
	if !l.policy.Get().RemoteStorageEnabled || l.remote == nil {
		return SyncReport{}, nil
	}

	report := SyncReport{Enabled: true}
	entries, err := l.store.List(ctx)
	if err != nil {
		return report, err
	}

	logger := logging.Ctx(ctx)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e.Meta == nil {
			// Reconciliation will give it metadata; sync it next cycle.
			continue
		}
		if synced, _ := strconv.ParseBool(e.Meta.CustomValue(artifact.CustomRemoteSynced)); synced {
			report.AlreadySynced++
			continue
		}

		report.Candidates++
		if err := l.replicate(ctx, e); err != nil {
			report.Failed++
			metrics.RemoteSyncArtifacts.WithLabelValues("failed").Inc()
			logger.Warn().Err(err).Str("artifact_id", e.Name.ID).Msg("Remote replication failed")
			if errors.Is(err, remote.ErrUnavailable) {
				logger.Warn().Msg("Remote target unavailable; deferring the rest to the next cycle")
				remaining := countRemaining(entries, e.Name.ID)
				report.Candidates += remaining
				report.Failed += remaining
				break
			}
			continue
		}
		report.Replicated++
		metrics.RemoteSyncArtifacts.WithLabelValues("replicated").Inc()
	}

	logger.Info().Str("result", report.String()).Int("already_synced", report.AlreadySynced).Msg("Remote sync finished")
	if report.Failed > 0 {
		return report, fmt.Errorf("remote sync incomplete: %s", report)
	}
	return report, nil
}

// countRemaining counts the unsynced artifacts listed after id.
func countRemaining(entries []artifact.Entry, id string) int {
	n := 0
	after := false
	for _, e := range entries {
		if after && e.Meta != nil {
			if synced, _ := strconv.ParseBool(e.Meta.CustomValue(artifact.CustomRemoteSynced)); !synced {
				n++
			}
		}
		if e.Name.ID == id {
			after = true
		}
	}
	return n
}

// replicate uploads one artifact after verifying it, so corrupted bytes are
// never replicated or marked synced.
func (l *Lifecycle) replicate(ctx context.Context, e artifact.Entry) error {
	if _, err := l.verifier.verifyEntry(ctx, e, StageRemoteSync); err != nil {
		if errors.Is(err, failure.ErrIntegrity) {
			l.notifyIntegrity(ctx, e.Name.ID, err)
		}
		return err
	}

	f, err := os.Open(e.Path) //nolint:gosec // G304: path is inside the backup directory
	if err != nil {
		return failure.IO("backup.remote_sync", err)
	}
	defer f.Close() //nolint:errcheck // Read-only

	meta := map[string]string{
		"backupId":    e.Meta.ID,
		"backupType":  string(e.Meta.Type),
		"checksum":    e.Meta.Checksum,
		"createdTime": e.Meta.CreatedTime.UTC().Format(time.RFC3339),
	}
	if err := l.remote.Upload(ctx, filepath.Base(e.Path), f, e.Size, meta); err != nil {
		return err
	}

	syncedAt := l.now().UTC().Format(time.RFC3339)
	_, err = l.store.UpdateMetadata(e.Path, func(a *artifact.Artifact) error {
		*a = a.WithCustom(artifact.CustomRemoteSynced, "true").WithCustom(artifact.CustomRemoteSyncedAt, syncedAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replicated but failed to mark synced: %w", err)
	}

	l.audit.Record(audit.NewEvent(ctx, audit.EventTypeBackupRemoteSynced, audit.OutcomeSuccess,
		audit.ArtifactTarget(e.Meta.ID), "artifact replicated", map[string]any{"size_bytes": e.Size}))
	return nil
}
