// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"

	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// CleanupExpiredBackups deletes every artifact older than the live retention
// period together with its sidecars and integrity record. Per-artifact
// failures are logged and skipped. It returns the number deleted; running it
// again immediately deletes nothing.
func (l *Lifecycle) CleanupExpiredBackups(ctx context.Context) (int, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := l.now()
	days := l.policy.Get().RetentionDays
	logger := logging.Ctx(ctx)

	deleted := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		a := e.Artifact()
		if !a.IsExpired(now, days) {
			continue
		}

		if err := l.store.Delete(e.Path); err != nil {
			logger.Warn().Err(err).Str("artifact_id", a.ID).Msg("Failed to delete expired backup")
			continue
		}
		if err := l.integrity.Delete(a.ID); err != nil {
			logger.Warn().Err(err).Str("artifact_id", a.ID).Msg("Failed to remove integrity record")
		}

		deleted++
		metrics.CleanupDeleted.Inc()
		logger.Info().
			Str("artifact_id", a.ID).
			Time("created", a.CreatedTime).
			Int("retention_days", days).
			Msg("Deleted expired backup")
		l.audit.Record(audit.NewEvent(ctx, audit.EventTypeBackupDeleted, audit.OutcomeSuccess,
			audit.ArtifactTarget(a.ID), "expired backup deleted", map[string]any{
				"created_time":   a.CreatedTime,
				"retention_days": days,
			}))
	}
	return deleted, nil
}
