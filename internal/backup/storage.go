// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// DiskUsage is the capacity of the filesystem holding a path.
type DiskUsage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// DiskUsageFunc reports the capacity of the filesystem holding path.
type DiskUsageFunc func(ctx context.Context, path string) (DiskUsage, error)

// SystemDiskUsage queries the operating system.
func SystemDiskUsage(ctx context.Context, path string) (DiskUsage, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskUsage{}, failure.IO("backup.disk_usage", err)
	}
	return DiskUsage{Total: u.Total, Used: u.Used, Free: u.Free}, nil
}

// CheckStorageStatistics computes filesystem and artifact statistics. When
// usage is at or above the policy threshold it raises one alert per
// configured recipient for this check.
func (l *Lifecycle) CheckStorageStatistics(ctx context.Context) (StorageStatistics, error) {
	usage, err := l.cfg.DiskUsage(ctx, l.store.Dir())
	if err != nil {
		return StorageStatistics{}, err
	}
	entries, err := l.store.List(ctx)
	if err != nil {
		return StorageStatistics{}, err
	}

	now := l.now().UTC()
	stats := StorageStatistics{
		CheckedAt:      now,
		TotalBytes:     usage.Total,
		UsedBytes:      usage.Used,
		AvailableBytes: usage.Free,
		ArtifactCount:  len(entries),
		CountByType:    make(map[artifact.Type]int, len(artifact.Types)),
	}
	if usage.Total > 0 {
		stats.UsageRatio = float64(usage.Used) / float64(usage.Total)
		stats.UsagePercent = stats.UsageRatio * 100
	}
	for _, t := range artifact.Types {
		stats.CountByType[t] = 0
	}
	for i, e := range entries {
		stats.ArtifactBytes += e.Size
		stats.CountByType[e.Name.Type]++
		age := now.Sub(e.CreatedTime())
		// entries are sorted oldest first
		if i == 0 {
			stats.OldestAge = age
		}
		if i == len(entries)-1 {
			stats.NewestAge = age
		}
	}

	counts := make(map[string]int, len(stats.CountByType))
	for t, n := range stats.CountByType {
		counts[string(t)] = n
	}
	metrics.UpdateStorage(stats.UsageRatio, counts)

	threshold := l.policy.Get().StorageAlertThreshold
	if stats.UsageRatio >= threshold {
		stats.AlertRaised = true
		l.raiseStorageAlert(ctx, stats, threshold)
	}

	logging.Ctx(ctx).Debug().
		Float64("usage_percent", stats.UsagePercent).
		Int("artifacts", stats.ArtifactCount).
		Int64("artifact_bytes", stats.ArtifactBytes).
		Msg("Storage statistics computed")
	return stats, nil
}

func (l *Lifecycle) raiseStorageAlert(ctx context.Context, stats StorageStatistics, threshold float64) {
	metrics.StorageAlerts.Inc()
	logging.Ctx(ctx).Warn().
		Float64("usage_percent", stats.UsagePercent).
		Float64("threshold_percent", threshold*100).
		Uint64("available_bytes", stats.AvailableBytes).
		Msg("Backup storage above alert threshold")
	l.audit.Record(audit.NewEvent(ctx, audit.EventTypeStorageAlert, audit.OutcomeSuccess,
		&audit.Target{ID: l.store.Dir(), Type: "storage"}, "storage usage above threshold", map[string]any{
			"usage_ratio": stats.UsageRatio,
			"threshold":   threshold,
		}))

	subject := fmt.Sprintf("Snapvault storage at %.1f%%", stats.UsagePercent)
	body := fmt.Sprintf("Backup storage %s is %.1f%% full (threshold %.1f%%). %d artifacts use %d bytes; %d bytes available.",
		l.store.Dir(), stats.UsagePercent, threshold*100, stats.ArtifactCount, stats.ArtifactBytes, stats.AvailableBytes)

	for _, r := range uniqueRecipients(l.cfg.Recipients) {
		if err := l.notifier.Send(ctx, r, subject, body); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("recipient", r).Msg("Failed to send storage alert")
		}
	}
}

func uniqueRecipients(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
