// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/notify"
	"github.com/tomtom215/snapvault/internal/remote"
)

// Maintenance subtasks.
const (
	SubtaskCleanup   = "cleanup"
	SubtaskReconcile = "reconcile"
	SubtaskStorage   = "storage"
	SubtaskSync      = "remote_sync"
)

var subtaskNames = []string{SubtaskCleanup, SubtaskReconcile, SubtaskStorage, SubtaskSync}

// LifecycleConfig configures maintenance.
type LifecycleConfig struct {
	// Recipients receive storage alerts.
	Recipients []string

	// StaleTempAge is the age after which leftover .tmp- files are removed.
	// Zero disables the sweep.
	StaleTempAge time.Duration

	// DiskUsage reports filesystem capacity. Defaults to SystemDiskUsage.
	DiskUsage DiskUsageFunc
}

// Lifecycle runs the maintenance cycle over the artifact store.
type Lifecycle struct {
	cfg       LifecycleConfig
	engine    *Engine
	remote    remote.Target
	store     *artifact.Store
	integrity *integrity.Store
	policy    *PolicyStore
	verifier  *Verifier
	audit     audit.Sink
	notifier  notify.Sink

	// cycleMu keeps two cycles from overlapping when a manual run races
	// the scheduler.
	cycleMu sync.Mutex

	now func() time.Time
}

// NewLifecycle wires the lifecycle manager. target may be nil when no remote
// destination is configured; remote sync then stays disabled.
func NewLifecycle(cfg LifecycleConfig, engine *Engine, target remote.Target, deps Deps) (*Lifecycle, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("backup engine is required")
	}
	if cfg.DiskUsage == nil {
		cfg.DiskUsage = SystemDiskUsage
	}
	return &Lifecycle{
		cfg:       cfg,
		engine:    engine,
		remote:    target,
		store:     deps.Store,
		integrity: deps.Integrity,
		policy:    deps.Policy,
		verifier:  NewVerifier(deps.Store, deps.Integrity, deps.Audit),
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		now:       time.Now,
	}, nil
}

// Policy returns the live retention policy.
func (l *Lifecycle) Policy() RetentionPolicy {
	return l.policy.Get()
}

// Verifier returns the verifier used for listings.
func (l *Lifecycle) Verifier() *Verifier {
	return l.verifier
}

// RunCycle dispatches the four maintenance subtasks concurrently and waits
// for all of them. A failed subtask marks the cycle failed but does not
// stop or undo the others.
func (l *Lifecycle) RunCycle(ctx context.Context) CycleReport {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	report := CycleReport{StartTime: l.now().UTC()}
	logger := logging.Ctx(ctx)
	logger.Info().Msg("Maintenance cycle started")

	if l.cfg.StaleTempAge > 0 {
		if n := l.store.RemoveStaleTemps(l.now(), l.cfg.StaleTempAge); n > 0 {
			logger.Info().Int("removed", n).Msg("Removed stale temporary files")
		}
	}

	var g errgroup.Group
	var cleanupErr, reconcileErr, storageErr, syncErr error
	g.Go(func() error {
		report.Deleted, cleanupErr = l.CleanupExpiredBackups(ctx)
		metrics.RecordSubtask(SubtaskCleanup, cleanupErr)
		return cleanupErr
	})
	g.Go(func() error {
		report.Reconcile, reconcileErr = l.UpdateBackupMetadata(ctx)
		metrics.RecordSubtask(SubtaskReconcile, reconcileErr)
		return reconcileErr
	})
	g.Go(func() error {
		report.Storage, storageErr = l.CheckStorageStatistics(ctx)
		metrics.RecordSubtask(SubtaskStorage, storageErr)
		return storageErr
	})
	g.Go(func() error {
		report.Sync, syncErr = l.SyncToRemoteStorage(ctx)
		metrics.RecordSubtask(SubtaskSync, syncErr)
		return syncErr
	})
	g.Wait() //nolint:errcheck // Each subtask error is kept individually below

	report.EndTime = l.now().UTC()
	report.Errors = make(map[string]error)
	for name, err := range map[string]error{
		SubtaskCleanup:   cleanupErr,
		SubtaskReconcile: reconcileErr,
		SubtaskStorage:   storageErr,
		SubtaskSync:      syncErr,
	} {
		if err != nil {
			report.Errors[name] = err
		}
	}

	if err := l.integrity.RunGC(); err != nil {
		logger.Warn().Err(err).Msg("Integrity store GC failed")
	}

	duration := report.EndTime.Sub(report.StartTime)
	metrics.RecordCycle(duration, report.Err())
	event := logger.Info()
	if report.Failed() {
		event = logger.Error().Err(report.Err())
	}
	event.
		Dur("duration", duration).
		Int("deleted", report.Deleted).
		Int("reconciled", report.Reconcile.Synthesized+report.Reconcile.Refreshed).
		Float64("usage_ratio", report.Storage.UsageRatio).
		Str("remote_sync", report.Sync.String()).
		Bool("failed", report.Failed()).
		Msg("Maintenance cycle finished")
	return report
}
