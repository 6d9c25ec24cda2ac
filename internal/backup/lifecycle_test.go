// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/integrity"
)

func TestCleanupExpiredBackups_DeletesOnlyExpired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	now := env.clock.Now()

	old := env.createAt(t, artifact.TypeFull, now.AddDate(0, 0, -35))
	fresh := env.createAt(t, artifact.TypeIncremental, now)

	deleted, err := env.lifecycle.CleanupExpiredBackups(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpiredBackups() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	ids := env.listIDs(t)
	if len(ids) != 1 || ids[0] != fresh.ArtifactID {
		t.Errorf("remaining = %v, want [%s]", ids, fresh.ArtifactID)
	}
	for _, p := range []string{old.Path, old.Path + artifact.HashExt, old.Path + artifact.MetaExt} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should be gone, stat err = %v", filepath.Base(p), err)
		}
	}
	if _, err := env.records.Get(old.ArtifactID); !errors.Is(err, integrity.ErrNotFound) {
		t.Errorf("integrity record for expired artifact: err = %v, want ErrNotFound", err)
	}
	if env.audit.Count(audit.EventTypeBackupDeleted) != 1 {
		t.Error("expected one backup.deleted audit event")
	}

	again, err := env.lifecycle.CleanupExpiredBackups(context.Background())
	if err != nil || again != 0 {
		t.Errorf("second cleanup = %d, %v; want 0, nil", again, err)
	}
}

func TestCleanupExpiredBackups_Boundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		age         time.Duration
		wantDeleted int
	}{
		{"one day old", 24 * time.Hour, 0},
		{"exactly thirty days", 30 * 24 * time.Hour, 0},
		{"thirty days and one second", 30*24*time.Hour + time.Second, 1},
		{"ninety days", 90 * 24 * time.Hour, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.createAt(t, artifact.TypeFull, env.clock.Now().Add(-tt.age))

			deleted, err := env.lifecycle.CleanupExpiredBackups(context.Background())
			if err != nil {
				t.Fatalf("CleanupExpiredBackups() error = %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("deleted = %d, want %d", deleted, tt.wantDeleted)
			}
		})
	}
}

func TestCleanupExpiredBackups_UsesLivePolicy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.createAt(t, artifact.TypeFull, env.clock.Now().AddDate(0, 0, -10))

	if deleted, _ := env.lifecycle.CleanupExpiredBackups(context.Background()); deleted != 0 {
		t.Fatalf("deleted = %d before policy change, want 0", deleted)
	}

	report := env.lifecycle.UpdateBackupPolicy(context.Background(), map[string]any{PolicyRetentionDays: 7})
	if len(report.Rejected) != 0 {
		t.Fatalf("policy update rejected: %v", report.Rejected)
	}
	if deleted, _ := env.lifecycle.CleanupExpiredBackups(context.Background()); deleted != 1 {
		t.Errorf("deleted = %d after shortening retention, want 1", deleted)
	}
}

func TestRunCycle_AllSubtasksSucceed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	now := env.clock.Now()
	env.createAt(t, artifact.TypeFull, now.AddDate(0, 0, -40))
	env.createAt(t, artifact.TypeFull, now.AddDate(0, 0, -1))

	report := env.lifecycle.RunCycle(context.Background())
	if report.Failed() {
		t.Fatalf("cycle failed: %v", report.Err())
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
	if report.Sync.Enabled {
		t.Error("remote sync should be disabled by default")
	}
	if report.Storage.CheckedAt.IsZero() {
		t.Error("storage statistics were not computed")
	}
}

func TestRunCycle_FailedSubtaskDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	diskErr := errors.New("statfs: permission denied")
	env := newTestEnv(t, withDisk(func(context.Context, string) (DiskUsage, error) {
		return DiskUsage{}, diskErr
	}))
	env.createAt(t, artifact.TypeFull, env.clock.Now().AddDate(0, 0, -31))

	report := env.lifecycle.RunCycle(context.Background())
	if !report.Failed() {
		t.Fatal("cycle should be reported as failed")
	}
	if !errors.Is(report.Errors[SubtaskStorage], diskErr) {
		t.Errorf("storage error = %v, want %v", report.Errors[SubtaskStorage], diskErr)
	}
	if len(report.Errors) != 1 {
		t.Errorf("errors = %v, want only %s", report.Errors, SubtaskStorage)
	}
	if report.Deleted != 1 {
		t.Errorf("cleanup still has to run: Deleted = %d, want 1", report.Deleted)
	}
	if !errors.Is(report.Err(), diskErr) {
		t.Errorf("Err() = %v, want it to wrap the storage error", report.Err())
	}
}

func TestRunCycle_RemovesStaleTemps(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.lifecycle.cfg.StaleTempAge = time.Hour

	stale := filepath.Join(env.backupDir, artifact.TempPrefix+"full_20260101_000000")
	if err := os.WriteFile(stale, []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := env.clock.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	env.lifecycle.RunCycle(context.Background())
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale temp file should be removed, stat err = %v", err)
	}
}

func TestNewLifecycle_RequiresEngine(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := NewLifecycle(LifecycleConfig{}, nil, nil, Deps{
		Store:     env.store,
		Integrity: env.records,
		Pool:      env.pool,
		Policy:    env.policy,
	})
	if err == nil {
		t.Error("expected an error without an engine")
	}
}
