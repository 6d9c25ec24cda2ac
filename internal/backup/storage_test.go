// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
)

func TestCheckStorageStatistics_Alerts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		ratio      float64
		recipients []string
		wantAlert  bool
		wantSent   []string
	}{
		{"below threshold", 0.50, []string{"ops@example.com"}, false, nil},
		{"at threshold", 0.85, []string{"ops@example.com"}, true, []string{"ops@example.com"}},
		{"above threshold", 0.90, []string{"ops@example.com", "dba@example.com"}, true, []string{"dba@example.com", "ops@example.com"}},
		{"duplicate recipients", 0.95, []string{"ops@example.com", "", "ops@example.com"}, true, []string{"ops@example.com"}},
		{"no recipients", 0.99, nil, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, withDisk(fixedDisk(tt.ratio)), withRecipients(tt.recipients...))

			stats, err := env.lifecycle.CheckStorageStatistics(context.Background())
			if err != nil {
				t.Fatalf("CheckStorageStatistics() error = %v", err)
			}
			if stats.AlertRaised != tt.wantAlert {
				t.Errorf("AlertRaised = %v, want %v", stats.AlertRaised, tt.wantAlert)
			}

			var got []string
			for _, n := range env.notifier.Sent() {
				got = append(got, n.Recipient)
				if !strings.Contains(n.Subject, "storage") {
					t.Errorf("subject = %q", n.Subject)
				}
			}
			if !reflect.DeepEqual(got, tt.wantSent) {
				t.Errorf("recipients notified = %v, want %v", got, tt.wantSent)
			}

			wantEvents := 0
			if tt.wantAlert {
				wantEvents = 1
			}
			if n := env.audit.Count(audit.EventTypeStorageAlert); n != wantEvents {
				t.Errorf("storage alert audit events = %d, want %d", n, wantEvents)
			}
		})
	}
}

func TestCheckStorageStatistics_Counts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, withDisk(fixedDisk(0.25)))
	now := env.clock.Now()

	env.createAt(t, artifact.TypeFull, now.Add(-48*time.Hour))
	env.createAt(t, artifact.TypeIncremental, now.Add(-24*time.Hour))
	newest := env.createAt(t, artifact.TypeIncremental, now.Add(-time.Hour))

	stats, err := env.lifecycle.CheckStorageStatistics(context.Background())
	if err != nil {
		t.Fatalf("CheckStorageStatistics() error = %v", err)
	}

	if stats.ArtifactCount != 3 {
		t.Errorf("ArtifactCount = %d, want 3", stats.ArtifactCount)
	}
	want := map[artifact.Type]int{
		artifact.TypeFull:         1,
		artifact.TypeIncremental:  2,
		artifact.TypeDifferential: 0,
	}
	if !reflect.DeepEqual(stats.CountByType, want) {
		t.Errorf("CountByType = %v, want %v", stats.CountByType, want)
	}
	if stats.OldestAge != 48*time.Hour || stats.NewestAge != time.Hour {
		t.Errorf("ages = %s / %s, want 48h / 1h", stats.OldestAge, stats.NewestAge)
	}
	if stats.ArtifactBytes < newest.SizeBytes*3 {
		t.Errorf("ArtifactBytes = %d, want at least %d", stats.ArtifactBytes, newest.SizeBytes*3)
	}
	if stats.UsagePercent != 25 || stats.AvailableBytes != 750 {
		t.Errorf("usage = %.1f%% / %d free", stats.UsagePercent, stats.AvailableBytes)
	}
}

func TestCheckStorageStatistics_NotifierFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, withDisk(fixedDisk(0.90)), withRecipients("ops@example.com"))
	env.notifier.err = errors.New("smtp: connection refused")

	stats, err := env.lifecycle.CheckStorageStatistics(context.Background())
	if err != nil {
		t.Fatalf("CheckStorageStatistics() error = %v", err)
	}
	if !stats.AlertRaised {
		t.Error("alert should still be raised")
	}
}

func TestUniqueRecipients(t *testing.T) {
	t.Parallel()
	got := uniqueRecipients([]string{"b", "a", "", "b"})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("uniqueRecipients() = %v", got)
	}
}
