// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/failure"
)

func TestListArtifactsWithMetadata_NewestFirst(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	now := env.clock.Now()

	oldest := env.createAt(t, artifact.TypeFull, now.Add(-72*time.Hour))
	middle := env.createAt(t, artifact.TypeDifferential, now.Add(-24*time.Hour))
	newest := env.createAt(t, artifact.TypeIncremental, now)

	listings, err := env.lifecycle.ListArtifactsWithMetadata(context.Background())
	if err != nil {
		t.Fatalf("ListArtifactsWithMetadata() error = %v", err)
	}
	want := []string{newest.ArtifactID, middle.ArtifactID, oldest.ArtifactID}
	if len(listings) != len(want) {
		t.Fatalf("got %d listings, want %d", len(listings), len(want))
	}
	for i, l := range listings {
		if l.Artifact.ID != want[i] {
			t.Errorf("listing[%d] = %s, want %s", i, l.Artifact.ID, want[i])
		}
		if !l.HasMetadata || !l.IntegrityValid || l.IntegrityError != "" {
			t.Errorf("%s: %+v", l.Artifact.ID, l)
		}
	}

	rec, err := env.records.Get(newest.ArtifactID)
	if err != nil || rec.VerifiedAt.IsZero() {
		t.Errorf("listing should stamp the verification time: %+v, %v", rec, err)
	}
}

func TestListArtifactsWithMetadata_FlagsTampering(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, withoutCompression())
	good := env.createAt(t, artifact.TypeFull, env.clock.Now().Add(-time.Hour))
	bad := env.createAt(t, artifact.TypeFull, env.clock.Now())

	// Same length, different bytes: size-based checks cannot see this.
	data, err := os.ReadFile(bad.Path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xff
	if err := os.WriteFile(bad.Path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	listings, err := env.lifecycle.ListArtifactsWithMetadata(context.Background())
	if err != nil {
		t.Fatalf("ListArtifactsWithMetadata() error = %v", err)
	}
	byID := make(map[string]Listing, len(listings))
	for _, l := range listings {
		byID[l.Artifact.ID] = l
	}

	if !byID[good.ArtifactID].IntegrityValid {
		t.Errorf("untouched artifact flagged: %s", byID[good.ArtifactID].IntegrityError)
	}
	if l := byID[bad.ArtifactID]; l.IntegrityValid || l.IntegrityError == "" {
		t.Errorf("tampered artifact listed as valid: %+v", l)
	}
	if env.audit.Count(audit.EventTypeBackupIntegrityFail) != 1 {
		t.Error("expected one integrity failure audit event")
	}
}

func TestListArtifactsWithMetadata_WithoutSidecars(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.createAt(t, artifact.TypeFull, env.clock.Now())
	if err := os.Remove(res.Path + artifact.MetaExt); err != nil {
		t.Fatal(err)
	}

	listings, err := env.lifecycle.ListArtifactsWithMetadata(context.Background())
	if err != nil {
		t.Fatalf("ListArtifactsWithMetadata() error = %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	l := listings[0]
	if l.HasMetadata {
		t.Error("HasMetadata should be false")
	}
	// The integrity record still vouches for the bytes.
	if !l.IntegrityValid {
		t.Errorf("IntegrityError = %s", l.IntegrityError)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	res := env.createAt(t, artifact.TypeFull, env.clock.Now())

	a, err := env.lifecycle.Verify(context.Background(), res.ArtifactID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if a.Checksum != res.Checksum {
		t.Errorf("Checksum = %s, want %s", a.Checksum, res.Checksum)
	}

	if err := os.WriteFile(res.Path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := env.lifecycle.Verify(context.Background(), res.ArtifactID); !errors.Is(err, failure.ErrIntegrity) {
		t.Errorf("Verify() after tampering = %v, want integrity failure", err)
	}

	if _, err := env.lifecycle.Verify(context.Background(), "full_19990101_000000"); err == nil {
		t.Error("Verify() of an unknown id should fail")
	}
}
