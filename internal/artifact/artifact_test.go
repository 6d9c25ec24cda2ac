// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package artifact

import (
	"testing"
	"time"
)

func TestParseFileName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 15, 2, 30, 0, 0, time.UTC)

	tests := []struct {
		name           string
		file           string
		wantOK         bool
		wantID         string
		wantType       Type
		wantCreated    time.Time
		wantCompressed bool
		wantEncrypted  bool
	}{
		{"full plain", "full_20260115_023000.backup", true, "full_20260115_023000", TypeFull, ts, false, false},
		{"incremental gz enc", "incremental_20260115_023000.backup.gz.enc", true, "incremental_20260115_023000", TypeIncremental, ts, true, true},
		{"differential enc", "differential_20260115_023000.backup.enc", true, "differential_20260115_023000", TypeDifferential, ts, false, true},
		{"unknown prefix defaults to full", "manual_20260115_023000.backup.gz", true, "manual_20260115_023000", TypeFull, ts, true, false},
		{"unparsable timestamp", "full_latest.backup", true, "full_latest", TypeFull, time.Time{}, false, false},
		{"hash sidecar", "full_20260115_023000.backup.gz.hash", false, "", "", time.Time{}, false, false},
		{"meta sidecar", "full_20260115_023000.backup.meta", false, "", "", time.Time{}, false, false},
		{"temp file", ".tmp-full_20260115_023000-123", false, "", "", time.Time{}, false, false},
		{"unrelated", "notes.txt", false, "", "", time.Time{}, false, false},
		{"empty id", ".backup", false, "", "", time.Time{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, ok := ParseFileName(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("ParseFileName(%q) ok = %v, want %v", tt.file, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if n.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", n.ID, tt.wantID)
			}
			if n.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", n.Type, tt.wantType)
			}
			if !n.CreatedTime.Equal(tt.wantCreated) {
				t.Errorf("CreatedTime = %v, want %v", n.CreatedTime, tt.wantCreated)
			}
			if n.Compressed != tt.wantCompressed || n.Encrypted != tt.wantEncrypted {
				t.Errorf("flags = (%v, %v), want (%v, %v)", n.Compressed, n.Encrypted, tt.wantCompressed, tt.wantEncrypted)
			}
		})
	}
}

func TestNewIDAndFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	id := NewID(TypeIncremental, ts)
	if id != "incremental_20260304_040607" {
		t.Errorf("NewID() = %q", id)
	}
	if got := FileName(id, true, true); got != "incremental_20260304_040607.backup.gz.enc" {
		t.Errorf("FileName() = %q", got)
	}

	n, ok := ParseFileName(FileName(id, true, false))
	if !ok || n.ID != id || n.Type != TypeIncremental {
		t.Errorf("ParseFileName(FileName()) = %+v, %v", n, ok)
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"full", "FULL", " Incremental ", "differential"} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q) error = %v", s, err)
		}
	}
	if _, err := ParseType("snapshot"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Artifact{CreatedTime: created}

	tests := []struct {
		name string
		now  time.Time
		days int
		want bool
	}{
		{"day before boundary", created.AddDate(0, 0, 29), 30, false},
		{"exactly at boundary", created.AddDate(0, 0, 30), 30, false},
		{"one second past boundary", created.AddDate(0, 0, 30).Add(time.Second), 30, true},
		{"35 days with 30 day policy", created.AddDate(0, 0, 35), 30, true},
		{"35 days with 60 day policy", created.AddDate(0, 0, 35), 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := a.IsExpired(tt.now, tt.days); got != tt.want {
				t.Errorf("IsExpired(%v, %d) = %v, want %v", tt.now, tt.days, got, tt.want)
			}
		})
	}
}

func TestWithCustom_DoesNotAlias(t *testing.T) {
	a := Artifact{Custom: map[string]string{"a": "1"}}
	b := a.WithCustom("b", "2")

	if _, ok := a.Custom["b"]; ok {
		t.Error("WithCustom mutated the original map")
	}
	if b.CustomValue("a") != "1" || b.CustomValue("b") != "2" {
		t.Errorf("unexpected custom map: %v", b.Custom)
	}
	if (Artifact{}).CustomValue("missing") != "" {
		t.Error("expected empty value for nil map")
	}
}

func TestMeta_Decode(t *testing.T) {
	created := time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC)
	a := Artifact{
		ID:           "full_20260115_020000",
		Type:         TypeFull,
		CreatedTime:  created,
		ExpiryTime:   created.AddDate(0, 0, 30),
		SizeBytes:    1048576,
		Checksum:     "q1w2e3+/=",
		Encrypted:    true,
		Compressed:   true,
		OriginalPath: "/work/${HOME}/full.dump",
		Custom:       map[string]string{CustomSourceChecksum: "abc=", CustomRemoteSynced: "true"},
	}

	data, err := EncodeMeta(a)
	if err != nil {
		t.Fatalf("EncodeMeta() error = %v", err)
	}
	got, err := DecodeMeta(data)
	if err != nil {
		t.Fatalf("DecodeMeta() error = %v", err)
	}

	if got.ID != a.ID || got.Type != a.Type || got.SizeBytes != a.SizeBytes || got.Checksum != a.Checksum {
		t.Errorf("decoded core fields mismatch: %+v", got)
	}
	if !got.CreatedTime.Equal(a.CreatedTime) || !got.ExpiryTime.Equal(a.ExpiryTime) {
		t.Errorf("decoded times mismatch: %v / %v", got.CreatedTime, got.ExpiryTime)
	}
	if got.OriginalPath != a.OriginalPath {
		t.Errorf("expansion must be disabled: got %q", got.OriginalPath)
	}
	if !got.Encrypted || !got.Compressed {
		t.Error("expected flags to survive")
	}
	if got.CustomValue(CustomSourceChecksum) != "abc=" || got.CustomValue(CustomRemoteSynced) != "true" {
		t.Errorf("custom = %v", got.Custom)
	}
}

func TestMeta_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", "backupType=FULL\n"},
		{"bad type", "backupId=x\nbackupType=SNAPSHOT\n"},
		{"bad created time", "backupId=x\nbackupType=FULL\ncreatedTime=yesterday\n"},
		{"bad size", "backupId=x\nbackupType=FULL\nfileSizeBytes=big\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMeta([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
