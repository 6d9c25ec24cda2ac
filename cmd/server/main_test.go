// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/failure"
)

const cliPayload = "snapshot of the accounts table"

type testCLI struct {
	cfg      *config.Config
	restored string
}

// newTestCLI configures a data store whose dump prints cliPayload and whose
// restore writes stdin to t.restored.
func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	root := t.TempDir()
	tc := &testCLI{restored: filepath.Join(root, "restored.sql")}

	cfg := config.Default()
	cfg.Backup.Dir = filepath.Join(root, "backups")
	cfg.Backup.WorkDir = filepath.Join(root, "work")
	cfg.Backup.EncryptionKey = "a sufficiently long test secret"
	cfg.Policy.EncryptionEnabled = true
	cfg.Tool.DumpCommand = []string{"sh", "-c", "printf '" + cliPayload + "'"}
	cfg.Tool.RestoreCommand = []string{"sh", "-c", "cat > " + tc.restored}
	cfg.Tool.Timeout = 30 * time.Second
	cfg.Integrity.Path = filepath.Join(root, "integrity")
	cfg.Authz.Operators = []string{"dana=operator", "lead=admin"}
	cfg.Audit.LogToStdout = false
	cfg.Server.MetricsAddr = ""
	cfg.Logging.Level = "error"
	tc.cfg = cfg

	prev := diskUsage
	diskUsage = func(context.Context, string) (backup.DiskUsage, error) {
		return backup.DiskUsage{Total: 1 << 40, Used: 1 << 30, Free: 1<<40 - 1<<30}, nil
	}
	t.Cleanup(func() { diskUsage = prev })
	return tc
}

// run executes one command line and returns its output.
func (tc *testCLI) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	c := &cli{loadConfig: func(string) (*config.Config, error) { return tc.cfg, nil }}
	cmd := c.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (tc *testCLI) backupID(t *testing.T) string {
	t.Helper()
	out, err := tc.run(t, "", "backup")
	if err != nil {
		t.Fatalf("backup: %v\n%s", err, out)
	}
	line, _, _ := strings.Cut(out, "\n")
	id := strings.TrimPrefix(line, "Created ")
	if !strings.HasPrefix(id, "FULL_") {
		t.Fatalf("unexpected backup output %q", out)
	}
	return id
}

// The CLI tests share the diskUsage hook and are not parallel.

func TestCLI_BackupListRecover(t *testing.T) {
	tc := newTestCLI(t)
	id := tc.backupID(t)

	out, err := tc.run(t, "", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []listing
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].ID != id || !rows[0].IntegrityValid || !rows[0].Encrypted || !rows[0].Compressed {
		t.Fatalf("list = %+v", rows)
	}

	out, err = tc.run(t, "", "recover", "full", id, "--operator", "dana", "--yes")
	if err != nil {
		t.Fatalf("recover: %v\n%s", err, out)
	}
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, "RESTORING") {
		t.Errorf("recover output = %q", out)
	}
	got, err := os.ReadFile(tc.restored)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != cliPayload {
		t.Errorf("restored %q, want %q", got, cliPayload)
	}
}

func TestCLI_RecoverRequiresConfirmation(t *testing.T) {
	tc := newTestCLI(t)
	id := tc.backupID(t)

	tests := []struct {
		name    string
		stdin   string
		wantErr func(error) bool
	}{
		{"declined", "\n", func(err error) bool { return errors.Is(err, errNotConfirmed) }},
		{"wrong token", "not-the-token\n", func(err error) bool { return errors.Is(err, failure.ErrValidation) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tc.run(t, tt.stdin, "recover", "full", id, "--operator", "dana")
			if err == nil || !tt.wantErr(err) {
				t.Fatalf("recover error = %v\n%s", err, out)
			}
			if !strings.Contains(out, "Type the confirmation token") {
				t.Errorf("no prompt in output %q", out)
			}
			if _, err := os.Stat(tc.restored); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("data store was restored without confirmation")
			}
		})
	}
}

func TestCLI_RecoverPointInTime(t *testing.T) {
	tc := newTestCLI(t)
	id := tc.backupID(t)

	target := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	out, err := tc.run(t, "", "recover", "point-in-time", target, "--operator", "dana", "--yes")
	if err != nil {
		t.Fatalf("recover: %v\n%s", err, out)
	}
	if !strings.Contains(out, "baseArtifact: "+id) || !strings.Contains(out, "logReplay: unavailable") {
		t.Errorf("recover output = %q", out)
	}

	before := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	if _, err := tc.run(t, "", "recover", "point-in-time", before, "--operator", "dana", "--yes"); !errors.Is(err, failure.ErrValidation) {
		t.Errorf("recover before the first backup: error = %v, want validation failure", err)
	}
}

func TestCLI_SelectiveNeedsAdmin(t *testing.T) {
	tc := newTestCLI(t)
	id := tc.backupID(t)

	denied := []struct {
		name string
		args []string
	}{
		{"operator", []string{"--operator", "dana"}},
		{"operator claiming admin", []string{"--operator", "dana", "--role", "admin"}},
		{"unassigned user claiming admin", []string{"--operator", "mallory", "--role", "admin"}},
		{"role name as operator", []string{"--operator", "admin"}},
	}
	for _, tt := range denied {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"recover", "selective", id, "--table", "accounts", "--yes"}, tt.args...)
			if _, err := tc.run(t, "", args...); !errors.Is(err, failure.ErrValidation) {
				t.Errorf("selective recovery: error = %v, want validation failure", err)
			}
		})
	}
	if _, err := os.Stat(tc.restored); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("data store was restored by an unauthorized operator")
	}

	out, err := tc.run(t, "", "recover", "selective", id, "--table", "accounts", "--operator", "lead", "--yes")
	if err != nil {
		t.Fatalf("admin selective recovery: %v\n%s", err, out)
	}
	if !strings.Contains(out, "selectiveMode: full_restore_fallback") {
		t.Errorf("recover output = %q", out)
	}
}

func TestCLI_PolicyAndStats(t *testing.T) {
	tc := newTestCLI(t)
	tc.backupID(t)

	out, err := tc.run(t, "", "policy", "retentionDays=60")
	if err != nil || !strings.Contains(out, "retentionDays") || !strings.Contains(out, "60") {
		t.Errorf("policy update: %v\n%s", err, out)
	}
	out, err = tc.run(t, "", "policy", "retentionDays=400")
	if err == nil || !strings.Contains(out, "rejected retentionDays") {
		t.Errorf("policy 400: %v\n%s", err, out)
	}

	out, err = tc.run(t, "", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Artifacts:") || !strings.Contains(out, "FULL:") {
		t.Errorf("stats output = %q", out)
	}
}

func TestParsePolicyArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{"none", nil, map[string]any{}, false},
		{"two", []string{"retentionDays=60", "encryptionEnabled = true"}, map[string]any{"retentionDays": "60", "encryptionEnabled": "true"}, false},
		{"missing equals", []string{"retentionDays"}, nil, true},
		{"empty key", []string{"=5"}, nil, true},
		{"duplicate", []string{"retentionDays=1", "retentionDays=2"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parsePolicyArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePolicyArgs() error = %v", err)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parsePolicyArgs() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestParseTargetTime(t *testing.T) {
	t.Parallel()
	want := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	for _, in := range []string{
		"2026-03-15T14:30:00Z",
		"2026-03-15T16:30:00+02:00",
		"2026-03-15T14:30:00",
		"2026-03-15 14:30:00",
		"20260315_143000",
	} {
		got, err := parseTargetTime(in)
		if err != nil || !got.Equal(want) {
			t.Errorf("parseTargetTime(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseTargetTime("yesterday"); err == nil {
		t.Error("parseTargetTime(yesterday) should fail")
	}
}

func TestPolicyChanges(t *testing.T) {
	t.Parallel()
	cur := backup.DefaultRetentionPolicy()

	same := config.PolicyConfig{
		RetentionDays:         cur.RetentionDays,
		StorageAlertThreshold: cur.StorageAlertThreshold,
		EncryptionEnabled:     cur.EncryptionEnabled,
		RemoteStorageEnabled:  cur.RemoteStorageEnabled,
	}
	if got := policyChanges(cur, same); len(got) != 0 {
		t.Errorf("policyChanges(unchanged) = %v", got)
	}

	next := same
	next.RetentionDays = 60
	next.RemoteStorageEnabled = !cur.RemoteStorageEnabled
	got := policyChanges(cur, next)
	if len(got) != 2 || got[backup.PolicyRetentionDays] != 60 || got[backup.PolicyRemoteStorageEnabled] != next.RemoteStorageEnabled {
		t.Errorf("policyChanges() = %v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
