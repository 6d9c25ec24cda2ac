// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
tool:
  dump_command: [sh, -c, "echo data"]
  restore_command: [sh, -c, "cat >/dev/null"]
`

// validConfig returns defaults with the required tool commands filled in.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Tool.DumpCommand = []string{"pg_dump", "appdb"}
	cfg.Tool.RestoreCommand = []string{"pg_restore", "--dbname=appdb"}
	return cfg
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Policy.RetentionDays != 30 {
		t.Errorf("Policy.RetentionDays = %d, want 30", cfg.Policy.RetentionDays)
	}
	if cfg.Policy.StorageAlertThreshold != 0.85 {
		t.Errorf("Policy.StorageAlertThreshold = %v, want 0.85", cfg.Policy.StorageAlertThreshold)
	}
	if cfg.Schedule.MaintenanceCron != "@hourly" {
		t.Errorf("Schedule.MaintenanceCron = %q, want @hourly", cfg.Schedule.MaintenanceCron)
	}
	if cfg.Schedule.BackupCron != "" {
		t.Error("scheduled backups should be disabled by default")
	}
	if cfg.Tool.Timeout != 2*time.Hour {
		t.Errorf("Tool.Timeout = %v, want 2h", cfg.Tool.Timeout)
	}
	if !cfg.Backup.Compression || cfg.Backup.CompressionLevel != 6 {
		t.Errorf("compression defaults = %v/%d", cfg.Backup.Compression, cfg.Backup.CompressionLevel)
	}

	if err := validConfig().Validate(); err != nil {
		t.Errorf("defaults with tool commands should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"retention too high", func(c *Config) { c.Policy.RetentionDays = 400 }, "RetentionDays"},
		{"retention zero", func(c *Config) { c.Policy.RetentionDays = 0 }, "RetentionDays"},
		{"threshold above one", func(c *Config) { c.Policy.StorageAlertThreshold = 1.5 }, "StorageAlertThreshold"},
		{"bad cron", func(c *Config) { c.Schedule.MaintenanceCron = "hourly" }, "MaintenanceCron"},
		{"bad backup type", func(c *Config) { c.Schedule.BackupType = "SNAPSHOT" }, "BackupType"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Level"},
		{"relative backup dir", func(c *Config) { c.Backup.Dir = "backups" }, "BACKUP_DIR"},
		{"same work dir", func(c *Config) { c.Backup.WorkDir = c.Backup.Dir }, "BACKUP_WORK_DIR"},
		{"missing dump", func(c *Config) { c.Tool.DumpCommand = nil }, "DUMP_COMMAND"},
		{"missing restore", func(c *Config) { c.Tool.RestoreCommand = nil }, "RESTORE_COMMAND"},
		{"encryption without key", func(c *Config) { c.Policy.EncryptionEnabled = true }, "BACKUP_ENCRYPTION_KEY"},
		{"remote without dir", func(c *Config) { c.Policy.RemoteStorageEnabled = true }, "REMOTE_DIR"},
		{"webhook without recipients", func(c *Config) { c.Notify.WebhookURL = "https://hooks.example.com/x" }, "NOTIFY_RECIPIENTS"},
		{"webhook bad scheme", func(c *Config) {
			c.Notify.WebhookURL = "ftp://hooks.example.com/x"
			c.Notify.Recipients = []string{"ops"}
		}, "NOTIFY_WEBHOOK_URL"},
		{"integrity path", func(c *Config) { c.Integrity.Path = "" }, "INTEGRITY_PATH"},
		{"negative lock wait", func(c *Config) { c.Integrity.LockWait = -time.Second }, "INTEGRITY_LOCK_WAIT"},
		{"operator without role", func(c *Config) { c.Authz.Operators = []string{"alice"} }, "AUTHZ_OPERATORS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_EncryptionWithKey(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.EncryptionEnabled = true
	cfg.Backup.EncryptionKey = "a-long-enough-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfigFile(t, minimalYAML+`
backup:
  dir: /srv/backups
  work_dir: /srv/work
policy:
  retention_days: 60
  storage_alert_threshold: 0.9
schedule:
  backup_cron: "0 2 * * *"
  backup_type: INCREMENTAL
notify:
  recipients: [ops@example.com, dba@example.com]
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Backup.Dir != "/srv/backups" || cfg.Backup.WorkDir != "/srv/work" {
		t.Errorf("backup dirs = %q, %q", cfg.Backup.Dir, cfg.Backup.WorkDir)
	}
	if cfg.Policy.RetentionDays != 60 || cfg.Policy.StorageAlertThreshold != 0.9 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Schedule.BackupCron != "0 2 * * *" || cfg.Schedule.BackupType != "INCREMENTAL" {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	if len(cfg.Notify.Recipients) != 2 {
		t.Errorf("recipients = %v", cfg.Notify.Recipients)
	}
	if len(cfg.Tool.DumpCommand) != 3 || cfg.Tool.DumpCommand[2] != "echo data" {
		t.Errorf("dump command = %q", cfg.Tool.DumpCommand)
	}
	// Untouched sections keep their defaults.
	if cfg.Tool.Timeout != 2*time.Hour {
		t.Errorf("Tool.Timeout = %v, want default 2h", cfg.Tool.Timeout)
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, minimalYAML+`
policy:
  retention_days: 60
`)

	t.Setenv("RETENTION_DAYS", "90")
	t.Setenv("NOTIFY_RECIPIENTS", "ops@example.com, dba@example.com")
	t.Setenv("DUMP_COMMAND", "pg_dump,--format=custom,appdb")
	t.Setenv("TOOL_TIMEOUT", "45m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Policy.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, env should override file", cfg.Policy.RetentionDays)
	}
	if len(cfg.Notify.Recipients) != 2 || cfg.Notify.Recipients[1] != "dba@example.com" {
		t.Errorf("recipients = %q", cfg.Notify.Recipients)
	}
	if len(cfg.Tool.DumpCommand) != 3 || cfg.Tool.DumpCommand[0] != "pg_dump" {
		t.Errorf("dump command = %q", cfg.Tool.DumpCommand)
	}
	if cfg.Tool.Timeout != 45*time.Minute {
		t.Errorf("Tool.Timeout = %v, want 45m", cfg.Tool.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadFile_InvalidValues(t *testing.T) {
	path := writeConfigFile(t, minimalYAML+`
policy:
  retention_days: 400
`)
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() should reject retention_days 400")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing explicit path")
	}
}

func TestFindConfigFile_EnvVar(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	t.Setenv(ConfigPathEnvVar, path)

	if got := FindConfigFile(); got != path {
		t.Errorf("FindConfigFile() = %q, want %q", got, path)
	}

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if len(cfg.Tool.RestoreCommand) == 0 {
		t.Error("config from CONFIG_PATH should be loaded")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"BACKUP_DIR":              "backup.dir",
		"RETENTION_DAYS":          "policy.retention_days",
		"STORAGE_ALERT_THRESHOLD": "policy.storage_alert_threshold",
		"CASBIN_POLICY_PATH":      "authz.policy_path",
		"WORKER_POOL_SIZE":        "workers.size",
		"HOME":                    "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatchConfigFile(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	changed := make(chan struct{}, 1)
	unwatch, err := WatchConfigFile(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchConfigFile() error = %v", err)
	}
	defer unwatch()

	if err := os.WriteFile(path, []byte(minimalYAML+"\npolicy:\n  retention_days: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked after file change")
	}
}
