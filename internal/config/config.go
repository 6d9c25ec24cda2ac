// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import "time"

// Config holds all service configuration.
type Config struct {
	Backup    BackupConfig    `koanf:"backup"`
	Policy    PolicyConfig    `koanf:"policy"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Tool      ToolConfig      `koanf:"tool"`
	Remote    RemoteConfig    `koanf:"remote"`
	Notify    NotifyConfig    `koanf:"notify"`
	Audit     AuditConfig     `koanf:"audit"`
	Authz     AuthzConfig     `koanf:"authz"`
	Integrity IntegrityConfig `koanf:"integrity"`
	Workers   WorkersConfig   `koanf:"workers"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// BackupConfig controls where and how artifacts are written.
type BackupConfig struct {
	// Dir holds committed artifacts and their sidecars.
	Dir string `koanf:"dir" validate:"required"`

	// WorkDir holds dump staging files and restore scratch space. It should
	// be on the same filesystem as Dir only if space allows three copies.
	WorkDir string `koanf:"work_dir" validate:"required"`

	// Compression gzips the dump before encryption.
	Compression bool `koanf:"compression"`

	// CompressionLevel is the gzip level (1-9).
	CompressionLevel int `koanf:"compression_level" validate:"min=1,max=9"`

	// EncryptionKey is the secret artifact keys are derived from. Required
	// when policy.encryption_enabled is true.
	EncryptionKey string `koanf:"encryption_key"`

	// StaleTempAge is the age after which abandoned temporary files are
	// removed by the maintenance cycle.
	StaleTempAge time.Duration `koanf:"stale_temp_age" validate:"gt=0"`
}

// PolicyConfig is the initial retention policy. It can be changed at
// runtime through validated updates.
type PolicyConfig struct {
	RetentionDays         int     `koanf:"retention_days" validate:"min=1,max=365"`
	StorageAlertThreshold float64 `koanf:"storage_alert_threshold" validate:"gt=0,lte=1"`
	EncryptionEnabled     bool    `koanf:"encryption_enabled"`
	RemoteStorageEnabled  bool    `koanf:"remote_storage_enabled"`
}

// ScheduleConfig drives the scheduler.
type ScheduleConfig struct {
	// MaintenanceCron triggers the maintenance cycle.
	// Default: @hourly
	MaintenanceCron string `koanf:"maintenance_cron" validate:"required,cronspec"`

	// BackupCron triggers scheduled backups. Empty disables them.
	BackupCron string `koanf:"backup_cron" validate:"omitempty,cronspec"`

	// BackupType is the type of scheduled backups.
	BackupType string `koanf:"backup_type" validate:"oneof=FULL INCREMENTAL DIFFERENTIAL"`
}

// ToolConfig describes the data store's native dump and restore tools.
// A "{file}" argument is replaced by the artifact path; without one the
// dump is read from stdout and the restore fed on stdin.
type ToolConfig struct {
	DumpCommand    []string      `koanf:"dump_command"`
	RestoreCommand []string      `koanf:"restore_command"`
	PingCommand    []string      `koanf:"ping_command"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
}

// RemoteConfig configures offsite replication.
type RemoteConfig struct {
	// Dir is the replication target, typically a mounted share.
	Dir string `koanf:"dir"`

	BreakerTimeout     time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
	BreakerInterval    time.Duration `koanf:"breaker_interval" validate:"gte=0"`
	BreakerMinRequests uint32        `koanf:"breaker_min_requests" validate:"min=1"`
	BreakerFailureRate float64       `koanf:"breaker_failure_rate" validate:"gt=0,lte=1"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	// Recipients receive storage and integrity alerts.
	Recipients []string `koanf:"recipients"`

	// WebhookURL receives alerts as JSON. Empty logs alerts instead.
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`

	// WebhookAuth is sent as the Authorization header.
	WebhookAuth string `koanf:"webhook_auth"`

	RatePerMinute int           `koanf:"rate_per_minute" validate:"min=0"`
	Burst         int           `koanf:"burst" validate:"min=0"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	LogLevel        string        `koanf:"log_level" validate:"oneof=debug info warning error critical"`
	RetentionDays   int           `koanf:"retention_days" validate:"min=1"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
	BufferSize      int           `koanf:"buffer_size" validate:"min=1"`
	MaxEvents       int           `koanf:"max_events" validate:"min=1"`
	LogToStdout     bool          `koanf:"log_to_stdout"`
}

// AuthzConfig configures recovery authorization.
type AuthzConfig struct {
	ModelPath      string        `koanf:"model_path"`
	PolicyPath     string        `koanf:"policy_path"`
	ReloadInterval time.Duration `koanf:"reload_interval" validate:"gte=0"`

	// Operators assigns roles to operator identities as "user=role"
	// entries, added to the policy's grouping rules. Recovery authorization
	// only honours roles assigned here or by the policy file.
	Operators []string `koanf:"operators"`

	// TokenTTL is the lifetime of confirmation tokens.
	TokenTTL time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

// IntegrityConfig configures the checksum store.
type IntegrityConfig struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// InMemory keeps checksums in memory only; they are rebuilt from
	// sidecars by the maintenance cycle after a restart.
	InMemory bool `koanf:"in_memory"`

	// LockWait bounds how long a command waits for another snapvault
	// process to release the BadgerDB directory.
	LockWait time.Duration `koanf:"lock_wait"`
}

// WorkersConfig sizes the dump and restore pool.
type WorkersConfig struct {
	// Size is the number of concurrent dump/restore tasks. Zero picks a
	// default from the CPU count.
	Size int `koanf:"size" validate:"min=0,max=64"`
}

// ServerConfig configures the metrics and health endpoint.
type ServerConfig struct {
	// MetricsAddr is the listen address for /metrics and /healthz. Empty
	// disables the endpoint.
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,hostname_port"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}
