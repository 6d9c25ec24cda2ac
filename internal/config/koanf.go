// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/snapvault/config.yaml",
	"/etc/snapvault/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Dir:              "/var/lib/snapvault/backups",
			WorkDir:          "/var/lib/snapvault/work",
			Compression:      true,
			CompressionLevel: 6,
			EncryptionKey:    "",
			StaleTempAge:     24 * time.Hour,
		},
		Policy: PolicyConfig{
			RetentionDays:         30,
			StorageAlertThreshold: 0.85,
			EncryptionEnabled:     false,
			RemoteStorageEnabled:  false,
		},
		Schedule: ScheduleConfig{
			MaintenanceCron: "@hourly",
			BackupCron:      "", // Scheduled backups are opt-in
			BackupType:      "FULL",
		},
		Tool: ToolConfig{
			Timeout: 2 * time.Hour,
		},
		Remote: RemoteConfig{
			BreakerTimeout:     5 * time.Minute,
			BreakerInterval:    10 * time.Minute,
			BreakerMinRequests: 3,
			BreakerFailureRate: 0.6,
		},
		Notify: NotifyConfig{
			RatePerMinute: 30,
			Burst:         5,
			Timeout:       30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:         true,
			LogLevel:        "info",
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
			BufferSize:      1000,
			MaxEvents:       10000,
			LogToStdout:     true,
		},
		Authz: AuthzConfig{
			ReloadInterval: 30 * time.Second,
			TokenTTL:       10 * time.Minute,
		},
		Integrity: IntegrityConfig{
			Path:     "/var/lib/snapvault/integrity",
			InMemory: false,
			LockWait: 30 * time.Second,
		},
		Workers: WorkersConfig{
			Size: 0,
		},
		Server: ServerConfig{
			MetricsAddr:     "127.0.0.1:9187",
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Default returns the built-in defaults without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file path, used by the
// CLI --config flag and by hot reload.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// FindConfigFile returns the config file LoadWithKoanf would use, or "".
func FindConfigFile() string {
	return findConfigFile()
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"tool.dump_command",
	"tool.restore_command",
	"tool.ping_command",
	"notify.recipients",
	"authz.operators",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Backup
	"backup_dir":               "backup.dir",
	"backup_work_dir":          "backup.work_dir",
	"backup_compression":       "backup.compression",
	"backup_compression_level": "backup.compression_level",
	"backup_encryption_key":    "backup.encryption_key",
	"backup_stale_temp_age":    "backup.stale_temp_age",

	// Policy
	"retention_days":          "policy.retention_days",
	"storage_alert_threshold": "policy.storage_alert_threshold",
	"encryption_enabled":      "policy.encryption_enabled",
	"remote_storage_enabled":  "policy.remote_storage_enabled",

	// Schedule
	"maintenance_cron": "schedule.maintenance_cron",
	"backup_cron":      "schedule.backup_cron",
	"backup_type":      "schedule.backup_type",

	// Dump/restore tool
	"dump_command":    "tool.dump_command",
	"restore_command": "tool.restore_command",
	"ping_command":    "tool.ping_command",
	"tool_timeout":    "tool.timeout",

	// Remote
	"remote_dir":                  "remote.dir",
	"remote_breaker_timeout":      "remote.breaker_timeout",
	"remote_breaker_interval":     "remote.breaker_interval",
	"remote_breaker_min_requests": "remote.breaker_min_requests",
	"remote_breaker_failure_rate": "remote.breaker_failure_rate",

	// Notifications
	"notify_recipients":      "notify.recipients",
	"notify_webhook_url":     "notify.webhook_url",
	"notify_webhook_auth":    "notify.webhook_auth",
	"notify_rate_per_minute": "notify.rate_per_minute",
	"notify_burst":           "notify.burst",
	"notify_timeout":         "notify.timeout",

	// Audit
	"audit_enabled":          "audit.enabled",
	"audit_log_level":        "audit.log_level",
	"audit_retention_days":   "audit.retention_days",
	"audit_cleanup_interval": "audit.cleanup_interval",
	"audit_buffer_size":      "audit.buffer_size",
	"audit_max_events":       "audit.max_events",
	"audit_log_to_stdout":    "audit.log_to_stdout",

	// Casbin
	"casbin_model_path":      "authz.model_path",
	"casbin_policy_path":     "authz.policy_path",
	"casbin_reload_interval": "authz.reload_interval",
	"authz_operators":        "authz.operators",
	"confirmation_token_ttl": "authz.token_ttl",

	// Integrity store
	"integrity_path":      "integrity.path",
	"integrity_in_memory": "integrity.in_memory",
	"integrity_lock_wait": "integrity.lock_wait",

	// Workers
	"worker_pool_size": "workers.size",

	// Server
	"metrics_addr":     "server.metrics_addr",
	"shutdown_timeout": "server.shutdown_timeout",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - BACKUP_DIR -> backup.dir
//   - RETENTION_DAYS -> policy.retention_days
//   - DUMP_COMMAND -> tool.dump_command
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The callback runs on the watcher goroutine; errors from the watcher are
// dropped.
func WatchConfigFile(path string, callback func()) (unwatch func() error, err error) {
	provider := file.Provider(path)

	err = provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
	if err != nil {
		return nil, err
	}
	return provider.Unwatch, nil
}
