// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package config loads and validates service configuration.
//
// Configuration is layered with Koanf v2, later layers overriding earlier ones:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, then config.yaml, /etc/snapvault/config.yaml)
//  3. Environment variables listed in envMappings
//
// Environment variables use flat legacy-style names (BACKUP_DIR,
// RETENTION_DAYS, DUMP_COMMAND) rather than a prefix scheme; unmapped
// variables are ignored. List fields such as DUMP_COMMAND and
// NOTIFY_RECIPIENTS accept comma-separated values.
//
// # Example config.yaml
//
//	backup:
//	  dir: /var/lib/snapvault/backups
//	  work_dir: /var/lib/snapvault/work
//	  encryption_key: ${SNAPVAULT_KEY}
//	policy:
//	  retention_days: 30
//	  storage_alert_threshold: 0.85
//	  encryption_enabled: true
//	schedule:
//	  maintenance_cron: "@hourly"
//	  backup_cron: "0 2 * * *"
//	tool:
//	  dump_command: [pg_dump, --format=custom, appdb]
//	  restore_command: [pg_restore, --clean, --dbname=appdb]
//	  ping_command: [pg_isready]
//
// # Hot Reload
//
// WatchConfigFile reports changes to the YAML file. The server reloads the
// file and applies the policy section through the lifecycle manager's
// validated update path; other sections take effect on restart.
package config
