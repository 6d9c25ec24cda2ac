// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package main is the entry point for the snapvault command.

Snapvault creates verified, optionally compressed and encrypted backup
artifacts of a data store with the store's own dump tool, keeps them within
a retention policy, replicates them offsite and restores them on request.

# Commands

	snapvault serve                      run the scheduler and the metrics server
	snapvault backup [--type FULL]       create one artifact now
	snapvault list                       list artifacts with integrity status
	snapvault stats                      show storage statistics
	snapvault policy [key=value ...]     show or update the retention policy
	snapvault recover full <artifact>    restore an artifact
	snapvault recover point-in-time <t>  restore the newest artifact at or before t
	snapvault recover selective <artifact> --table t1 --table t2

Recovery asks the operator to type back a one-time confirmation token
before anything is restored; --yes skips the prompt for scripted use.

# Application Architecture

serve runs a Suture v4 supervisor tree:

	RootSupervisor ("snapvault")
	├── MaintenanceSupervisor ("maintenance-layer")
	│   └── Scheduler (maintenance cycle, scheduled backups)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (/metrics, /healthz)

Component initialization order:

 1. Configuration: Koanf v2 with defaults, YAML file and environment variables
 2. Logging: zerolog with the configured level and format
 3. Integrity store: BadgerDB checksum records
 4. Artifact store and worker pool
 5. Dump/restore tool runner
 6. Notifications, audit trail and authorization
 7. Remote target behind a circuit breaker
 8. Backup engine, lifecycle manager and recovery orchestrator

# Configuration

Configuration is loaded with layered sources (highest priority wins):
  - Environment variables (BACKUP_DIR, DUMP_COMMAND, RETENTION_DAYS, ...)
  - Config file (--config, CONFIG_PATH or ./config.yaml)
  - Built-in defaults

While serve runs, edits to the policy section of the config file are
applied without a restart.

# Signal Handling

serve shuts down gracefully on SIGINT and SIGTERM: the scheduler stops
accepting new runs and waits for running jobs, the HTTP server drains,
then the audit trail and the integrity store are closed.
*/
package main
