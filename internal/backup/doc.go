// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package backup creates backup artifacts and maintains them over their
// lifetime.
//
// Two types do the work:
//
//	Engine     dump → gzip → AES-256-GCM → checksum → sidecars → rename
//	Lifecycle  hourly maintenance: cleanup, metadata reconciliation,
//	           storage statistics and remote replication
//
// Architecture:
//
//	┌──────────────┐     ┌──────────────┐     ┌──────────────────┐
//	│  Scheduler   │────▶│    Engine    │────▶│  artifact.Store  │
//	└──────────────┘     └──────────────┘     └──────────────────┘
//	       │                    │                      ▲
//	       ▼                    ▼                      │
//	┌──────────────┐     ┌──────────────┐              │
//	│  Lifecycle   │────▶│  integrity   │◀─────────────┘
//	└──────────────┘     │   (Badger)   │
//	                     └──────────────┘
//
// The live RetentionPolicy is held by a PolicyStore shared by both. It is
// only changed through Lifecycle.UpdateBackupPolicy, which validates each
// field on its own and reports rather than returns rejections.
//
// Usage:
//
//	engine, _ := backup.NewEngine(engineCfg, runner, deps)
//	res := engine.CreateBackup(ctx, artifact.TypeFull)
//
//	lc, _ := backup.NewLifecycle(lifecycleCfg, engine, target, deps)
//	report := lc.RunCycle(ctx)
package backup
