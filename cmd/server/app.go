// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
app.go - Component Wiring

newApp builds every long-lived component from the loaded configuration in
dependency order. Each command constructs one app and closes it on exit;
close runs the registered closers in reverse order so the audit trail is
flushed before the integrity store goes away.
*/

//nolint:staticcheck // File documentation, not package doc
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/authz"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/dbtool"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/notify"
	"github.com/tomtom215/snapvault/internal/recovery"
	"github.com/tomtom215/snapvault/internal/remote"
	"github.com/tomtom215/snapvault/internal/workers"
)

type app struct {
	cfg *config.Config

	records   *integrity.Store
	store     *artifact.Store
	pool      *workers.Pool
	tool      *dbtool.Runner
	notifier  notify.Sink
	auditLog  *audit.Logger
	enforcer  *authz.Enforcer
	tokens    *authz.TokenStore
	breaker   *remote.BreakerTarget // nil without a remote directory
	policies  *backup.PolicyStore
	engine    *backup.Engine
	lifecycle *backup.Lifecycle
	recovery  *recovery.Orchestrator

	closers []func() error
}

// diskUsage is replaced in tests.
var diskUsage backup.DiskUsageFunc = backup.SystemDiskUsage

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.records, err = integrity.Open(integrity.Config{
		Path:     cfg.Integrity.Path,
		InMemory: cfg.Integrity.InMemory,
		LockWait: cfg.Integrity.LockWait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open integrity store: %w", err)
	}
	a.onClose(a.records.Close)

	a.store, err = artifact.NewStore(cfg.Backup.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup directory: %w", err)
	}

	a.pool = workers.NewPool(cfg.Workers.Size)
	a.onClose(func() error {
		a.pool.Close()
		return nil
	})
	metrics.RegisterWorkerPool(
		func() float64 { return float64(a.pool.Running()) },
		func() float64 { return float64(a.pool.Queued()) },
	)

	a.tool, err = dbtool.New(dbtool.Config{
		DumpCommand:    cfg.Tool.DumpCommand,
		RestoreCommand: cfg.Tool.RestoreCommand,
		PingCommand:    cfg.Tool.PingCommand,
		Timeout:        cfg.Tool.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid tool configuration: %w", err)
	}

	if a.notifier, err = newNotifier(cfg.Notify); err != nil {
		return nil, err
	}

	a.auditLog = audit.NewLogger(audit.NewMemoryStore(cfg.Audit.MaxEvents), &audit.Config{
		Enabled:         cfg.Audit.Enabled,
		LogLevel:        audit.Severity(cfg.Audit.LogLevel),
		RetentionDays:   cfg.Audit.RetentionDays,
		CleanupInterval: cfg.Audit.CleanupInterval,
		BufferSize:      cfg.Audit.BufferSize,
		LogToStdout:     cfg.Audit.LogToStdout,
	})
	a.onClose(a.auditLog.Close)

	a.enforcer, err = authz.NewEnforcer(ctx, &authz.EnforcerConfig{
		ModelPath:      cfg.Authz.ModelPath,
		PolicyPath:     cfg.Authz.PolicyPath,
		ReloadInterval: cfg.Authz.ReloadInterval,
		Operators:      cfg.Authz.Operators,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authorization: %w", err)
	}
	a.onClose(func() error {
		a.enforcer.Close()
		return nil
	})
	a.tokens = authz.NewTokenStore()

	var target remote.Target
	if cfg.Remote.Dir != "" {
		dir, err := remote.NewDirTarget(cfg.Remote.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open remote directory: %w", err)
		}
		a.breaker = remote.NewBreakerTarget(dir, remote.BreakerConfig{
			Name:        "remote-dir",
			MaxRequests: 1,
			Interval:    cfg.Remote.BreakerInterval,
			Timeout:     cfg.Remote.BreakerTimeout,
			MinRequests: cfg.Remote.BreakerMinRequests,
			FailureRate: cfg.Remote.BreakerFailureRate,
		})
		target = a.breaker
	}

	a.policies, err = backup.NewPolicyStore(policyFromConfig(cfg.Policy))
	if err != nil {
		return nil, fmt.Errorf("invalid retention policy: %w", err)
	}

	deps := backup.Deps{
		Store:     a.store,
		Integrity: a.records,
		Pool:      a.pool,
		Policy:    a.policies,
		Audit:     a.auditLog,
		Notifier:  a.notifier,
	}
	a.engine, err = backup.NewEngine(backup.EngineConfig{
		WorkDir:          filepath.Join(cfg.Backup.WorkDir, "staging"),
		Compression:      cfg.Backup.Compression,
		CompressionLevel: cfg.Backup.CompressionLevel,
		EncryptionKey:    cfg.Backup.EncryptionKey,
	}, a.tool, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backup engine: %w", err)
	}

	a.lifecycle, err = backup.NewLifecycle(backup.LifecycleConfig{
		Recipients:   cfg.Notify.Recipients,
		StaleTempAge: cfg.Backup.StaleTempAge,
		DiskUsage:    diskUsage,
	}, a.engine, target, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lifecycle manager: %w", err)
	}

	a.recovery, err = recovery.New(recovery.Config{
		WorkDir:    filepath.Join(cfg.Backup.WorkDir, "recovery"),
		Recipients: cfg.Notify.Recipients,
	}, recovery.Deps{
		Store:         a.store,
		Verifier:      a.lifecycle.Verifier(),
		Cipher:        a.engine.Cipher(),
		Tool:          a.tool,
		Pool:          a.pool,
		Authorizer:    a.enforcer,
		Confirmations: a.tokens,
		DiskUsage:     diskUsage,
		Audit:         a.auditLog,
		Notifier:      a.notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recovery: %w", err)
	}

	logging.Info().
		Str("backup_dir", cfg.Backup.Dir).
		Bool("compression", cfg.Backup.Compression).
		Bool("encryption", a.engine.CanEncrypt()).
		Bool("remote", a.breaker != nil).
		Int("workers", a.pool.Size()).
		Msg("Components initialized")
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases components in reverse construction order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}
	a.closers = nil
}

func newNotifier(cfg config.NotifyConfig) (notify.Sink, error) {
	sinks := notify.Fanout{notify.LogSink{}}
	if cfg.WebhookURL == "" {
		return sinks, nil
	}
	headers := map[string]string{}
	if cfg.WebhookAuth != "" {
		headers["Authorization"] = cfg.WebhookAuth
	}
	hook, err := notify.NewWebhookSink(notify.WebhookConfig{
		URL:           cfg.WebhookURL,
		Headers:       headers,
		RatePerMinute: cfg.RatePerMinute,
		Burst:         cfg.Burst,
		Timeout:       cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook configuration: %w", err)
	}
	return append(sinks, hook), nil
}

func policyFromConfig(p config.PolicyConfig) backup.RetentionPolicy {
	return backup.RetentionPolicy{
		RetentionDays:         p.RetentionDays,
		StorageAlertThreshold: p.StorageAlertThreshold,
		EncryptionEnabled:     p.EncryptionEnabled,
		RemoteStorageEnabled:  p.RemoteStorageEnabled,
	}
}

