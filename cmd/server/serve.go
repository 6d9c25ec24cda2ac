// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/supervisor"
	"github.com/tomtom215/snapvault/internal/supervisor/services"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled maintenance, scheduled backups and the metrics server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				return serve(cmd.Context(), a, configFileFor(c.configPath))
			})
		},
	}
}

func configFileFor(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return config.FindConfigFile()
}

// serve runs the supervisor tree until ctx is cancelled.
func serve(ctx context.Context, a *app, configPath string) error {
	logging.Info().Msg("Starting snapvault with supervisor tree")

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	scheduler, err := services.NewSchedulerService(a.cfg.Server.ShutdownTimeout, scheduledJobs(a)...)
	if err != nil {
		return err
	}
	tree.AddMaintenanceService(scheduler)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           services.NewObservabilityRouter(healthChecks(a)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(srv, a.cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", addr).Msg("Metrics and health endpoint enabled")
	}

	a.auditLog.StartCleanupRoutine(ctx)

	if configPath != "" {
		unwatch, err := config.WatchConfigFile(configPath, func() {
			reloadPolicy(ctx, a, configPath)
		})
		if err != nil {
			logging.Warn().Err(err).Str("path", configPath).Msg("Config hot reload unavailable")
		} else {
			defer unwatch() //nolint:errcheck // Best effort on shutdown
			logging.Info().Str("path", configPath).Msg("Watching config file for policy changes")
		}
	}

	// Reconcile right away; in-memory integrity records are rebuilt from sidecars.
	go func() {
		report := a.lifecycle.RunCycle(logging.ContextWithNewCorrelationID(ctx))
		if err := report.Err(); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("Startup maintenance cycle finished with errors")
		}
	}()

	err = tree.Serve(ctx)
	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services did not stop within the shutdown timeout")
	}
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("Shutdown complete")
		return nil
	}
	return err
}

func scheduledJobs(a *app) []services.Job {
	jobs := []services.Job{{
		Name: "maintenance",
		Spec: a.cfg.Schedule.MaintenanceCron,
		Run: func(ctx context.Context) error {
			return a.lifecycle.RunCycle(ctx).Err()
		},
	}}

	if a.cfg.Schedule.BackupCron != "" {
		typ := artifact.Type(a.cfg.Schedule.BackupType)
		jobs = append(jobs, services.Job{
			Name: "backup",
			Spec: a.cfg.Schedule.BackupCron,
			Run: func(ctx context.Context) error {
				return scheduledBackup(ctx, a.engine, typ)
			},
		})
	}
	return jobs
}

func scheduledBackup(ctx context.Context, engine *backup.Engine, typ artifact.Type) error {
	future := engine.CreateBackupAsync(ctx, typ)
	res, err := future.Wait(ctx)
	if err != nil {
		future.Cancel()
		<-future.Done()
		return err
	}
	if !res.Success {
		return res.Err
	}
	logging.CtxInfo(ctx).
		Str("artifact_id", res.ArtifactID).
		Int64("size_bytes", res.SizeBytes).
		Msg("Scheduled backup created")
	return nil
}

// reloadPolicy applies the policy section of the config file when it
// differs from the live policy.
func reloadPolicy(ctx context.Context, a *app, path string) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	cfg, err := config.LoadFile(path)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("Ignoring invalid config file change")
		return
	}
	updates := policyChanges(a.lifecycle.Policy(), cfg.Policy)
	if len(updates) == 0 {
		return
	}
	report := a.lifecycle.UpdateBackupPolicy(ctx, updates)
	for key, reason := range report.Rejected {
		logging.Ctx(ctx).Warn().Str("field", key).Str("reason", reason).Msg("Config policy value not applied")
	}
}

// policyChanges returns the fields of next that differ from cur.
func policyChanges(cur backup.RetentionPolicy, next config.PolicyConfig) map[string]any {
	updates := map[string]any{}
	if next.RetentionDays != cur.RetentionDays {
		updates[backup.PolicyRetentionDays] = next.RetentionDays
	}
	if next.StorageAlertThreshold != cur.StorageAlertThreshold {
		updates[backup.PolicyStorageAlertThreshold] = next.StorageAlertThreshold
	}
	if next.EncryptionEnabled != cur.EncryptionEnabled {
		updates[backup.PolicyEncryptionEnabled] = next.EncryptionEnabled
	}
	if next.RemoteStorageEnabled != cur.RemoteStorageEnabled {
		updates[backup.PolicyRemoteStorageEnabled] = next.RemoteStorageEnabled
	}
	return updates
}

// healthChecks backs /healthz.
func healthChecks(a *app) map[string]services.HealthCheck {
	checks := map[string]services.HealthCheck{
		"backup_dir": func(context.Context) error {
			_, err := os.Stat(a.store.Dir())
			return err
		},
		"data_store": a.tool.Ping,
	}
	if a.breaker != nil {
		checks["remote"] = func(context.Context) error {
			if a.breaker.State() == "open" {
				return errors.New("circuit breaker open")
			}
			return nil
		}
	}
	return checks
}
