// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already ran
	}
}

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
	cfg        *config.Config

	// loadConfig is replaced in tests.
	loadConfig func(path string) (*config.Config, error)
}

func newRootCmd() *cobra.Command {
	c := &cli{loadConfig: loadConfig}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snapvault",
		Short: "Backup lifecycle and recovery for a data store",
		Long: `Snapvault dumps a data store with its native tool into verified,
optionally compressed and encrypted artifacts, expires them by policy,
replicates them offsite and restores them on request.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			logging.Init(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Caller: cfg.Logging.Caller,
			})
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"config file (default: $"+config.ConfigPathEnvVar+" or ./config.yaml)")

	root.AddCommand(
		c.serveCmd(),
		c.backupCmd(),
		c.listCmd(),
		c.statsCmd(),
		c.policyCmd(),
		c.recoverCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadWithKoanf()
	}
	return config.LoadFile(path)
}

// withApp builds the components, runs fn and closes them.
func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
