// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/backup"
)

func (c *cli) backupCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:     "backup",
		Short:   "Create a backup artifact now",
		Example: "  snapvault backup --type INCREMENTAL",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := artifact.ParseType(typ)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				res := a.engine.CreateBackup(cmd.Context(), t)
				if !res.Success {
					return fmt.Errorf("backup %s failed: %w", res.ArtifactID, res.Err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created %s\n", res.ArtifactID)
				fmt.Fprintf(out, "  Path:     %s\n", res.Path)
				fmt.Fprintf(out, "  Size:     %s\n", formatBytes(res.SizeBytes))
				fmt.Fprintf(out, "  Checksum: %s\n", res.Checksum)
				fmt.Fprintf(out, "  Duration: %s\n", res.Duration().Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(artifact.TypeFull), "backup type: FULL, INCREMENTAL or DIFFERENTIAL")
	return cmd
}

// listing is the JSON shape of one list row.
type listing struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Path           string    `json:"path"`
	CreatedTime    time.Time `json:"created_time"`
	ExpiryTime     time.Time `json:"expiry_time"`
	SizeBytes      int64     `json:"size_bytes"`
	Encrypted      bool      `json:"encrypted"`
	Compressed     bool      `json:"compressed"`
	HasMetadata    bool      `json:"has_metadata"`
	IntegrityValid bool      `json:"integrity_valid"`
	IntegrityError string    `json:"integrity_error,omitempty"`
	RemoteSynced   bool      `json:"remote_synced"`
}

func (c *cli) listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts, newest first, with integrity status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				items, err := a.lifecycle.ListArtifactsWithMetadata(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([]listing, 0, len(items))
				for _, it := range items {
					rows = append(rows, listing{
						ID:             it.Artifact.ID,
						Type:           string(it.Artifact.Type),
						Path:           it.Artifact.Path,
						CreatedTime:    it.Artifact.CreatedTime,
						ExpiryTime:     it.Artifact.ExpiryTime,
						SizeBytes:      it.Artifact.SizeBytes,
						Encrypted:      it.Artifact.Encrypted,
						Compressed:     it.Artifact.Compressed,
						HasMetadata:    it.HasMetadata,
						IntegrityValid: it.IntegrityValid,
						IntegrityError: it.IntegrityError,
						RemoteSynced:   it.RemoteSynced,
					})
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				return writeListing(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeListing(w io.Writer, rows []listing) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No backups found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tCREATED\tEXPIRES\tSIZE\tFLAGS\tINTEGRITY\tREMOTE")
	for _, r := range rows {
		integrity := "ok"
		if !r.IntegrityValid {
			integrity = "FAILED: " + r.IntegrityError
		}
		remote := "-"
		if r.RemoteSynced {
			remote = "synced"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Type,
			r.CreatedTime.UTC().Format(time.DateTime), r.ExpiryTime.UTC().Format(time.DateTime),
			formatBytes(r.SizeBytes), flags(r), integrity, remote)
	}
	return tw.Flush()
}

func flags(r listing) string {
	var f []string
	if r.Compressed {
		f = append(f, "gz")
	}
	if r.Encrypted {
		f = append(f, "enc")
	}
	if !r.HasMetadata {
		f = append(f, "no-meta")
	}
	if len(f) == 0 {
		return "-"
	}
	return strings.Join(f, ",")
}

func (c *cli) statsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics and raise alerts above the threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				stats, err := a.lifecycle.CheckStorageStatistics(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				return writeStats(cmd.OutOrStdout(), stats, a.lifecycle.Policy())
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeStats(w io.Writer, s backup.StorageStatistics, p backup.RetentionPolicy) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	used, total, free := int64(s.UsedBytes), int64(s.TotalBytes), int64(s.AvailableBytes) //nolint:gosec // G115: display only
	fmt.Fprintf(tw, "Filesystem:\t%s used of %s (%.1f%%), %s free\n",
		formatBytes(used), formatBytes(total), s.UsagePercent, formatBytes(free))
	fmt.Fprintf(tw, "Alert threshold:\t%.0f%%\n", p.StorageAlertThreshold*100)
	fmt.Fprintf(tw, "Artifacts:\t%d (%s)\n", s.ArtifactCount, formatBytes(s.ArtifactBytes))

	types := make([]string, 0, len(s.CountByType))
	for t := range s.CountByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(tw, "  %s:\t%d\n", t, s.CountByType[artifact.Type(t)])
	}
	if s.ArtifactCount > 0 {
		fmt.Fprintf(tw, "Newest:\t%s ago\n", s.NewestAge.Round(time.Second))
		fmt.Fprintf(tw, "Oldest:\t%s ago\n", s.OldestAge.Round(time.Second))
	}
	if s.AlertRaised {
		fmt.Fprintf(tw, "Alert:\tstorage usage is at or above the threshold\n")
	}
	return tw.Flush()
}

func (c *cli) policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy [key=value ...]",
		Short: "Show the retention policy or check updates against it",
		Long: `Without arguments, policy prints the effective retention policy.

With key=value arguments, each update is validated on its own and the
resulting policy is printed along with any rejected keys. Keys are
retentionDays, storageAlertThreshold, encryptionEnabled and
remoteStorageEnabled. A running serve process applies the same fields
from the policy section of its config file when the file changes.`,
		Example: "  snapvault policy retentionDays=60 storageAlertThreshold=0.9",
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parsePolicyArgs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				out := cmd.OutOrStdout()
				if len(updates) == 0 {
					return writePolicy(out, a.lifecycle.Policy())
				}
				report := a.lifecycle.UpdateBackupPolicy(cmd.Context(), updates)
				if err := writePolicy(out, report.Policy); err != nil {
					return err
				}
				if len(report.Rejected) == 0 {
					return nil
				}
				keys := make([]string, 0, len(report.Rejected))
				for k := range report.Rejected {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "rejected %s: %s\n", k, report.Rejected[k])
				}
				return fmt.Errorf("%d of %d updates rejected", len(report.Rejected), len(updates))
			})
		},
	}
}

// parsePolicyArgs turns key=value arguments into an update map. Values stay
// strings; UpdateBackupPolicy parses them per field.
func parsePolicyArgs(args []string) (map[string]any, error) {
	updates := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid policy update %q, want key=value", arg)
		}
		if _, dup := updates[key]; dup {
			return nil, fmt.Errorf("policy key %q given twice", key)
		}
		updates[key] = strings.TrimSpace(value)
	}
	return updates, nil
}

func writePolicy(w io.Writer, p backup.RetentionPolicy) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%d\n", backup.PolicyRetentionDays, p.RetentionDays)
	fmt.Fprintf(tw, "%s\t%g\n", backup.PolicyStorageAlertThreshold, p.StorageAlertThreshold)
	fmt.Fprintf(tw, "%s\t%t\n", backup.PolicyEncryptionEnabled, p.EncryptionEnabled)
	fmt.Fprintf(tw, "%s\t%t\n", backup.PolicyRemoteStorageEnabled, p.RemoteStorageEnabled)
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
