// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
recover.go - Recovery Commands

Every recovery is confirmed with a single-use token bound to the recovery
type and the artifact it will restore:

 1. The artifact is resolved (by ID, by path, or for point-in-time by
    selecting the newest artifact at or before the target).
 2. A token is issued and shown to the operator, who types it back.
 3. The orchestrator validates prerequisites, then consumes the token.

--yes confirms without the prompt for scripted use. The token still flows
through the orchestrator so authorization and auditing are identical.
*/

//nolint:staticcheck // File documentation, not package doc
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/authz"
	"github.com/tomtom215/snapvault/internal/recovery"
)

// errNotConfirmed is returned when the operator declines the prompt.
var errNotConfirmed = errors.New("recovery not confirmed")

type recoverOpts struct {
	operator string
	roles    []string
	yes      bool
}

func (c *cli) recoverCmd() *cobra.Command {
	opts := &recoverOpts{}
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Restore the data store from a backup artifact",
		Long: `Restore the data store from a backup artifact.

The artifact is verified against its recorded checksum, decrypted and
decompressed into the work directory, and fed to the restore tool. The
recovery is confirmed interactively with a one-time token unless --yes
is given.

The operator's roles come from the authorization policy (authz.operators
or "g" rules in the policy file); --role can only narrow them.`,
	}
	cmd.PersistentFlags().StringVar(&opts.operator, "operator", defaultOperator(), "operator identity recorded in the audit trail")
	cmd.PersistentFlags().StringSliceVar(&opts.roles, "role", nil, "restrict authorization to these roles; each must be assigned to the operator by the policy")
	cmd.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "confirm without prompting")

	cmd.AddCommand(
		&cobra.Command{
			Use:     "full <artifact>",
			Short:   "Restore an artifact in full",
			Example: "  snapvault recover full FULL_20260315_020000",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(a *app) error {
					path, err := resolveArtifact(cmd.Context(), a.store, args[0])
					if err != nil {
						return err
					}
					return c.runRecovery(cmd, a, opts, recovery.TypeFull, path, func(op recovery.Operator) recovery.Operation {
						return a.recovery.PerformFullRecovery(cmd.Context(), path, op)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "point-in-time <time>",
			Short: "Restore the newest artifact created at or before a point in time",
			Long: `Restore the newest artifact created at or before <time>, then replay
changes up to <time> when a change log is available.

<time> is RFC 3339 (2026-03-15T14:30:00Z) or "2026-03-15 14:30:00" in UTC.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := parseTargetTime(args[0])
				if err != nil {
					return err
				}
				return c.withApp(cmd.Context(), func(a *app) error {
					base, err := a.recovery.SelectBaseArtifact(cmd.Context(), target)
					if err != nil {
						// Let the orchestrator record and audit the failed selection.
						op := a.recovery.PerformPointInTimeRecovery(cmd.Context(), target, recovery.Operator{ID: opts.operator, Roles: opts.roles})
						writeOperation(cmd.OutOrStdout(), op)
						return op.Err()
					}
					return c.runRecovery(cmd, a, opts, recovery.TypePointInTime, base.Path, func(op recovery.Operator) recovery.Operation {
						return a.recovery.PerformPointInTimeRecovery(cmd.Context(), target, op)
					})
				})
			},
		},
		c.selectiveCmd(opts),
	)
	return cmd
}

func (c *cli) selectiveCmd(opts *recoverOpts) *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "selective <artifact> --table name [--table name ...]",
		Short: "Restore selected tables from an artifact",
		Long: `Restore selected tables from an artifact.

The restore tool receives the whole artifact; the requested tables are
recorded on the operation. Selective recovery requires the admin role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(tables) == 0 {
				return errors.New("at least one --table is required")
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				path, err := resolveArtifact(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				return c.runRecovery(cmd, a, opts, recovery.TypeSelective, path, func(op recovery.Operator) recovery.Operation {
					return a.recovery.PerformSelectiveRecovery(cmd.Context(), path, tables, op)
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&tables, "table", nil, "table to restore (repeatable)")
	return cmd
}

// runRecovery issues a confirmation token for the artifact at path, has the
// operator confirm it and runs perform.
func (c *cli) runRecovery(cmd *cobra.Command, a *app, opts *recoverOpts, typ recovery.Type, path string,
	perform func(recovery.Operator) recovery.Operation,
) error {
	id := filepath.Base(path)
	if name, ok := artifact.ParseFileName(id); ok {
		id = name.ID
	}

	token, expires, err := a.tokens.Issue(authz.RecoveryResource(string(typ)), id, c.cfg.Authz.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue confirmation token: %w", err)
	}

	out := cmd.OutOrStdout()
	if !opts.yes {
		fmt.Fprintf(out, "%s recovery from %s\n", typ, id)
		fmt.Fprintf(out, "This overwrites the current contents of the data store.\n")
		fmt.Fprintf(out, "Type the confirmation token to continue (expires %s):\n\n  %s\n\n> ",
			expires.Local().Format(time.Kitchen), token)
		typed, err := readLine(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if typed == "" {
			return errNotConfirmed
		}
		token = typed
	}

	op := perform(recovery.Operator{ID: opts.operator, Roles: opts.roles, ConfirmationToken: token})
	writeOperation(out, op)
	if !op.Success {
		return op.Err()
	}
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// resolveArtifact accepts an artifact ID, a file name or a path.
func resolveArtifact(ctx context.Context, store *artifact.Store, ref string) (string, error) {
	if strings.ContainsRune(ref, os.PathSeparator) {
		return ref, nil
	}
	if name, ok := artifact.ParseFileName(ref); ok && name.ID != ref {
		return filepath.Join(store.Dir(), ref), nil
	}
	entry, err := store.Find(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("artifact %s not found: %w", ref, err)
	}
	return entry.Path, nil
}

var targetTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	artifact.TimestampLayout,
}

func parseTargetTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range targetTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 or \"YYYY-MM-DD HH:MM:SS\"", s)
}

func writeOperation(w io.Writer, op recovery.Operation) {
	status := "succeeded"
	if !op.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "\nRecovery %s %s in %s\n", op.ID, status, op.Duration().Round(time.Millisecond))
	if op.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:  %s\n", op.ErrorMessage)
	}
	stages := make([]string, 0, len(op.Stages()))
	for _, s := range op.Stages() {
		stages = append(stages, string(s))
	}
	fmt.Fprintf(w, "  Stages: %s\n", strings.Join(stages, " -> "))

	details := op.Details()
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, details[k])
	}
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
