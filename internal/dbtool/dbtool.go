// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package dbtool runs the data store's native dump, restore and ping tools.
//
// Commands are configured as argument vectors. The token {file} is replaced
// with the dump or restore file path; when a command does not mention {file}
// the dump is read from the tool's stdout, and the restore file is fed to the
// tool's stdin:
//
//	dump:    ["pg_dump", "--format=custom", "--file={file}", "app"]
//	restore: ["pg_restore", "--clean", "--dbname=app"]   // file on stdin
//	ping:    ["pg_isready", "-d", "app"]
//
// Every invocation is bounded by the configured timeout and by the caller's
// context; cancelling the context kills the subprocess. Failures are
// classified as external tool failures and carry the tail of stderr.
package dbtool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
)

// FilePlaceholder is substituted with the dump or restore file path.
const FilePlaceholder = "{file}"

const (
	stderrTail = 4096
	waitDelay  = 5 * time.Second
)

// ErrNotConfigured is returned when a required command is empty.
var ErrNotConfigured = errors.New("command not configured")

// Config holds the tool invocations.
type Config struct {
	DumpCommand    []string
	RestoreCommand []string
	PingCommand    []string

	// Timeout bounds each invocation. Zero means no timeout beyond the
	// caller's context.
	Timeout time.Duration

	// Env is appended to the inherited environment.
	Env []string
}

// Runner executes the configured tools.
type Runner struct {
	cfg Config
}

// New validates cfg and returns a Runner. Dump and restore commands are
// required; the ping command is optional.
func New(cfg Config) (*Runner, error) {
	if len(cfg.DumpCommand) == 0 {
		return nil, fmt.Errorf("dump %w", ErrNotConfigured)
	}
	if len(cfg.RestoreCommand) == 0 {
		return nil, fmt.Errorf("restore %w", ErrNotConfigured)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}
	return &Runner{cfg: cfg}, nil
}

// Dump writes a dump of the data store to outPath.
func (r *Runner) Dump(ctx context.Context, outPath string) error {
	return r.run(ctx, "dbtool.dump", r.cfg.DumpCommand, outPath, modeDump)
}

// Restore loads the dump at inPath into the data store.
func (r *Runner) Restore(ctx context.Context, inPath string) error {
	return r.run(ctx, "dbtool.restore", r.cfg.RestoreCommand, inPath, modeRestore)
}

// Ping checks that the data store is reachable. Without a ping command the
// data store is assumed reachable.
func (r *Runner) Ping(ctx context.Context) error {
	if len(r.cfg.PingCommand) == 0 {
		return nil
	}
	return r.run(ctx, "dbtool.ping", r.cfg.PingCommand, "", modePing)
}

type mode int

const (
	modeDump mode = iota
	modeRestore
	modePing
)

func (r *Runner) run(ctx context.Context, op string, argv []string, file string, m mode) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args, usesFile := substitute(argv, file)

	//nolint:gosec // G204: commands come from operator configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.WaitDelay = waitDelay
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}

	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if !usesFile {
		switch m {
		case modeDump:
			f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304: staging path
			if err != nil {
				return failure.IO(op, fmt.Errorf("failed to open dump file: %w", err))
			}
			defer f.Close() //nolint:errcheck // Closed explicitly below on success
			cmd.Stdout = f
		case modeRestore:
			f, err := os.Open(file) //nolint:gosec // G304: staging path
			if err != nil {
				return failure.IO(op, fmt.Errorf("failed to open restore file: %w", err))
			}
			defer f.Close() //nolint:errcheck // Read-only
			cmd.Stdin = f
		case modePing:
			cmd.Stdout = io.Discard
		}
	}

	start := time.Now()
	logging.Debug().Str("op", op).Str("command", args[0]).Msg("Running external tool")

	err := cmd.Run()
	if err == nil {
		if f, ok := cmd.Stdout.(*os.File); ok {
			if err := f.Sync(); err != nil {
				return failure.IO(op, fmt.Errorf("failed to sync dump file: %w", err))
			}
		}
		logging.Debug().Str("op", op).Dur("duration", time.Since(start)).Msg("External tool finished")
		return nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%s timed out after %s: %w", args[0], time.Since(start).Round(time.Millisecond), ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		err = fmt.Errorf("%s cancelled: %w", args[0], ctx.Err())
	default:
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			err = fmt.Errorf("%s failed: %w: %s", args[0], err, tail)
		} else {
			err = fmt.Errorf("%s failed: %w", args[0], err)
		}
	}
	return failure.ExternalTool(op, err)
}

// substitute replaces the file placeholder in argv and reports whether it
// was present.
func substitute(argv []string, file string) ([]string, bool) {
	out := make([]string, len(argv))
	used := false
	for i, a := range argv {
		if strings.Contains(a, FilePlaceholder) {
			used = true
			a = strings.ReplaceAll(a, FilePlaceholder, file)
		}
		out[i] = a
	}
	return out, used
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
