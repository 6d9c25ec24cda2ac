// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package remote replicates committed artifacts to offsite storage.
//
// A Target receives artifact bytes under a key (the artifact file name) along
// with string metadata. DirTarget writes to a directory, typically a mounted
// network share or object store gateway; BreakerTarget wraps any Target in a
// circuit breaker so an unreachable destination fails fast instead of stalling
// every maintenance cycle.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/artifact"
)

// ErrInvalidKey is returned for keys that would escape the target.
var ErrInvalidKey = errors.New("invalid remote key")

// Target is an offsite destination for artifacts.
type Target interface {
	// Upload stores size bytes read from r under key.
	Upload(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error
}

// DirTarget stores artifacts in a directory. Each upload is written to a
// temporary file and renamed into place, so a partially transferred artifact
// is never visible under its key. Metadata is stored next to it as
// <key>.remote.json.
type DirTarget struct {
	dir string
}

// NewDirTarget creates dir if needed.
func NewDirTarget(dir string) (*DirTarget, error) {
	if dir == "" {
		return nil, fmt.Errorf("remote directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}
	return &DirTarget{dir: dir}, nil
}

// Dir returns the destination directory.
func (d *DirTarget) Dir() string {
	return d.dir
}

func validKey(key string) bool {
	return key != "" && key == filepath.Base(key) && !strings.HasPrefix(key, ".")
}

// Upload implements Target.
func (d *DirTarget) Upload(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	tmp, err := os.CreateTemp(d.dir, ".upload-"+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()        //nolint:errcheck,gosec // Best effort cleanup
			os.Remove(tmpPath) //nolint:errcheck,gosec // Best effort cleanup
		}
	}()

	n, err := io.Copy(tmp, artifact.ContextReader(ctx, r))
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short upload of %s: wrote %d of %d bytes", key, n, size)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}

	if len(metadata) > 0 {
		data, err := json.MarshalIndent(metadata, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if err := os.WriteFile(filepath.Join(d.dir, key+".remote.json"), data, 0o600); err != nil {
			return fmt.Errorf("failed to write metadata for %s: %w", key, err)
		}
	}

	if err := os.Rename(tmpPath, filepath.Join(d.dir, key)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	committed = true
	return nil
}
