// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/tomtom215/snapvault/internal/failure"
)

// ErrChecksumMismatch is returned when on-disk bytes disagree with the
// recorded checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// NewHash returns the hash used for artifact checksums.
func NewHash() hash.Hash {
	return sha256.New()
}

// EncodeSum renders a hash sum in the sidecar encoding.
func EncodeSum(sum []byte) string {
	return base64.StdEncoding.EncodeToString(sum)
}

// Checksum streams the file at path and returns its checksum and size.
//
//nolint:gosec // G304: path is inside the backup directory
func Checksum(ctx context.Context, path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // Read-only

	h := NewHash()
	n, err := io.Copy(h, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return EncodeSum(h.Sum(nil)), n, nil
}

// ctxReader stops a long copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ContextReader wraps r so reads fail once ctx is done.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

// Verify recomputes the checksum of path and compares it with expected.
// A mismatch is an integrity failure; an unreadable file is an I/O failure.
func Verify(ctx context.Context, path, expected string) error {
	actual, _, err := Checksum(ctx, path)
	if err != nil {
		return failure.IO("artifact.verify", err)
	}
	if expected == "" || actual != expected {
		return failure.Integrity("artifact.verify",
			fmt.Errorf("%w: %s (expected %q, got %q)", ErrChecksumMismatch, filepath.Base(path), expected, actual))
	}
	return nil
}
