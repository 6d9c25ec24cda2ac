// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
engine.go - Backup Creation

The engine turns one run of the dump tool into a committed artifact:

 1. Dump:     the dump tool writes a raw dump into the work directory
 2. Encode:   raw bytes → sha256 (source checksum) → gzip → AES-256-GCM
 3. Stage:    encoded bytes go to a hidden .tmp- file in the backup
              directory while the final checksum is computed
 4. Commit:   .hash and .meta sidecars are written, the checksum is recorded
              in the integrity store, then the payload is renamed into place

Steps 3 and 4 run under the artifact's id lock inside artifact.Store.Commit.
Any failure removes the staging and temporary files and yields a failed
Result carrying the classified cause.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/encryption"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/workers"
)

// Dumper produces a raw dump of the data store at outPath.
type Dumper interface {
	Dump(ctx context.Context, outPath string) error
}

// EngineConfig configures backup creation.
type EngineConfig struct {
	// WorkDir holds raw dumps while they are encoded.
	WorkDir string

	Compression      bool
	CompressionLevel int

	// EncryptionKey enables encryption when the policy asks for it.
	EncryptionKey string
}

// Engine creates backup artifacts.
type Engine struct {
	cfg       EngineConfig
	dumper    Dumper
	store     *artifact.Store
	integrity *integrity.Store
	pool      *workers.Pool
	policy    *PolicyStore
	cipher    *encryption.Cipher
	audit     audit.Sink

	now func() time.Time
}

// NewEngine validates the configuration and prepares the work directory.
func NewEngine(cfg EngineConfig, dumper Dumper, deps Deps) (*Engine, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if dumper == nil {
		return nil, errors.New("dump tool is required")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("work directory is required")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, failure.IO("backup.init", fmt.Errorf("failed to create work directory: %w", err))
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = gzip.DefaultCompression
	}

	e := &Engine{
		cfg:       cfg,
		dumper:    dumper,
		store:     deps.Store,
		integrity: deps.Integrity,
		pool:      deps.Pool,
		policy:    deps.Policy,
		audit:     deps.Audit,
		now:       time.Now,
	}

	if cfg.EncryptionKey != "" {
		c, err := encryption.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, failure.Crypto("backup.init", err)
		}
		e.cipher = c
	}
	if deps.Policy.Get().EncryptionEnabled && e.cipher == nil {
		return nil, failure.Crypto("backup.init", errors.New("encryption is enabled but no key is configured"))
	}
	return e, nil
}

// CanEncrypt reports whether an encryption key is configured.
func (e *Engine) CanEncrypt() bool {
	return e.cipher != nil
}

// Cipher returns the configured cipher, nil without a key.
func (e *Engine) Cipher() *encryption.Cipher {
	return e.cipher
}

// CreateBackup runs the full pipeline synchronously.
func (e *Engine) CreateBackup(ctx context.Context, t artifact.Type) Result {
	start := e.now().UTC()
	id := artifact.NewID(t, start)
	logger := logging.Ctx(ctx).With().Str("artifact_id", id).Str("type", string(t)).Logger()

	if !t.Valid() {
		err := failure.Validation("backup.create", fmt.Errorf("unknown backup type %q", t))
		return e.finish(ctx, failed(id, t, start, e.now().UTC(), err))
	}

	logger.Info().Msg("Starting backup")
	a, err := e.create(ctx, id, t, start)
	end := e.now().UTC()
	if err != nil {
		logger.Error().Err(err).Str("kind", failure.Label(err)).Msg("Backup failed")
		return e.finish(ctx, failed(id, t, start, end, err))
	}

	logger.Info().
		Str("path", a.Path).
		Int64("size_bytes", a.SizeBytes).
		Bool("compressed", a.Compressed).
		Bool("encrypted", a.Encrypted).
		Dur("duration", end.Sub(start)).
		Msg("Backup committed")
	return e.finish(ctx, succeeded(a, start, end))
}

// CreateBackupAsync runs CreateBackup on the worker pool. The future's error
// is set only when the task never ran (pool closed or cancelled while
// queued); pipeline failures are reported through Result.Err.
func (e *Engine) CreateBackupAsync(ctx context.Context, t artifact.Type) *workers.Future[Result] {
	return workers.Submit(ctx, e.pool, func(ctx context.Context) (Result, error) {
		return e.CreateBackup(ctx, t), nil
	})
}

func (e *Engine) finish(ctx context.Context, r Result) Result {
	metrics.RecordBackup(string(r.Type), r.Duration(), r.SizeBytes, r.Err)

	if r.Success {
		e.audit.Record(audit.NewEvent(ctx, audit.EventTypeBackupCreated, audit.OutcomeSuccess,
			audit.ArtifactTarget(r.ArtifactID), "backup created", map[string]any{
				"type":       r.Type,
				"size_bytes": r.SizeBytes,
				"checksum":   r.Checksum,
			}))
		return r
	}
	e.audit.Record(audit.NewEvent(ctx, audit.EventTypeBackupFailed, audit.OutcomeFailure,
		audit.ArtifactTarget(r.ArtifactID), "backup failed", map[string]any{
			"type":  r.Type,
			"kind":  failure.Label(r.Err),
			"error": r.Err.Error(),
		}))
	return r
}

func (e *Engine) create(ctx context.Context, id string, t artifact.Type, created time.Time) (artifact.Artifact, error) {
	policy := e.policy.Get()
	encrypt := policy.EncryptionEnabled
	if encrypt && e.cipher == nil {
		return artifact.Artifact{}, failure.Crypto("backup.encrypt", errors.New("encryption is enabled but no key is configured"))
	}

	stagePath := filepath.Join(e.cfg.WorkDir, id+".dump")
	defer os.Remove(stagePath) //nolint:errcheck // Best effort cleanup

	if err := e.dumper.Dump(ctx, stagePath); err != nil {
		if failure.KindOf(err) == nil {
			err = failure.ExternalTool("backup.dump", err)
		}
		return artifact.Artifact{}, err
	}

	tmp, err := e.store.CreateTemp(id)
	if err != nil {
		return artifact.Artifact{}, err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()        //nolint:errcheck,gosec // Best effort cleanup
			os.Remove(tmpPath) //nolint:errcheck,gosec // Best effort cleanup
		}
	}()

	sourceSum, sum, size, err := e.encode(ctx, stagePath, tmp, encrypt)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if err := tmp.Sync(); err != nil {
		return artifact.Artifact{}, failure.IO("backup.stage", err)
	}
	if err := tmp.Close(); err != nil {
		return artifact.Artifact{}, failure.IO("backup.stage", err)
	}

	a := artifact.Artifact{
		ID:           id,
		Type:         t,
		CreatedTime:  created,
		ExpiryTime:   created.AddDate(0, 0, policy.RetentionDays),
		SizeBytes:    size,
		Checksum:     sum,
		Encrypted:    encrypt,
		Compressed:   e.cfg.Compression,
		OriginalPath: stagePath,
	}.WithCustom(artifact.CustomSourceChecksum, sourceSum)

	a, err = e.store.Commit(a, tmpPath, func(c artifact.Artifact) error {
		return e.integrity.Put(integrity.Record{
			ArtifactID: c.ID,
			Checksum:   c.Checksum,
			SizeBytes:  c.SizeBytes,
			RecordedAt: e.now().UTC(),
		})
	})
	if err != nil {
		return artifact.Artifact{}, err
	}
	committed = true
	return a, nil
}

// encode streams the raw dump at stagePath into dst, returning the source
// checksum, the checksum of the bytes written, and their count.
//
//nolint:gosec // G304: stagePath is inside the work directory
func (e *Engine) encode(ctx context.Context, stagePath string, dst io.Writer, encrypt bool) (string, string, int64, error) {
	src, err := os.Open(stagePath)
	if err != nil {
		return "", "", 0, failure.IO("backup.read_dump", err)
	}
	defer src.Close() //nolint:errcheck // Read-only

	sourceHash := artifact.NewHash()
	finalHash := artifact.NewHash()
	counter := &countingWriter{w: io.MultiWriter(dst, finalHash)}

	var w io.Writer = counter
	var closers []func() error

	if encrypt {
		ew, err := e.cipher.NewWriter(w)
		if err != nil {
			return "", "", 0, failure.Crypto("backup.encrypt", err)
		}
		w = ew
		closers = append(closers, ew.Close)
	}
	if e.cfg.Compression {
		gz, err := gzip.NewWriterLevel(w, e.cfg.CompressionLevel)
		if err != nil {
			return "", "", 0, failure.Validation("backup.compress", err)
		}
		w = gz
		closers = append(closers, gz.Close)
	}

	if _, err := io.Copy(w, io.TeeReader(artifact.ContextReader(ctx, src), sourceHash)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", 0, failure.IO("backup.encode", ctxErr)
		}
		return "", "", 0, failure.IO("backup.encode", err)
	}
	// Innermost writer first: gzip flushes into the encryptor before it seals.
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			return "", "", 0, failure.IO("backup.encode", err)
		}
	}

	return artifact.EncodeSum(sourceHash.Sum(nil)), artifact.EncodeSum(finalHash.Sum(nil)), counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
