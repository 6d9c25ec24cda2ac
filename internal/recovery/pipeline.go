// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
pipeline.go - Recovery Stages

execute reverses the creation pipeline inside a scratch directory:

	artifact[.gz][.enc] --decrypt--> payload.gz --gunzip--> payload.dump --restore--> data store

Read errors are classified by the stage that produced them: a failed
authentication tag is a CryptoFailure, a corrupt gzip stream an
IntegrityFailure. Write errors are IOFailures. The scratch directory is
removed when execute returns.
*/

//nolint:staticcheck // File documentation, not package doc
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
)

func (o *Orchestrator) execute(ctx context.Context, t *tracker, req request, a artifact.Artifact) error {
	scratch, err := os.MkdirTemp(o.cfg.WorkDir, t.id+"-")
	if err != nil {
		return failure.IO("recovery.scratch", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("dir", scratch).Msg("Failed to remove recovery scratch directory")
		}
	}()

	src := req.path

	t.enter(StateDecrypting)
	if a.Encrypted {
		out := filepath.Join(scratch, "payload.dec")
		if err := o.decrypt(ctx, src, out); err != nil {
			return err
		}
		src = out
	}

	t.enter(StateDecompressing)
	payload := src
	if a.Compressed {
		payload = filepath.Join(scratch, "payload.dump")
		if err := decompress(ctx, src, payload); err != nil {
			return err
		}
		if src != req.path {
			os.Remove(src) //nolint:errcheck,gosec // Best effort cleanup, scratch is removed anyway
		}
	}

	sum, size, err := artifact.Checksum(ctx, payload)
	if err != nil {
		return err
	}
	t.set(DetailPayloadChecksum, sum)
	t.set(DetailPayloadBytes, itoa(size))
	if want := a.CustomValue(artifact.CustomSourceChecksum); want != "" && want != sum {
		return failure.Integrity("recovery.payload", fmt.Errorf("%w: recovered payload of %s differs from the dump taken at creation",
			artifact.ErrChecksumMismatch, a.ID))
	}

	t.enter(StateRestoring)
	logging.Ctx(ctx).Info().Str("artifact_id", a.ID).Int64("payload_bytes", size).Msg("Restoring payload")
	if err := o.deps.Tool.Restore(ctx, payload); err != nil {
		if failure.KindOf(err) == nil {
			err = failure.ExternalTool("recovery.restore", err)
		}
		return err
	}

	if req.typ == TypePointInTime {
		t.enter(StateLogReplay)
		res, err := o.deps.ChangeLog.Replay(ctx, a.CreatedTime, req.target)
		if err != nil {
			return failure.ExternalTool("recovery.log_replay", err)
		}
		if res.Available {
			t.set(DetailLogReplay, "applied")
			t.set(DetailReplayedChanges, strconv.Itoa(res.Applied))
		} else {
			t.set(DetailLogReplay, "unavailable")
			logging.Ctx(ctx).Warn().
				Time("base", a.CreatedTime).
				Time("target", req.target).
				Msg("No change log available; restored to the base backup only")
		}
	}
	return nil
}

func (o *Orchestrator) decrypt(ctx context.Context, src, dst string) error {
	if o.deps.Cipher == nil {
		return failure.New(failure.ErrCrypto, "recovery.decrypt", "no encryption key configured")
	}
	return transform(ctx, src, dst, "recovery.decrypt", failure.ErrCrypto, func(r io.Reader) (io.Reader, error) {
		return o.deps.Cipher.NewReader(r)
	})
}

func decompress(ctx context.Context, src, dst string) error {
	return transform(ctx, src, dst, "recovery.decompress", failure.ErrIntegrity, func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	})
}

// transform streams src through wrap into a new file at dst. Errors opening
// or reading the wrapped stream are classified as readKind.
func transform(ctx context.Context, src, dst, op string, readKind error, wrap func(io.Reader) (io.Reader, error)) error {
	in, err := os.Open(src) //nolint:gosec // G304: path is the verified artifact or a scratch file
	if err != nil {
		return failure.IO(op, err)
	}
	defer in.Close() //nolint:errcheck // Read-only

	r, err := wrap(artifact.ContextReader(ctx, in))
	if err != nil {
		return failure.Wrap(readKind, op, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: scratch path
	if err != nil {
		return failure.IO(op, err)
	}
	tr := &trackingReader{r: r}
	_, copyErr := io.Copy(out, tr)
	closeErr := out.Close()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case tr.err != nil:
		return failure.Wrap(readKind, op, tr.err)
	case copyErr != nil:
		return failure.IO(op, copyErr)
	case closeErr != nil:
		return failure.IO(op, closeErr)
	}
	return nil
}

// trackingReader remembers the first read error.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
