// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/authz"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
)

// Prerequisites is the outcome of ValidateRecoveryPrerequisites. All
// problems are collected so they can be shown at once.
type Prerequisites struct {
	Valid  bool
	Issues []string

	errs     []error
	artifact artifact.Artifact
}

// Err joins the classified errors behind Issues, nil when valid.
func (p Prerequisites) Err() error {
	return errors.Join(p.errs...)
}

func (p *Prerequisites) add(err error) {
	p.errs = append(p.errs, err)
	p.Issues = append(p.Issues, err.Error())
}

// ValidateRecoveryPrerequisites checks that a recovery of type t from
// artifactPath can run: the artifact exists in the backup directory and
// verifies, the data store answers, the work directory has room for the
// intermediates and the operator is authorized. It never returns an error;
// problems are reported in the result.
func (o *Orchestrator) ValidateRecoveryPrerequisites(ctx context.Context, t Type, artifactPath string, op Operator) Prerequisites {
	var p Prerequisites
	logger := logging.Ctx(ctx)

	size, exists := o.checkLocation(&p, artifactPath)
	if exists {
		a, err := o.deps.Verifier.VerifyPath(ctx, artifactPath, backup.StageRecovery)
		if err != nil {
			p.add(err)
		}
		p.artifact = a
		if a.Encrypted && o.deps.Cipher == nil {
			p.add(failure.New(failure.ErrCrypto, "recovery.prerequisites",
				"artifact %s is encrypted but no encryption key is configured", a.ID))
		}
	}

	if err := o.deps.Tool.Ping(ctx); err != nil {
		p.add(failure.ExternalTool("recovery.prerequisites", fmt.Errorf("data store unreachable: %w", err)))
	}

	if exists {
		o.checkHeadroom(ctx, &p, size)
	}

	allowed, err := o.deps.Authorizer.Authorize(op.ID, op.Roles, authz.RecoveryResource(string(t)), authz.ActionExecute)
	switch {
	case err != nil:
		p.add(failure.Validation("recovery.prerequisites", fmt.Errorf("authorization check failed: %w", err)))
	case !allowed:
		p.add(failure.New(failure.ErrValidation, "recovery.prerequisites",
			"operator %q is not authorized for %s recovery", op.ID, t))
		ev := audit.NewEvent(ctx, audit.EventTypeAuthzDenied, audit.OutcomeFailure,
			&audit.Target{ID: authz.RecoveryResource(string(t)), Type: "resource"}, "recovery denied", nil)
		ev.Actor = audit.OperatorActor(op.ID, op.Roles)
		o.deps.Audit.Record(ev)
	}

	p.Valid = len(p.errs) == 0
	if !p.Valid {
		logger.Warn().Strs("issues", p.Issues).Str("type", string(t)).Msg("Recovery prerequisites not met")
	}
	return p
}

// checkLocation confirms the artifact is a payload inside the backup
// directory and returns its size.
func (o *Orchestrator) checkLocation(p *Prerequisites, artifactPath string) (int64, bool) {
	if artifactPath == "" {
		p.add(failure.New(failure.ErrValidation, "recovery.prerequisites", "artifact path is required"))
		return 0, false
	}
	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		p.add(failure.Validation("recovery.prerequisites", err))
		return 0, false
	}
	dir, err := filepath.Abs(o.deps.Store.Dir())
	if err != nil {
		p.add(failure.IO("recovery.prerequisites", err))
		return 0, false
	}
	if filepath.Dir(abs) != dir {
		p.add(failure.New(failure.ErrValidation, "recovery.prerequisites",
			"%s is not in the backup directory", artifactPath))
		return 0, false
	}
	if _, ok := artifact.ParseFileName(filepath.Base(abs)); !ok {
		p.add(failure.New(failure.ErrValidation, "recovery.prerequisites", "%s is not a backup artifact", artifactPath))
		return 0, false
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p.add(failure.New(failure.ErrValidation, "recovery.prerequisites", "artifact %s does not exist", filepath.Base(abs)))
		return 0, false
	case err != nil:
		p.add(failure.IO("recovery.prerequisites", err))
		return 0, false
	}
	return info.Size(), true
}

func (o *Orchestrator) checkHeadroom(ctx context.Context, p *Prerequisites, size int64) {
	usage, err := o.deps.DiskUsage(ctx, o.cfg.WorkDir)
	if err != nil {
		p.add(failure.IO("recovery.prerequisites", fmt.Errorf("cannot determine free space: %w", err)))
		return
	}
	need := uint64(size) * uint64(o.cfg.HeadroomFactor) //nolint:gosec // G115: size comes from os.Stat
	if usage.Free < need {
		p.add(failure.New(failure.ErrValidation, "recovery.prerequisites",
			"insufficient free space in %s: %d bytes available, %d required", o.cfg.WorkDir, usage.Free, need))
	}
}
