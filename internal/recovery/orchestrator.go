// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/authz"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/encryption"
	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/notify"
	"github.com/tomtom215/snapvault/internal/workers"
)

// DefaultHeadroomFactor is the free space required in the work directory,
// as a multiple of the artifact size.
const DefaultHeadroomFactor = 3

// ErrRecoveryInProgress is returned when a second recovery is started while
// one is running.
var ErrRecoveryInProgress = errors.New("another recovery is in progress")

// Tool restores dumps into the data store. *dbtool.Runner implements it.
type Tool interface {
	Restore(ctx context.Context, inPath string) error
	Ping(ctx context.Context) error
}

// Authorizer decides whether an operator may run a recovery.
// *authz.Enforcer implements it.
type Authorizer interface {
	Authorize(operatorID string, roles []string, object, action string) (bool, error)
}

// Config configures the orchestrator.
type Config struct {
	// WorkDir holds scratch files while a recovery runs.
	WorkDir string

	// HeadroomFactor defaults to DefaultHeadroomFactor.
	HeadroomFactor int

	// SkipConfirmation disables confirmation tokens. Only for tests and
	// non-interactive tooling that confirms by other means.
	SkipConfirmation bool

	// Recipients are notified of integrity failures found before a restore.
	Recipients []string
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Store         *artifact.Store
	Verifier      *backup.Verifier
	Cipher        *encryption.Cipher // nil when no key is configured
	Tool          Tool
	Pool          *workers.Pool
	Authorizer    Authorizer
	Confirmations authz.ConfirmationValidator
	ChangeLog     ChangeLog
	DiskUsage     backup.DiskUsageFunc
	Audit         audit.Sink
	Notifier      notify.Sink
}

// Orchestrator runs recoveries.
type Orchestrator struct {
	cfg  Config
	deps Deps

	// running admits one recovery at a time.
	running sync.Mutex

	now func() time.Time
}

// New validates deps and returns an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case cfg.WorkDir == "":
		return nil, errors.New("recovery work directory is required")
	case deps.Store == nil:
		return nil, errors.New("artifact store is required")
	case deps.Verifier == nil:
		return nil, errors.New("verifier is required")
	case deps.Tool == nil:
		return nil, errors.New("restore tool is required")
	case deps.Pool == nil:
		return nil, errors.New("worker pool is required")
	case deps.Authorizer == nil:
		return nil, errors.New("authorizer is required")
	case deps.Confirmations == nil && !cfg.SkipConfirmation:
		return nil, errors.New("confirmation validator is required")
	}
	if cfg.HeadroomFactor <= 0 {
		cfg.HeadroomFactor = DefaultHeadroomFactor
	}
	if deps.ChangeLog == nil {
		deps.ChangeLog = NoopChangeLog{}
	}
	if deps.DiskUsage == nil {
		deps.DiskUsage = backup.SystemDiskUsage
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogSink{}
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, failure.IO("recovery.init", fmt.Errorf("failed to create work directory: %w", err))
	}
	return &Orchestrator{cfg: cfg, deps: deps, now: time.Now}, nil
}

// PerformFullRecovery restores the artifact at artifactPath.
func (o *Orchestrator) PerformFullRecovery(ctx context.Context, artifactPath string, op Operator) Operation {
	return o.perform(ctx, request{typ: TypeFull, path: artifactPath, operator: op})
}

// PerformPointInTimeRecovery restores the newest artifact created at or
// before target and then replays the change log up to target.
func (o *Orchestrator) PerformPointInTimeRecovery(ctx context.Context, target time.Time, op Operator) Operation {
	req := request{typ: TypePointInTime, operator: op, target: target}
	base, err := o.SelectBaseArtifact(ctx, target)
	if err != nil {
		req.selectErr = err
	} else {
		req.path = base.Path
	}
	return o.perform(ctx, req)
}

// PerformSelectiveRecovery is meant to restore only the named tables. The
// restore tool has no table filter, so the whole artifact is restored and
// the requested tables are recorded in the operation details.
func (o *Orchestrator) PerformSelectiveRecovery(ctx context.Context, artifactPath string, tables []string, op Operator) Operation {
	return o.perform(ctx, request{typ: TypeSelective, path: artifactPath, operator: op, tables: tables})
}

// SelectBaseArtifact returns the artifact with the greatest creation time at
// or before target.
func (o *Orchestrator) SelectBaseArtifact(ctx context.Context, target time.Time) (artifact.Entry, error) {
	entries, err := o.deps.Store.List(ctx)
	if err != nil {
		return artifact.Entry{}, err
	}
	// entries are sorted oldest first
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedTime().After(target)
	})
	if i == 0 {
		return artifact.Entry{}, failure.New(failure.ErrValidation, "recovery.select",
			"no backup exists at or before %s", target.UTC().Format(time.RFC3339))
	}
	return entries[i-1], nil
}

type request struct {
	typ       Type
	path      string
	operator  Operator
	target    time.Time
	tables    []string
	selectErr error
}

func (o *Orchestrator) perform(ctx context.Context, req request) Operation {
	t := newTracker(req.typ, o.now())
	ctx = logging.ContextWithRecoveryID(ctx, t.id)
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	logger := logging.Ctx(ctx)

	t.set(DetailOperator, req.operator.ID)
	if req.path != "" {
		t.set(DetailArtifactPath, req.path)
		if name, ok := artifact.ParseFileName(filepath.Base(req.path)); ok {
			t.source = name.ID
		}
	}
	if req.typ == TypePointInTime {
		t.set(DetailTargetTime, req.target.UTC().Format(time.RFC3339))
		if t.source != "" {
			t.set(DetailBaseArtifact, t.source)
		}
	}
	if req.typ == TypeSelective {
		t.set(DetailTables, strings.Join(req.tables, ","))
		t.set(DetailSelectiveMode, "full_restore_fallback")
	}

	if !o.running.TryLock() {
		t.enter(StateValidating)
		return o.finish(ctx, t, req.operator, failure.Validation("recovery.start", ErrRecoveryInProgress))
	}
	defer o.running.Unlock()

	metrics.RecoveriesInFlight.Inc()
	defer metrics.RecoveriesInFlight.Dec()

	logger.Info().Str("type", string(req.typ)).Str("artifact_id", t.source).Str("operator", req.operator.ID).Msg("Recovery started")
	o.record(ctx, t, req.operator, audit.EventTypeRecoveryStarted, audit.OutcomeSuccess, "recovery started", nil)

	t.enter(StateValidating)
	if req.selectErr != nil {
		return o.finish(ctx, t, req.operator, req.selectErr)
	}

	prereq := o.ValidateRecoveryPrerequisites(ctx, req.typ, req.path, req.operator)
	if !prereq.Valid {
		t.set(DetailIssues, strings.Join(prereq.Issues, "; "))
		return o.finish(ctx, t, req.operator, prereq.Err())
	}
	if err := o.confirm(ctx, req, t.source); err != nil {
		return o.finish(ctx, t, req.operator, err)
	}

	future := workers.Submit(ctx, o.deps.Pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.execute(ctx, t, req, prereq.artifact)
	})
	_, err := future.Wait(ctx)
	if ctx.Err() != nil {
		future.Cancel()
		<-future.Done()
	}
	return o.finish(ctx, t, req.operator, err)
}

// confirm consumes the operator's token. It must match the recovery
// resource and the artifact id.
func (o *Orchestrator) confirm(ctx context.Context, req request, artifactID string) error {
	if o.cfg.SkipConfirmation {
		return nil
	}
	if req.operator.ConfirmationToken == "" {
		return failure.New(failure.ErrValidation, "recovery.confirm", "confirmation token is required")
	}
	c, err := o.deps.Confirmations.Consume(ctx, req.operator.ConfirmationToken)
	if err != nil {
		return failure.Validation("recovery.confirm", err)
	}
	if !c.Matches(authz.RecoveryResource(string(req.typ)), artifactID) {
		return failure.New(failure.ErrValidation, "recovery.confirm",
			"confirmation token is invalid, expired or issued for another operation")
	}
	return nil
}

// finish freezes the operation and emits metrics, audit events and logs.
func (o *Orchestrator) finish(ctx context.Context, t *tracker, operator Operator, err error) Operation {
	failedIn := t.current()
	op := t.finish(o.now(), err)
	metrics.RecordRecovery(string(op.Type), op.Duration(), err)
	logger := logging.Ctx(ctx)

	if err != nil {
		logger.Error().Err(err).
			Str("type", string(op.Type)).
			Str("artifact_id", op.SourceArtifactID).
			Str("stage", string(failedIn)).
			Str("kind", failure.Label(err)).
			Msg("Recovery failed")
		o.record(ctx, t, operator, audit.EventTypeRecoveryFailed, audit.OutcomeFailure, "recovery failed", map[string]any{
			"stage": string(failedIn),
			"error": err.Error(),
		})
		if errors.Is(err, failure.ErrIntegrity) {
			o.notifyIntegrity(ctx, op)
		}
		return op
	}

	logger.Info().
		Str("type", string(op.Type)).
		Str("artifact_id", op.SourceArtifactID).
		Dur("duration", op.Duration()).
		Str("log_replay", op.Detail(DetailLogReplay)).
		Msg("Recovery completed")
	o.record(ctx, t, operator, audit.EventTypeRecoveryCompleted, audit.OutcomeSuccess, "recovery completed", map[string]any{
		"duration_ms": op.Duration().Milliseconds(),
	})
	return op
}

func (o *Orchestrator) record(ctx context.Context, t *tracker, operator Operator, typ audit.EventType, outcome audit.Outcome, desc string, extra map[string]any) {
	meta := map[string]any{
		"recovery_type": string(t.typ),
		"artifact_id":   t.source,
	}
	for k, v := range extra {
		meta[k] = v
	}
	ev := audit.NewEvent(ctx, typ, outcome, audit.RecoveryTarget(t.id), desc, meta)
	if operator.ID != "" {
		ev.Actor = audit.OperatorActor(operator.ID, operator.Roles)
	}
	o.deps.Audit.Record(ev)
}

func (o *Orchestrator) notifyIntegrity(ctx context.Context, op Operation) {
	subject := "Snapvault integrity failure: " + op.SourceArtifactID
	body := fmt.Sprintf("Recovery %s was aborted before touching the data store: %s", op.ID, op.ErrorMessage)
	seen := make(map[string]bool, len(o.cfg.Recipients))
	for _, r := range o.cfg.Recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		if err := o.deps.Notifier.Send(ctx, r, subject, body); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("recipient", r).Msg("Failed to send integrity alert")
		}
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
