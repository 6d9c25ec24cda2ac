// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package recovery

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/failure"
)

// Type is the kind of recovery.
type Type string

const (
	TypeFull        Type = "FULL"
	TypePointInTime Type = "POINT_IN_TIME"
	TypeSelective   Type = "SELECTIVE"
)

// Types lists every recovery type.
var Types = []Type{TypeFull, TypePointInTime, TypeSelective}

// ParseType accepts the canonical name in any case, with '-' for '_'.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", failure.New(failure.ErrValidation, "recovery.type", "unknown recovery type %q", s)
}

// State is a stage of the recovery state machine.
type State string

const (
	StateValidating    State = "VALIDATING"
	StateDecrypting    State = "DECRYPTING"
	StateDecompressing State = "DECOMPRESSING"
	StateRestoring     State = "RESTORING"
	StateLogReplay     State = "LOG_REPLAY"
	StateComplete      State = "COMPLETE"
	StateFailed        State = "FAILED"
)

// Detail keys recorded on operations.
const (
	DetailBaseArtifact    = "baseArtifact"
	DetailArtifactPath    = "artifactPath"
	DetailTargetTime      = "targetTime"
	DetailTables          = "tables"
	DetailSelectiveMode   = "selectiveMode"
	DetailLogReplay       = "logReplay"
	DetailReplayedChanges = "replayedChanges"
	DetailPayloadChecksum = "payloadChecksum"
	DetailPayloadBytes    = "payloadBytes"
	DetailDuration        = "duration"
	DetailOperator        = "operator"
	DetailIssues          = "issues"
)

// Operator identifies who triggered a recovery.
type Operator struct {
	ID    string
	Roles []string

	// ConfirmationToken is consumed once all other prerequisites pass.
	ConfirmationToken string
}

// Operation is the immutable result of one recovery attempt.
type Operation struct {
	ID               string
	Type             Type
	SourceArtifactID string
	StartTime        time.Time
	EndTime          time.Time
	Success          bool
	ErrorMessage     string

	// State is StateComplete or StateFailed.
	State State

	err     error
	stages  []State
	details map[string]string
}

// Duration is the wall time of the operation.
func (o Operation) Duration() time.Duration {
	return o.EndTime.Sub(o.StartTime)
}

// Err returns the classified failure, nil on success.
func (o Operation) Err() error {
	return o.err
}

// Details returns a copy of the diagnostic key/value pairs.
func (o Operation) Details() map[string]string {
	return maps.Clone(o.details)
}

// Detail returns one diagnostic value.
func (o Operation) Detail(key string) string {
	return o.details[key]
}

// Stages returns a copy of the states the operation passed through, in order.
func (o Operation) Stages() []State {
	return append([]State(nil), o.stages...)
}

// GenerateRecoveryID names a recovery of type t started at ts, e.g.
// recovery_point_in_time_20260315_120000.
func GenerateRecoveryID(t Type, ts time.Time) string {
	return fmt.Sprintf("recovery_%s_%s", strings.ToLower(string(t)), ts.UTC().Format(artifact.TimestampLayout))
}

// tracker accumulates an operation while it runs. It is owned by a single
// goroutine at a time.
type tracker struct {
	id      string
	typ     Type
	source  string
	start   time.Time
	stages  []State
	details map[string]string
}

func newTracker(t Type, start time.Time) *tracker {
	return &tracker{
		id:      GenerateRecoveryID(t, start),
		typ:     t,
		start:   start.UTC(),
		details: make(map[string]string),
	}
}

func (t *tracker) enter(s State) {
	t.stages = append(t.stages, s)
}

func (t *tracker) set(key, value string) {
	t.details[key] = value
}

func (t *tracker) current() State {
	if len(t.stages) == 0 {
		return ""
	}
	return t.stages[len(t.stages)-1]
}

// finish freezes the tracker into an Operation.
func (t *tracker) finish(end time.Time, err error) Operation {
	op := Operation{
		ID:               t.id,
		Type:             t.typ,
		SourceArtifactID: t.source,
		StartTime:        t.start,
		EndTime:          end.UTC(),
		Success:          err == nil,
		err:              err,
		details:          maps.Clone(t.details),
	}
	op.details[DetailDuration] = op.Duration().String()

	final := StateComplete
	if err != nil {
		final = StateFailed
		op.ErrorMessage = err.Error()
	}
	op.State = final
	op.stages = append(append([]State(nil), t.stages...), final)
	return op
}
