// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	recoveryIDKey    contextKey = "recovery_id"
)

// GenerateCorrelationID returns the first 8 characters of a random UUID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a context carrying id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID tags ctx with a fresh correlation ID. Each
// scheduled cycle, backup and recovery starts from one so its log lines and
// audit events can be joined.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRecoveryID returns a context carrying a recovery operation ID.
func ContextWithRecoveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recoveryIDKey, id)
}

// RecoveryIDFromContext returns the recovery ID or "".
func RecoveryIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(recoveryIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger with correlation_id and recovery_id added
// when ctx carries them.
//
//	logging.Ctx(ctx).Info().Msg("Restoring")
//	// {"level":"info","correlation_id":"abc12345","recovery_id":"recovery_full_...","message":"Restoring"}
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		lc = lc.Str("correlation_id", id)
	}
	if id := RecoveryIDFromContext(ctx); id != "" {
		lc = lc.Str("recovery_id", id)
	}
	l := lc.Logger()
	return &l
}

// CtxInfo is shorthand for Ctx(ctx).Info().
func CtxInfo(ctx context.Context) *zerolog.Event {
	return Ctx(ctx).Info()
}

// CtxErr is shorthand for Ctx(ctx).Err(err).
func CtxErr(ctx context.Context, err error) *zerolog.Event {
	return Ctx(ctx).Err(err)
}
