// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package notify delivers operator notifications such as storage alerts and
// integrity failures.
//
// Delivery is best effort: callers log a failed Send and carry on. The
// available sinks are:
//   - WebhookSink: JSON POST to an HTTP endpoint, rate limited
//   - LogSink: structured log line, used when no webhook is configured
//   - Fanout: sends to several sinks and joins their errors
package notify

import (
	"context"
	"errors"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// Sink delivers a message to a recipient.
type Sink interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogSink writes notifications to the application log.
type LogSink struct{}

// Send implements Sink.
func (LogSink) Send(ctx context.Context, recipient, subject, body string) error {
	logging.Ctx(ctx).Warn().
		Str("recipient", recipient).
		Str("subject", subject).
		Str("body", body).
		Msg("Notification")
	metrics.RecordNotification("log", nil)
	return nil
}

// Fanout sends every notification to all of its sinks.
type Fanout []Sink

// Send implements Sink. Every sink is attempted even if an earlier one fails.
func (f Fanout) Send(ctx context.Context, recipient, subject, body string) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, recipient, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
