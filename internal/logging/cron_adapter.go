// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CronLogger satisfies the robfig/cron Logger interface. The scheduler's
// routine "wake"/"run" chatter goes to debug; errors and the skip notices
// from SkipIfStillRunning go to error and info respectively.
type CronLogger struct {
	logger zerolog.Logger
}

// NewCronLogger wraps the global logger tagged with component=scheduler.
func NewCronLogger() *CronLogger {
	return &CronLogger{logger: WithComponent("scheduler")}
}

// NewCronLoggerWithLogger wraps logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewCronLoggerWithLogger(logger zerolog.Logger) *CronLogger {
	return &CronLogger{logger: logger}
}

// Info logs routine scheduler activity.
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	event := c.logger.Debug()
	if msg == "skip" {
		event = c.logger.Info()
	}
	withKeysAndValues(event, keysAndValues).Msg("cron: " + msg)
}

// Error logs a scheduler error, including recovered job panics.
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	withKeysAndValues(c.logger.Error().Err(err), keysAndValues).Msg("cron: " + msg)
}

func withKeysAndValues(event *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			event = event.Str(key, "(MISSING)")
			break
		}
		event = event.Interface(key, kv[i+1])
	}
	return event
}
