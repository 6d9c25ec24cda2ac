// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package recovery

import (
	"context"
	"time"
)

// ReplayResult describes one change log replay.
type ReplayResult struct {
	// Available is false when no change log covers the window.
	Available bool

	// Applied is the number of changes replayed.
	Applied int
}

// ChangeLog replays changes recorded after a base artifact was taken.
type ChangeLog interface {
	Replay(ctx context.Context, from, to time.Time) (ReplayResult, error)
}

// NoopChangeLog is used when the data store keeps no change log. A
// point-in-time recovery then restores the base artifact only.
type NoopChangeLog struct{}

// Replay implements ChangeLog.
func (NoopChangeLog) Replay(ctx context.Context, _, _ time.Time) (ReplayResult, error) {
	return ReplayResult{}, ctx.Err()
}
