// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"strconv"

	"github.com/tomtom215/snapvault/internal/artifact"
)

// ListArtifactsWithMetadata returns every artifact, newest first, with its
// metadata and the result of a fresh integrity check. An artifact that fails
// the check is listed with IntegrityValid false, never silently accepted.
func (l *Lifecycle) ListArtifactsWithMetadata(ctx context.Context) ([]Listing, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := entries[i]
		item := Listing{
			Artifact:    e.Artifact(),
			HasMetadata: e.Meta != nil,
		}
		item.RemoteSynced, _ = strconv.ParseBool(item.Artifact.CustomValue(artifact.CustomRemoteSynced))

		if _, err := l.verifier.verifyEntry(ctx, e, StageListing); err != nil {
			item.IntegrityError = err.Error()
		} else {
			item.IntegrityValid = true
		}
		listings = append(listings, item)
	}
	return listings, nil
}

// Verify checks the artifact with the given id.
func (l *Lifecycle) Verify(ctx context.Context, id string) (artifact.Artifact, error) {
	e, err := l.store.Find(ctx, id)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return l.verifier.verifyEntry(ctx, e, StageVerify)
}
