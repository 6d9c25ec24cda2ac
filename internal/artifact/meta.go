// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
meta.go - Metadata Sidecar Codec

The .meta sidecar is a Java-style properties file:

	backupId=full_20260115_020000
	backupType=FULL
	createdTime=2026-01-15T02:00:00Z
	expiryTime=2026-02-14T02:00:00Z
	fileSizeBytes=1048576
	checksum=...
	isEncrypted=true
	isCompressed=true
	originalPath=/var/lib/snapvault/work/full_20260115_020000.dump
	custom.sourceChecksum=...

Property expansion is disabled so values containing ${...} round-trip
verbatim. Custom keys are written in sorted order.
*/

//nolint:staticcheck // File documentation, not package doc
package artifact

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
)

const (
	keyID           = "backupId"
	keyType         = "backupType"
	keyCreated      = "createdTime"
	keyExpiry       = "expiryTime"
	keySize         = "fileSizeBytes"
	keyChecksum     = "checksum"
	keyEncrypted    = "isEncrypted"
	keyCompressed   = "isCompressed"
	keyOriginalPath = "originalPath"
	customPrefix    = "custom."
)

// EncodeMeta renders the metadata sidecar for a.
func EncodeMeta(a Artifact) ([]byte, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true

	set := func(k, v string) error {
		if _, _, err := p.Set(k, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
		return nil
	}

	fields := []struct{ k, v string }{
		{keyID, a.ID},
		{keyType, string(a.Type)},
		{keyCreated, formatTime(a.CreatedTime)},
		{keyExpiry, formatTime(a.ExpiryTime)},
		{keySize, strconv.FormatInt(a.SizeBytes, 10)},
		{keyChecksum, a.Checksum},
		{keyEncrypted, strconv.FormatBool(a.Encrypted)},
		{keyCompressed, strconv.FormatBool(a.Compressed)},
		{keyOriginalPath, a.OriginalPath},
	}
	for _, f := range fields {
		if err := set(f.k, f.v); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(a.Custom))
	for k := range a.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := set(customPrefix+k, a.Custom[k]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMeta parses a metadata sidecar. Path is not part of the sidecar and is
// left empty.
func DecodeMeta(data []byte) (Artifact, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	var a Artifact
	a.ID, _ = p.Get(keyID)
	if a.ID == "" {
		return Artifact{}, fmt.Errorf("metadata is missing %s", keyID)
	}

	rawType, _ := p.Get(keyType)
	if a.Type, err = ParseType(rawType); err != nil {
		return Artifact{}, err
	}
	if a.CreatedTime, err = parseTime(p, keyCreated); err != nil {
		return Artifact{}, err
	}
	if a.ExpiryTime, err = parseTime(p, keyExpiry); err != nil {
		return Artifact{}, err
	}
	if raw, ok := p.Get(keySize); ok && raw != "" {
		if a.SizeBytes, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Artifact{}, fmt.Errorf("invalid %s %q: %w", keySize, raw, err)
		}
	}
	a.Checksum, _ = p.Get(keyChecksum)
	a.OriginalPath, _ = p.Get(keyOriginalPath)
	a.Encrypted = parseBool(p, keyEncrypted)
	a.Compressed = parseBool(p, keyCompressed)

	for _, k := range p.Keys() {
		if !strings.HasPrefix(k, customPrefix) {
			continue
		}
		if a.Custom == nil {
			a.Custom = make(map[string]string)
		}
		a.Custom[strings.TrimPrefix(k, customPrefix)], _ = p.Get(k)
	}
	return a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(p *properties.Properties, key string) (time.Time, error) {
	raw, ok := p.Get(key)
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return t.UTC(), nil
}

func parseBool(p *properties.Properties, key string) bool {
	raw, _ := p.Get(key)
	b, _ := strconv.ParseBool(raw)
	return b
}
