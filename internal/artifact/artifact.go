// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package artifact owns the on-disk representation of backup artifacts.
//
// An artifact is a single file in the backup directory named
//
//	<type>_<yyyyMMdd_HHmmss>.backup[.gz][.enc]
//
// accompanied by two sidecars:
//
//   - <artifact>.hash: the base64 SHA-256 checksum of the artifact bytes
//   - <artifact>.meta: key=value properties describing the artifact
//
// The Store serializes all mutations of one artifact (creation, metadata
// rewrites, deletion) behind a per-id lock, and commits new artifacts by
// writing both sidecars before atomically renaming the payload into place.
// Temporary files carry a hidden ".tmp-" prefix and never match the naming
// convention, so concurrent listings never observe half-written artifacts.
package artifact

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies a backup artifact.
type Type string

const (
	TypeFull         Type = "FULL"
	TypeIncremental  Type = "INCREMENTAL"
	TypeDifferential Type = "DIFFERENTIAL"
)

// Types lists every artifact type in a stable order.
var Types = []Type{TypeFull, TypeIncremental, TypeDifferential}

// ParseType parses a type name case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown backup type %q", s)
	}
	return t, nil
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeFull, TypeIncremental, TypeDifferential:
		return true
	}
	return false
}

// Prefix returns the lowercase filename prefix for t.
func (t Type) Prefix() string {
	return strings.ToLower(string(t))
}

// File naming.
const (
	TimestampLayout = "20060102_150405"

	PayloadExt    = ".backup"
	CompressedExt = ".gz"
	EncryptedExt  = ".enc"
	HashExt       = ".hash"
	MetaExt       = ".meta"

	// TempPrefix marks in-flight files. It starts with a dot so it can never
	// be mistaken for an artifact.
	TempPrefix = ".tmp-"
)

// NewID builds the artifact id for type t created at ts.
func NewID(t Type, ts time.Time) string {
	return t.Prefix() + "_" + ts.UTC().Format(TimestampLayout)
}

// FileName returns the payload file name for id with the given transforms.
func FileName(id string, compressed, encrypted bool) string {
	name := id + PayloadExt
	if compressed {
		name += CompressedExt
	}
	if encrypted {
		name += EncryptedExt
	}
	return name
}

// Name is what can be learned about an artifact from its file name alone.
type Name struct {
	ID          string
	Type        Type
	CreatedTime time.Time // zero when the name carries no parsable timestamp
	Compressed  bool
	Encrypted   bool
}

// ParseFileName classifies a directory entry by the naming convention. It
// returns false for sidecars, temporary files and anything that is not a
// payload. The type falls back to FULL when the prefix is not recognized.
func ParseFileName(name string) (Name, bool) {
	if name == "" || strings.HasPrefix(name, ".") {
		return Name{}, false
	}
	if strings.HasSuffix(name, HashExt) || strings.HasSuffix(name, MetaExt) {
		return Name{}, false
	}

	var n Name
	rest := name
	if strings.HasSuffix(rest, EncryptedExt) {
		n.Encrypted = true
		rest = strings.TrimSuffix(rest, EncryptedExt)
	}
	if strings.HasSuffix(rest, CompressedExt) {
		n.Compressed = true
		rest = strings.TrimSuffix(rest, CompressedExt)
	}
	if !strings.HasSuffix(rest, PayloadExt) {
		return Name{}, false
	}
	n.ID = strings.TrimSuffix(rest, PayloadExt)
	if n.ID == "" {
		return Name{}, false
	}

	n.Type = TypeFull
	prefix, stamp, found := strings.Cut(n.ID, "_")
	if t, err := ParseType(prefix); err == nil {
		n.Type = t
	}
	if found {
		if ts, err := time.ParseInLocation(TimestampLayout, stamp, time.UTC); err == nil {
			n.CreatedTime = ts
		}
	}
	return n, true
}

// Artifact is a backup artifact together with its recorded metadata.
type Artifact struct {
	ID           string
	Type         Type
	Path         string
	CreatedTime  time.Time
	ExpiryTime   time.Time
	SizeBytes    int64
	Checksum     string
	Encrypted    bool
	Compressed   bool
	OriginalPath string
	Custom       map[string]string
}

// Well-known custom metadata keys.
const (
	CustomSourceChecksum = "sourceChecksum"
	CustomRemoteSynced   = "remoteSynced"
	CustomRemoteSyncedAt = "remoteSyncedAt"
)

// IsExpired reports whether the artifact is older than retentionDays at now.
// An artifact exactly at the boundary is not yet expired.
func (a Artifact) IsExpired(now time.Time, retentionDays int) bool {
	return now.After(a.CreatedTime.AddDate(0, 0, retentionDays))
}

// FileName returns the payload file name implied by the artifact's flags.
func (a Artifact) FileName() string {
	return FileName(a.ID, a.Compressed, a.Encrypted)
}

// CustomValue returns a custom property.
func (a Artifact) CustomValue(key string) string {
	if a.Custom == nil {
		return ""
	}
	return a.Custom[key]
}

// WithCustom returns a copy of a with key set to value.
func (a Artifact) WithCustom(key, value string) Artifact {
	custom := make(map[string]string, len(a.Custom)+1)
	for k, v := range a.Custom {
		custom[k] = v
	}
	custom[key] = value
	a.Custom = custom
	return a
}
