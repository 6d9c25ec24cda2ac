// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
store.go - Artifact Store

The Store is the only component that writes into the backup directory.

Commit Flow:
 1. The caller streams the payload into a temporary file from CreateTemp
 2. Commit takes the artifact's id lock
 3. The .hash and .meta sidecars are written (each via temp file + rename)
 4. Optional hooks run (the engine records the checksum in the integrity store)
 5. The payload is renamed to its final name
 6. On any failure the sidecars and temporary file are removed

Because the payload appears last, any artifact visible under its final name
already has both sidecars. Reconciliation and sync marking take the same id
lock before rewriting metadata, and deletion takes it before removing files.

Thread Safety:
Id locks are reference counted and dropped once the last holder releases
them, so the lock table does not grow with deleted artifacts.
*/

//nolint:staticcheck // File documentation, not package doc
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/snapvault/internal/failure"
	"github.com/tomtom215/snapvault/internal/logging"
)

// ErrExists is returned when committing an id that is already taken.
var ErrExists = errors.New("artifact already exists")

// ErrNoMetadata is returned when an artifact has no readable .meta sidecar.
var ErrNoMetadata = errors.New("artifact metadata not found")

// Entry is one payload file found in the backup directory.
type Entry struct {
	Name    Name
	Path    string
	Size    int64
	ModTime time.Time

	// Meta is the parsed sidecar, nil when missing or unreadable.
	Meta *Artifact
}

// CreatedTime prefers metadata, then the file name, then the file mtime.
func (e Entry) CreatedTime() time.Time {
	if e.Meta != nil && !e.Meta.CreatedTime.IsZero() {
		return e.Meta.CreatedTime
	}
	if !e.Name.CreatedTime.IsZero() {
		return e.Name.CreatedTime
	}
	return e.ModTime.UTC()
}

// Artifact returns the recorded metadata, or a description synthesized from
// the file name when there is none.
func (e Entry) Artifact() Artifact {
	if e.Meta != nil {
		a := *e.Meta
		a.Path = e.Path
		return a
	}
	return Artifact{
		ID:          e.Name.ID,
		Type:        e.Name.Type,
		Path:        e.Path,
		CreatedTime: e.CreatedTime(),
		SizeBytes:   e.Size,
		Encrypted:   e.Name.Encrypted,
		Compressed:  e.Name.Compressed,
	}
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// Store manages artifacts under a single directory.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*idLock
}

// NewStore creates dir if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, failure.IO("artifact.init", fmt.Errorf("failed to create backup directory: %w", err))
	}
	return &Store{dir: dir, locks: make(map[string]*idLock)}, nil
}

// Dir returns the backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// Lock acquires the lock for id and returns its release function.
func (s *Store) Lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// lockCount reports the number of live lock entries.
func (s *Store) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// CreateTemp opens a hidden temporary file in the backup directory.
func (s *Store) CreateTemp(id string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, TempPrefix+id+"-*")
	if err != nil {
		return nil, failure.IO("artifact.create_temp", err)
	}
	return f, nil
}

// Commit publishes the payload at tmpPath as artifact a. Hooks run after the
// sidecars are written and before the payload is renamed; a hook error rolls
// the commit back. The returned artifact carries its final Path.
func (s *Store) Commit(a Artifact, tmpPath string, hooks ...func(Artifact) error) (Artifact, error) {
	unlock := s.Lock(a.ID)
	defer unlock()

	a.Path = filepath.Join(s.dir, a.FileName())
	if s.idTaken(a.ID) {
		return Artifact{}, failure.Validation("artifact.commit", fmt.Errorf("%w: %s", ErrExists, a.ID))
	}

	if err := s.writeSidecars(a); err != nil {
		s.removeSidecars(a.Path)
		return Artifact{}, err
	}
	for _, hook := range hooks {
		if err := hook(a); err != nil {
			s.removeSidecars(a.Path)
			return Artifact{}, err
		}
	}
	if err := os.Rename(tmpPath, a.Path); err != nil {
		s.removeSidecars(a.Path)
		return Artifact{}, failure.IO("artifact.commit", fmt.Errorf("failed to rename payload: %w", err))
	}
	return a, nil
}

// idTaken reports whether any payload variant of id already exists.
func (s *Store) idTaken(id string) bool {
	for _, compressed := range []bool{false, true} {
		for _, encrypted := range []bool{false, true} {
			if _, err := os.Stat(filepath.Join(s.dir, FileName(id, compressed, encrypted))); err == nil {
				return true
			}
		}
	}
	return false
}

// SaveMetadata rewrites both sidecars of an existing artifact under its lock.
func (s *Store) SaveMetadata(a Artifact) error {
	unlock := s.Lock(a.ID)
	defer unlock()
	return s.saveMetadataLocked(a)
}

func (s *Store) saveMetadataLocked(a Artifact) error {
	if _, err := os.Stat(a.Path); err != nil {
		return failure.IO("artifact.save_metadata", err)
	}
	return s.writeSidecars(a)
}

// UpdateMetadata re-reads the sidecar of the artifact at path under its lock,
// applies fn, and writes the result back.
func (s *Store) UpdateMetadata(path string, fn func(*Artifact) error) (Artifact, error) {
	n, ok := ParseFileName(filepath.Base(path))
	if !ok {
		return Artifact{}, failure.Validation("artifact.update_metadata", fmt.Errorf("not an artifact: %s", path))
	}

	unlock := s.Lock(n.ID)
	defer unlock()

	a, err := ReadMeta(path)
	if err != nil {
		return Artifact{}, err
	}
	if err := fn(&a); err != nil {
		return Artifact{}, err
	}
	if err := s.saveMetadataLocked(a); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func (s *Store) writeSidecars(a Artifact) error {
	meta, err := EncodeMeta(a)
	if err != nil {
		return failure.IO("artifact.encode_metadata", err)
	}
	if err := s.writeAtomic(a.ID, a.Path+HashExt, []byte(a.Checksum+"\n")); err != nil {
		return err
	}
	return s.writeAtomic(a.ID, a.Path+MetaExt, meta)
}

func (s *Store) writeAtomic(id, path string, data []byte) error {
	f, err := s.CreateTemp(id)
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp, path)
	}
	if werr != nil {
		os.Remove(tmp) //nolint:errcheck,gosec // Best effort cleanup
		return failure.IO("artifact.write_sidecar", fmt.Errorf("%s: %w", filepath.Base(path), werr))
	}
	return nil
}

func (s *Store) removeSidecars(path string) {
	for _, ext := range []string{HashExt, MetaExt} {
		if err := os.Remove(path + ext); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Warn().Err(err).Str("path", path+ext).Msg("Failed to remove sidecar")
		}
	}
}

// ReadMeta loads the .meta sidecar of the payload at path.
//
//nolint:gosec // G304: path is inside the backup directory
func ReadMeta(path string) (Artifact, error) {
	data, err := os.ReadFile(path + MetaExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, failure.IO("artifact.read_metadata", fmt.Errorf("%w: %s", ErrNoMetadata, filepath.Base(path)))
		}
		return Artifact{}, failure.IO("artifact.read_metadata", err)
	}
	a, err := DecodeMeta(data)
	if err != nil {
		return Artifact{}, failure.IO("artifact.read_metadata", err)
	}
	a.Path = path
	return a, nil
}

// ReadHash loads the .hash sidecar of the payload at path.
//
//nolint:gosec // G304: path is inside the backup directory
func ReadHash(path string) (string, error) {
	data, err := os.ReadFile(path + HashExt)
	if err != nil {
		return "", failure.IO("artifact.read_hash", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// List returns every payload in the backup directory, sorted by creation
// time ascending. Unreadable metadata is logged and treated as missing.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, failure.IO("artifact.list", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if de.IsDir() {
			continue
		}
		name, ok := ParseFileName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		e := Entry{
			Name:    name,
			Path:    filepath.Join(s.dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if meta, err := ReadMeta(e.Path); err == nil {
			e.Meta = &meta
		} else if !errors.Is(err, ErrNoMetadata) {
			logging.Warn().Err(err).Str("artifact_id", name.ID).Msg("Ignoring unreadable artifact metadata")
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedTime().Before(entries[j].CreatedTime())
	})
	return entries, nil
}

// Find returns the entry for id.
func (s *Store) Find(ctx context.Context, id string) (Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Name.ID == id {
			return e, nil
		}
	}
	return Entry{}, failure.IO("artifact.find", fmt.Errorf("%w: %s", fs.ErrNotExist, id))
}

// Stat returns the entry for the payload at path.
func (s *Store) Stat(path string) (Entry, error) {
	name, ok := ParseFileName(filepath.Base(path))
	if !ok {
		return Entry{}, failure.Validation("artifact.stat", fmt.Errorf("not an artifact: %s", path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, failure.IO("artifact.stat", err)
	}
	e := Entry{Name: name, Path: path, Size: info.Size(), ModTime: info.ModTime()}
	if meta, err := ReadMeta(path); err == nil {
		e.Meta = &meta
	}
	return e, nil
}

// Delete removes the payload at path and both sidecars under the id lock.
// A payload that is already gone is not an error.
func (s *Store) Delete(path string) error {
	name, ok := ParseFileName(filepath.Base(path))
	if !ok {
		return failure.Validation("artifact.delete", fmt.Errorf("not an artifact: %s", path))
	}

	unlock := s.Lock(name.ID)
	defer unlock()

	var errs []error
	for _, p := range []string{path, path + HashExt, path + MetaExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return failure.IO("artifact.delete", errors.Join(errs...))
	}
	return nil
}

// RemoveOrphanSidecars deletes .hash and .meta files whose payload no longer
// exists. It returns the number of files removed.
func (s *Store) RemoveOrphanSidecars(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, failure.IO("artifact.orphans", err)
	}

	removed := 0
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sidecar := de.Name()
		payload := strings.TrimSuffix(strings.TrimSuffix(sidecar, HashExt), MetaExt)
		if de.IsDir() || payload == sidecar {
			continue
		}
		name, ok := ParseFileName(payload)
		if !ok {
			continue
		}

		payloadPath := filepath.Join(s.dir, payload)
		unlock := s.Lock(name.ID)
		if _, err := os.Stat(payloadPath); errors.Is(err, fs.ErrNotExist) {
			if err := os.Remove(filepath.Join(s.dir, sidecar)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logging.Warn().Err(err).Str("file", sidecar).Msg("Failed to remove orphaned sidecar")
			} else if err == nil {
				removed++
			}
		}
		unlock()
	}
	return removed, nil
}

// RemoveStaleTemps deletes temporary files older than maxAge. These are left
// behind only when the process dies mid-write.
func (s *Store) RemoveStaleTemps(now time.Time, maxAge time.Duration) int {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, de := range dirEntries {
		if !strings.HasPrefix(de.Name(), TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err == nil {
			removed++
		}
	}
	return removed
}
