// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package integrity records the checksum of every committed artifact in an
// embedded BadgerDB database.
//
// The record is written when an artifact is committed and is independent of
// the .hash and .meta sidecars, so tampering with an artifact and its
// sidecars together is still detected. Records are keyed by artifact id:
//
//	checksum/<artifact-id> -> {"checksum": ..., "size_bytes": ..., ...}
//
// BadgerDB allows one process per directory. An on-disk store therefore
// opens the database when an operation starts and closes it when the last
// concurrent operation in the process finishes, so `snapvault serve` and an
// on-demand `snapvault backup` or `recover` can share the directory. A
// process that finds the directory locked retries until Config.LockWait
// elapses and then fails with ErrBusy.
//
// The store is owned by the application and passed explicitly to the
// components that need it.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/logging"
)

const keyPrefix = "checksum/"

// DefaultLockWait bounds how long an operation waits for another process
// to release the database directory.
const DefaultLockWait = 30 * time.Second

// lockRetryInterval is the first delay between attempts to open a locked
// directory; it doubles up to maxLockRetryInterval.
const (
	lockRetryInterval    = 50 * time.Millisecond
	maxLockRetryInterval = time.Second
)

// badgerLockMessage identifies badger's directory lock failure, which is
// not exported as a sentinel.
const badgerLockMessage = "Cannot acquire directory lock"

var (
	// ErrNotFound is returned when no record exists for an artifact id.
	ErrNotFound = errors.New("integrity record not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("integrity store is closed")

	// ErrBusy is returned when another process held the database directory
	// for longer than Config.LockWait.
	ErrBusy = errors.New("integrity store is in use by another process; retry, or stop snapvault serve")
)

// Record is the checksum recorded for one artifact.
type Record struct {
	ArtifactID string    `json:"artifact_id"`
	Checksum   string    `json:"checksum"`
	SizeBytes  int64     `json:"size_bytes"`
	RecordedAt time.Time `json:"recorded_at"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
}

// Config selects where the database lives.
type Config struct {
	Path     string
	InMemory bool

	// LockWait bounds the wait for a directory held by another process.
	// Zero uses DefaultLockWait.
	LockWait time.Duration
}

// Store is a BadgerDB-backed map from artifact id to Record.
type Store struct {
	opts     badger.Options
	path     string
	inMemory bool
	lockWait time.Duration

	mu     sync.Mutex
	db     *badger.DB
	refs   int
	closed bool
}

// Open prepares the integrity database. In-memory stores are opened at once
// and stay open until Close; on-disk stores open on first use.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("integrity store path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = true
		opts.CompactL0OnClose = false
	}
	opts.Logger = nil

	s := &Store{
		opts:     opts,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
		lockWait: cfg.LockWait,
	}
	if s.lockWait <= 0 {
		s.lockWait = DefaultLockWait
	}

	if cfg.InMemory {
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open BadgerDB: %w", err)
		}
		s.db = db
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Integrity store ready")
	return s, nil
}

// acquire returns an open database and must be paired with release.
func (s *Store) acquire(ctx context.Context) (*badger.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.db == nil {
		db, err := s.openWithRetry(ctx)
		if err != nil {
			return nil, err
		}
		s.db = db
	}
	s.refs++
	return s.db, nil
}

// release closes an on-disk database once no operation uses it.
func (s *Store) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs > 0 || s.db == nil || (s.inMemory && !s.closed) {
		return
	}
	if err := s.db.Close(); err != nil {
		logging.Warn().Err(err).Str("path", s.path).Msg("Failed to close integrity store")
	}
	s.db = nil
}

// openWithRetry opens the directory, waiting while another process holds
// its lock. Called with s.mu held.
func (s *Store) openWithRetry(ctx context.Context) (*badger.DB, error) {
	deadline := time.Now().Add(s.lockWait)
	delay := lockRetryInterval
	for {
		db, err := badger.Open(s.opts)
		if err == nil {
			return db, nil
		}
		if !strings.Contains(err.Error(), badgerLockMessage) {
			return nil, fmt.Errorf("open BadgerDB: %w", err)
		}
		if time.Now().Add(delay).After(deadline) {
			return nil, fmt.Errorf("%w (waited %s for %s)", ErrBusy, s.lockWait, s.path)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxLockRetryInterval)
	}
}

// with runs fn against an open database.
func (s *Store) with(ctx context.Context, fn func(db *badger.DB) error) error {
	db, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release()
	return fn(db)
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put records the checksum for an artifact, replacing any earlier record.
func (s *Store) Put(rec Record) error {
	if rec.ArtifactID == "" {
		return fmt.Errorf("artifact id is required")
	}
	return s.with(context.Background(), func(db *badger.DB) error {
		return put(db, rec)
	})
}

func put(db *badger.DB, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.ArtifactID), data)
	})
	if err != nil {
		return fmt.Errorf("write integrity record: %w", err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	var rec Record
	err := s.with(context.Background(), func(db *badger.DB) error {
		var err error
		rec, err = get(db, id)
		return err
	})
	return rec, err
}

func get(db *badger.DB, id string) (Record, error) {
	var rec Record
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Record{}, fmt.Errorf("read integrity record: %w", err)
	}
	return rec, nil
}

// MarkVerified stamps the record for id with a successful verification time.
func (s *Store) MarkVerified(id string, at time.Time) error {
	return s.with(context.Background(), func(db *badger.DB) error {
		rec, err := get(db, id)
		if err != nil {
			return err
		}
		rec.VerifiedAt = at.UTC()
		return put(db, rec)
	})
}

// Delete removes the record for id. Deleting a missing record is not an error.
func (s *Store) Delete(id string) error {
	return s.with(context.Background(), func(db *badger.DB) error {
		return del(db, id)
	})
}

func del(db *badger.DB, id string) error {
	err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	if err != nil {
		return fmt.Errorf("delete integrity record: %w", err)
	}
	return nil
}

// List returns every record. Undecodable records are logged and skipped.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.with(ctx, func(db *badger.DB) error {
		var err error
		records, err = list(ctx, db)
		return err
	})
	return records, err
}

func list(ctx context.Context, db *badger.DB) ([]Record, error) {
	var records []Record
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping undecodable integrity record")
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate integrity records: %w", err)
	}
	return records, nil
}

// Prune deletes records whose artifact id is not in live. It returns the
// number of records removed.
func (s *Store) Prune(ctx context.Context, live map[string]bool) (int, error) {
	pruned := 0
	err := s.with(ctx, func(db *badger.DB) error {
		records, err := list(ctx, db)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if live[rec.ArtifactID] {
				continue
			}
			if err := del(db, rec.ArtifactID); err != nil {
				logging.Warn().Err(err).Str("artifact_id", rec.ArtifactID).Msg("Failed to prune integrity record")
				continue
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// RunGC reclaims value log space. It is a no-op for in-memory stores.
func (s *Store) RunGC() error {
	return s.with(context.Background(), func(db *badger.DB) error {
		if s.inMemory {
			return nil
		}
		for {
			err := db.RunValueLogGC(0.5)
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("value log GC: %w", err)
			}
		}
	})
}

// Close closes the database. Operations still running finish first and the
// last one closes the handle. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil || s.refs > 0 {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
