// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/remote"
	"github.com/tomtom215/snapvault/internal/workers"
)

const testKey = "correct horse battery staple"

// fakeDumper writes payload to the staging file.
type fakeDumper struct {
	mu      sync.Mutex
	payload []byte
	err     error
	calls   int
}

func (f *fakeDumper) Dump(ctx context.Context, outPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(outPath, f.payload, 0o600)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentNotification struct {
	Recipient, Subject, Body string
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, recipient, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{recipient, subject, body})
	return r.err
}

func (r *recordingNotifier) Sent() []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentNotification(nil), r.sent...)
}

// recordingAudit captures audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) Count(typ audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type envOptions struct {
	policy      RetentionPolicy
	compression bool
	key         string
	recipients  []string
	target      remote.Target
	disk        DiskUsageFunc
}

type envOption func(*envOptions)

func withPolicy(p RetentionPolicy) envOption { return func(o *envOptions) { o.policy = p } }
func withKey(k string) envOption { return func(o *envOptions) { o.key = k } }
func withoutCompression() envOption { return func(o *envOptions) { o.compression = false } }
func withRecipients(r ...string) envOption { return func(o *envOptions) { o.recipients = r } }
func withTarget(t remote.Target) envOption { return func(o *envOptions) { o.target = t } }
func withDisk(d DiskUsageFunc) envOption { return func(o *envOptions) { o.disk = d } }

// fixedDisk reports a filesystem at the given usage ratio.
func fixedDisk(ratio float64) DiskUsageFunc {
	return func(context.Context, string) (DiskUsage, error) {
		const total = 1000
		used := uint64(math.Round(ratio * total))
		return DiskUsage{Total: total, Used: used, Free: total - used}, nil
	}
}

// testEnv wires an Engine and Lifecycle over temporary directories.
type testEnv struct {
	backupDir string
	workDir   string
	store     *artifact.Store
	records   *integrity.Store
	pool      *workers.Pool
	policy    *PolicyStore
	dumper    *fakeDumper
	clock     *fakeClock
	notifier  *recordingNotifier
	audit     *recordingAudit
	engine    *Engine
	lifecycle *Lifecycle
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	o := envOptions{
		policy:      DefaultRetentionPolicy(),
		compression: true,
		disk:        fixedDisk(0.10),
	}
	for _, opt := range opts {
		opt(&o)
	}

	root := t.TempDir()
	env := &testEnv{
		backupDir: filepath.Join(root, "backups"),
		workDir:   filepath.Join(root, "work"),
		dumper:    &fakeDumper{payload: []byte("CREATE TABLE t (id int);\nINSERT INTO t VALUES (1);\n")},
		clock:     &fakeClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)},
		notifier:  &recordingNotifier{},
		audit:     &recordingAudit{},
	}

	var err error
	if env.store, err = artifact.NewStore(env.backupDir); err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if env.records, err = integrity.Open(integrity.Config{InMemory: true}); err != nil {
		t.Fatalf("integrity.Open() error = %v", err)
	}
	t.Cleanup(func() { env.records.Close() })
	env.pool = workers.NewPool(2)
	t.Cleanup(env.pool.Close)
	if env.policy, err = NewPolicyStore(o.policy); err != nil {
		t.Fatalf("NewPolicyStore() error = %v", err)
	}

	deps := Deps{
		Store:     env.store,
		Integrity: env.records,
		Pool:      env.pool,
		Policy:    env.policy,
		Audit:     env.audit,
		Notifier:  env.notifier,
	}
	env.engine, err = NewEngine(EngineConfig{
		WorkDir:          env.workDir,
		Compression:      o.compression,
		CompressionLevel: 6,
		EncryptionKey:    o.key,
	}, env.dumper, deps)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	env.engine.now = env.clock.Now

	env.lifecycle, err = NewLifecycle(LifecycleConfig{
		Recipients: o.recipients,
		DiskUsage:  o.disk,
	}, env.engine, o.target, deps)
	if err != nil {
		t.Fatalf("NewLifecycle() error = %v", err)
	}
	env.lifecycle.now = env.clock.Now
	env.lifecycle.verifier.now = env.clock.Now
	return env
}

// createAt commits a backup as if created at ts.
func (e *testEnv) createAt(t *testing.T, typ artifact.Type, ts time.Time) Result {
	t.Helper()
	prev := e.clock.Now()
	e.clock.Set(ts)
	defer e.clock.Set(prev)

	res := e.engine.CreateBackup(context.Background(), typ)
	if !res.Success {
		t.Fatalf("CreateBackup(%s at %s) failed: %v", typ, ts, res.Err)
	}
	return res
}

func (e *testEnv) listIDs(t *testing.T) []string {
	t.Helper()
	entries, err := e.store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	ids := make([]string, 0, len(entries))
	for _, en := range entries {
		ids = append(ids, en.Name.ID)
	}
	return ids
}

// failingTarget fails every upload.
type failingTarget struct{ err error }

func (f failingTarget) Upload(context.Context, string, io.Reader, int64, map[string]string) error {
	if f.err == nil {
		return errors.New("remote down")
	}
	return f.err
}
