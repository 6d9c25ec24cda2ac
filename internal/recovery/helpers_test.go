// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package recovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/authz"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/integrity"
	"github.com/tomtom215/snapvault/internal/workers"
)

const testKey = "correct horse battery staple"

var testPayload = []byte("CREATE TABLE accounts (id int, balance numeric);\nINSERT INTO accounts VALUES (1, 100);\n")

// fakeTool captures restored payloads.
type fakeTool struct {
	mu         sync.Mutex
	restored   [][]byte
	restoreErr error
	pingErr    error
	block      bool
}

func (f *fakeTool) Restore(ctx context.Context, inPath string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	data, err := os.ReadFile(inPath) //nolint:gosec // Test file
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, data)
	return nil
}

func (f *fakeTool) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTool) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeTool) Restored() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.restored...)
}

type fakeDumper struct{ payload []byte }

func (d fakeDumper) Dump(_ context.Context, outPath string) error {
	return os.WriteFile(outPath, d.payload, 0o600)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) Events(typ audit.EventType) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Send(_ context.Context, recipient, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, recipient)
	return nil
}

func (r *recordingNotifier) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func plentyOfSpace(context.Context, string) (backup.DiskUsage, error) {
	return backup.DiskUsage{Total: 1 << 40, Used: 0, Free: 1 << 40}, nil
}

type testEnv struct {
	backupDir string
	workDir   string
	store     *artifact.Store
	records   *integrity.Store
	pool      *workers.Pool
	engine    *backup.Engine
	tool      *fakeTool
	tokens    *authz.TokenStore
	audit     *recordingAudit
	notifier  *recordingNotifier
	orch      *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		backupDir: filepath.Join(root, "backups"),
		workDir:   filepath.Join(root, "work"),
		tool:      &fakeTool{},
		tokens:    authz.NewTokenStore(),
		audit:     &recordingAudit{},
		notifier:  &recordingNotifier{},
	}

	var err error
	if env.store, err = artifact.NewStore(env.backupDir); err != nil {
		t.Fatal(err)
	}
	if env.records, err = integrity.Open(integrity.Config{InMemory: true}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { env.records.Close() })
	env.pool = workers.NewPool(2)
	t.Cleanup(env.pool.Close)

	policy := backup.DefaultRetentionPolicy()
	policy.EncryptionEnabled = true
	policies, err := backup.NewPolicyStore(policy)
	if err != nil {
		t.Fatal(err)
	}
	env.engine, err = backup.NewEngine(backup.EngineConfig{
		WorkDir:       filepath.Join(root, "stage"),
		Compression:   true,
		EncryptionKey: testKey,
	}, fakeDumper{payload: testPayload}, backup.Deps{
		Store:     env.store,
		Integrity: env.records,
		Pool:      env.pool,
		Policy:    policies,
		Audit:     env.audit,
	})
	if err != nil {
		t.Fatal(err)
	}

	enforcer, err := authz.NewEnforcer(context.Background(), &authz.EnforcerConfig{
		Operators: []string{"alice=operator", "root=admin"},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(enforcer.Close)

	env.orch, err = New(Config{
		WorkDir:    env.workDir,
		Recipients: []string{"dba@example.com"},
	}, Deps{
		Store:         env.store,
		Verifier:      backup.NewVerifier(env.store, env.records, env.audit),
		Cipher:        env.engine.Cipher(),
		Tool:          env.tool,
		Pool:          env.pool,
		Authorizer:    enforcer,
		Confirmations: env.tokens,
		DiskUsage:     plentyOfSpace,
		Audit:         env.audit,
		Notifier:      env.notifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

// createBackup creates an encrypted, compressed artifact through the engine.
func (e *testEnv) createBackup(t *testing.T) backup.Result {
	t.Helper()
	res := e.engine.CreateBackup(context.Background(), artifact.TypeFull)
	if !res.Success {
		t.Fatalf("CreateBackup() failed: %v", res.Err)
	}
	return res
}

// commitAt writes a plain artifact created at ts directly into the store.
func (e *testEnv) commitAt(t *testing.T, typ artifact.Type, ts time.Time, payload []byte) artifact.Artifact {
	t.Helper()
	id := artifact.NewID(typ, ts)
	tmp, err := e.store.CreateTemp(id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatal(err)
	}
	sum, size, err := artifact.Checksum(context.Background(), tmp.Name())
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.store.Commit(artifact.Artifact{
		ID:          id,
		Type:        typ,
		CreatedTime: ts.UTC(),
		ExpiryTime:  ts.UTC().AddDate(0, 0, 30),
		SizeBytes:   size,
		Checksum:    sum,
	}.WithCustom(artifact.CustomSourceChecksum, sum), tmp.Name(), func(a artifact.Artifact) error {
		return e.records.Put(integrity.Record{ArtifactID: a.ID, Checksum: a.Checksum, SizeBytes: a.SizeBytes})
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func (e *testEnv) token(t *testing.T, typ Type, resourceID string) string {
	t.Helper()
	tok, _, err := e.tokens.Issue(authz.RecoveryResource(string(typ)), resourceID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func operator(token string) Operator {
	return Operator{ID: "alice", ConfirmationToken: token}
}
