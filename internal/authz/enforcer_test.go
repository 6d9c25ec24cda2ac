// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// setupEnforcer creates an enforcer with default config and registers cleanup.
func setupEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	enforcer, err := NewEnforcer(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(func() { enforcer.Close() })
	return enforcer
}

func TestEnforcer_EmbeddedPolicy(t *testing.T) {
	t.Parallel()

	enforcer := setupEnforcer(t)

	tests := []struct {
		subject string
		object  string
		action  string
		want    bool
	}{
		{"admin", "recovery/full", ActionExecute, true},
		{"admin", "recovery/selective", ActionExecute, true},
		{"admin", ResourcePolicyUpdate, ActionExecute, true},
		{"operator", "recovery/full", ActionExecute, true},
		{"operator", "recovery/point_in_time", ActionExecute, true},
		{"operator", "recovery/selective", ActionExecute, false},
		{"operator", ResourceBackupCreate, ActionExecute, true},
		{"operator", ResourcePolicyUpdate, ActionExecute, false},
		{"operator", ResourceBackupList, ActionRead, true},
		{"viewer", ResourceBackupList, ActionRead, true},
		{"viewer", "recovery/full", ActionExecute, false},
		{"nobody", ResourceBackupList, ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.subject+"_"+tt.object, func(t *testing.T) {
			got, err := enforcer.Enforce(tt.subject, tt.object, tt.action)
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Enforce(%s, %s, %s) = %v, want %v", tt.subject, tt.object, tt.action, got, tt.want)
			}
		})
	}
}

func TestEnforcer_Authorize(t *testing.T) {
	t.Parallel()

	enforcer, err := NewEnforcer(context.Background(), &EnforcerConfig{
		Operators: []string{"alice=operator", "lead = admin"},
	})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(enforcer.Close)

	full, selective := RecoveryResource("FULL"), RecoveryResource("SELECTIVE")
	tests := []struct {
		name      string
		operator  string
		requested []string
		object    string
		want      bool
	}{
		{"assigned operator", "alice", nil, full, true},
		{"assigned operator lacks admin resource", "alice", nil, selective, false},
		{"unassigned user claiming admin", "mallory", []string{"admin"}, selective, false},
		{"unassigned user without roles", "mallory", nil, full, false},
		{"operator claiming admin", "alice", []string{"admin"}, selective, false},
		{"operator naming own role", "alice", []string{"operator"}, full, true},
		{"inherited role as filter", "alice", []string{"viewer"}, full, false},
		{"admin", "lead", nil, selective, true},
		{"admin narrowed to operator", "lead", []string{"operator"}, selective, false},
		{"role name as identity", "admin", nil, selective, false},
		{"empty identity", "", []string{"admin"}, full, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := enforcer.Authorize(tt.operator, tt.requested, tt.object, ActionExecute)
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authorize(%q, %v, %s) = %v, want %v", tt.operator, tt.requested, tt.object, got, tt.want)
			}
		})
	}

	if roles, _ := enforcer.GetRolesForUser("mallory"); len(roles) != 0 {
		t.Errorf("GetRolesForUser(mallory) = %v, want none", roles)
	}
}

func TestEnforcer_AddRoleForUser(t *testing.T) {
	t.Parallel()

	enforcer := setupEnforcer(t)

	if ok, _ := enforcer.Authorize("carol", nil, ResourceBackupCreate, ActionExecute); ok {
		t.Fatal("carol should start without permissions")
	}
	if _, err := enforcer.AddRoleForUser("carol", "operator"); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}
	if ok, _ := enforcer.Authorize("carol", nil, ResourceBackupCreate, ActionExecute); !ok {
		t.Error("assigned role should take effect immediately")
	}
}

func TestNewEnforcer_InvalidOperator(t *testing.T) {
	t.Parallel()

	for _, entry := range []string{"alice", "=admin", "alice="} {
		if _, err := NewEnforcer(context.Background(), &EnforcerConfig{Operators: []string{entry}}); err == nil {
			t.Errorf("NewEnforcer(Operators: %q) should fail", entry)
		}
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.csv")
	policy := "p, auditor, backup/list, read\n"
	if err := os.WriteFile(policyPath, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}

	enforcer, err := NewEnforcer(context.Background(), &EnforcerConfig{PolicyPath: policyPath})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	defer enforcer.Close()

	if ok, _ := enforcer.Enforce("auditor", ResourceBackupList, ActionRead); !ok {
		t.Error("file policy should allow auditor")
	}
	if ok, _ := enforcer.Enforce("admin", "recovery/full", ActionExecute); ok {
		t.Error("file policy replaces the embedded policy")
	}

	os.WriteFile(policyPath, []byte(policy+"p, admin, recovery/*, *\n"), 0o600)
	if err := enforcer.LoadPolicy(); err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if ok, _ := enforcer.Enforce("admin", "recovery/full", ActionExecute); !ok {
		t.Error("reloaded policy should allow admin")
	}
}

func TestEnforcer_OperatorsSurviveReload(t *testing.T) {
	t.Parallel()

	policyPath := filepath.Join(t.TempDir(), "policy.csv")
	if err := os.WriteFile(policyPath, []byte("p, admin, recovery/*, *\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	enforcer, err := NewEnforcer(context.Background(), &EnforcerConfig{
		PolicyPath: policyPath,
		Operators:  []string{"lead=admin"},
	})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	defer enforcer.Close()

	if err := enforcer.LoadPolicy(); err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if ok, _ := enforcer.Authorize("lead", nil, RecoveryResource("FULL"), ActionExecute); !ok {
		t.Error("configured operator role should survive a policy reload")
	}
}

func TestNewEnforcer_MissingFiles(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "missing")
	for _, cfg := range []*EnforcerConfig{{ModelPath: missing}, {PolicyPath: missing}} {
		if _, err := NewEnforcer(context.Background(), cfg); err == nil {
			t.Errorf("NewEnforcer(%+v) should fail", cfg)
		}
	}
}
