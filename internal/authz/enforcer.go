// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package authz

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/snapvault/internal/logging"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Resource and action names used by the service.
const (
	ActionExecute = "execute"
	ActionRead    = "read"

	ResourceBackupCreate = "backup/create"
	ResourceBackupList   = "backup/list"
	ResourcePolicyUpdate = "policy/update"
	ResourceStorageStats = "storage/stats"
)

// RecoveryResource returns the resource for a recovery type, e.g.
// "recovery/point_in_time".
func RecoveryResource(recoveryType string) string {
	return "recovery/" + strings.ToLower(recoveryType)
}

// EnforcerConfig holds configuration for the Casbin enforcer.
type EnforcerConfig struct {
	// ModelPath is the path to the Casbin model file.
	// If empty, uses embedded model.
	ModelPath string `koanf:"model_path"`

	// PolicyPath is the path to the Casbin policy file.
	// If empty, uses embedded policy.
	PolicyPath string `koanf:"policy_path"`

	// ReloadInterval is how often to reload PolicyPath. Zero disables reload.
	ReloadInterval time.Duration `koanf:"reload_interval"`

	// Operators assigns roles to operator identities, one "user=role" entry
	// per assignment. They are added on top of the policy's own "g" rules
	// and survive policy reloads.
	Operators []string `koanf:"operators"`
}

// DefaultEnforcerConfig returns default configuration.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{
		ReloadInterval: 30 * time.Second,
	}
}

// ParseOperator splits a "user=role" assignment.
func ParseOperator(entry string) (user, role string, err error) {
	user, role, ok := strings.Cut(entry, "=")
	user, role = strings.TrimSpace(user), strings.TrimSpace(role)
	if !ok || user == "" || role == "" {
		return "", "", fmt.Errorf("invalid operator assignment %q, want user=role", entry)
	}
	return user, role, nil
}

// Enforcer wraps the Casbin enforcer with operator role resolution and
// metrics.
type Enforcer struct {
	config    *EnforcerConfig
	enforcer  *casbin.SyncedEnforcer
	operators [][2]string

	stopReload chan struct{}
	reloadDone chan struct{}
	closeOnce  sync.Once
}

// NewEnforcer creates a new authorization enforcer.
func NewEnforcer(_ context.Context, config *EnforcerConfig) (*Enforcer, error) {
	if config == nil {
		config = DefaultEnforcerConfig()
	}

	operators := make([][2]string, 0, len(config.Operators))
	for _, entry := range config.Operators {
		user, role, err := ParseOperator(entry)
		if err != nil {
			return nil, err
		}
		operators = append(operators, [2]string{user, role})
	}

	var m model.Model
	var err error

	if config.ModelPath != "" {
		if !fileExists(config.ModelPath) {
			return nil, fmt.Errorf("casbin model file not found: %s", config.ModelPath)
		}
		m, err = model.NewModelFromFile(config.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer

	if config.PolicyPath != "" {
		if !fileExists(config.PolicyPath) {
			return nil, fmt.Errorf("casbin policy file not found: %s", config.PolicyPath)
		}
		adapter := fileadapter.NewAdapter(config.PolicyPath)
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{
		config:    config,
		enforcer:  enforcer,
		operators: operators,
	}
	if err := e.assignOperators(); err != nil {
		return nil, err
	}

	if config.PolicyPath != "" && config.ReloadInterval > 0 {
		e.stopReload = make(chan struct{})
		e.reloadDone = make(chan struct{})
		go e.reloadLoop(config.ReloadInterval)
	}

	return e, nil
}

// assignOperators adds the configured operator roles to the grouping rules.
func (e *Enforcer) assignOperators() error {
	for _, a := range e.operators {
		if _, err := e.enforcer.AddGroupingPolicy(a[0], a[1]); err != nil {
			return fmt.Errorf("failed to assign role %s to %s: %w", a[1], a[0], err)
		}
	}
	return nil
}

func (e *Enforcer) reloadLoop(interval time.Duration) {
	defer close(e.reloadDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopReload:
			return
		case <-ticker.C:
			if err := e.LoadPolicy(); err != nil {
				logging.Warn().Err(err).Str("path", e.config.PolicyPath).Msg("Failed to reload casbin policy")
			}
		}
	}
}

// loadEmbeddedPolicy parses and loads the embedded policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		ptype, rule := parts[0], parts[1:]
		switch {
		case ptype == "p" && len(rule) >= 3:
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", rule, err)
			}
		case ptype == "g" && len(rule) >= 2:
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		}
	}
	return nil
}

// Enforce checks if the subject can perform the action on the object.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	start := time.Now()
	allowed, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	recordDecision(object, action, allowed, time.Since(start))
	return allowed, nil
}

// Authorize reports whether the operator may perform action on object.
//
// Roles are never taken from the caller: the operator's roles are those the
// policy assigns, including inherited ones. A non-empty requested list only
// narrows the check to those roles and is denied if it names a role the
// operator does not hold. Operator IDs that are themselves policy subjects
// or roles are always denied.
func (e *Enforcer) Authorize(operatorID string, requested []string, object, action string) (bool, error) {
	deny := func(reason string) (bool, error) {
		logging.Debug().Str("operator", operatorID).Strs("requested_roles", requested).
			Str("object", object).Str("action", action).Str("reason", reason).Msg("Authorization denied")
		return false, nil
	}

	if operatorID == "" {
		recordDecision(object, action, false, 0)
		return deny("no operator identity")
	}
	reserved, err := e.reservedNames()
	if err != nil {
		return false, err
	}
	if reserved[operatorID] {
		recordDecision(object, action, false, 0)
		return deny("operator id is a policy subject")
	}

	if len(requested) == 0 {
		allowed, err := e.Enforce(operatorID, object, action)
		if err != nil || allowed {
			return allowed, err
		}
		return deny("no assigned role allows the action")
	}

	assigned, err := e.enforcer.GetImplicitRolesForUser(operatorID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve roles for %s: %w", operatorID, err)
	}
	held := make(map[string]bool, len(assigned))
	for _, r := range assigned {
		held[r] = true
	}
	for _, r := range requested {
		if !held[r] {
			logging.Warn().Str("operator", operatorID).Str("role", r).Strs("assigned", assigned).
				Msg("Operator requested a role the policy does not assign")
			recordDecision(object, action, false, 0)
			return deny("requested role not assigned")
		}
	}

	for _, r := range requested {
		allowed, err := e.Enforce(r, object, action)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return deny("requested roles do not allow the action")
}

// reservedNames returns every role and policy subject.
func (e *Enforcer) reservedNames() (map[string]bool, error) {
	subjects, err := e.enforcer.GetAllSubjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list policy subjects: %w", err)
	}
	roles, err := e.enforcer.GetAllRoles()
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	names := make(map[string]bool, len(subjects)+len(roles))
	for _, n := range subjects {
		names[n] = true
	}
	for _, n := range roles {
		names[n] = true
	}
	return names, nil
}

// AddRoleForUser assigns a role to a user.
func (e *Enforcer) AddRoleForUser(user, role string) (bool, error) {
	added, err := e.enforcer.AddGroupingPolicy(user, role)
	if err != nil {
		return false, fmt.Errorf("failed to add role: %w", err)
	}
	return added, nil
}

// GetRolesForUser returns the direct roles of a user.
func (e *Enforcer) GetRolesForUser(user string) ([]string, error) {
	return e.enforcer.GetRolesForUser(user)
}

// LoadPolicy reloads the policy file and re-applies configured operators.
func (e *Enforcer) LoadPolicy() error {
	if e.config.PolicyPath == "" {
		return nil
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		return err
	}
	return e.assignOperators()
}

// Close stops policy reloading.
func (e *Enforcer) Close() {
	e.closeOnce.Do(func() {
		if e.stopReload != nil {
			close(e.stopReload)
			<-e.reloadDone
		}
	})
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
