// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/tomtom215/snapvault/internal/audit"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/validation"
)

// Policy update keys.
const (
	PolicyRetentionDays         = "retentionDays"
	PolicyStorageAlertThreshold = "storageAlertThreshold"
	PolicyEncryptionEnabled     = "encryptionEnabled"
	PolicyRemoteStorageEnabled  = "remoteStorageEnabled"
)

const (
	retentionDaysTag = "min=1,max=365"
	thresholdTag     = "gt=0,lte=1"
)

// RetentionPolicy governs expiry, storage alerts, encryption and remote
// replication.
type RetentionPolicy struct {
	RetentionDays         int     `validate:"min=1,max=365"`
	StorageAlertThreshold float64 `validate:"gt=0,lte=1"`
	EncryptionEnabled     bool
	RemoteStorageEnabled  bool
}

// DefaultRetentionPolicy keeps 30 days and alerts at 85% usage.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:         30,
		StorageAlertThreshold: 0.85,
	}
}

// PolicyStore holds the live policy. Readers get a copy.
type PolicyStore struct {
	mu     sync.RWMutex
	policy RetentionPolicy
}

// NewPolicyStore validates p and returns a store holding it.
func NewPolicyStore(p RetentionPolicy) (*PolicyStore, error) {
	if verr := validation.ValidateStruct(p); verr != nil {
		return nil, fmt.Errorf("invalid retention policy: %w", verr)
	}
	return &PolicyStore{policy: p}, nil
}

// Get returns the current policy.
func (s *PolicyStore) Get() RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *PolicyStore) update(fn func(*RetentionPolicy)) RetentionPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.policy)
	return s.policy
}

// PolicyUpdateReport lists what an update changed and what it refused.
type PolicyUpdateReport struct {
	Applied  map[string]any
	Rejected map[string]string
	Policy   RetentionPolicy
}

// UpdateBackupPolicy applies a partial policy update. Each field present in
// updates is validated on its own and applied immediately when valid; unknown
// keys and invalid values are reported and leave the previous value in place.
// It never returns an error.
func (l *Lifecycle) UpdateBackupPolicy(ctx context.Context, updates map[string]any) PolicyUpdateReport {
	report := PolicyUpdateReport{
		Applied:  make(map[string]any),
		Rejected: make(map[string]string),
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value, err := l.applyPolicyField(key, updates[key])
		if err != nil {
			report.Rejected[key] = err.Error()
			logging.Ctx(ctx).Warn().Str("field", key).Interface("value", updates[key]).Err(err).Msg("Policy update rejected")
			continue
		}
		report.Applied[key] = value
	}
	report.Policy = l.policy.Get()

	if len(report.Applied) > 0 {
		logging.Ctx(ctx).Info().
			Interface("applied", report.Applied).
			Int("retention_days", report.Policy.RetentionDays).
			Float64("alert_threshold", report.Policy.StorageAlertThreshold).
			Bool("encryption", report.Policy.EncryptionEnabled).
			Bool("remote", report.Policy.RemoteStorageEnabled).
			Msg("Backup policy updated")
		l.audit.Record(audit.NewEvent(ctx, audit.EventTypePolicyUpdated, audit.OutcomeSuccess,
			&audit.Target{ID: "retention", Type: "policy"}, "backup policy updated",
			map[string]any{"applied": report.Applied, "rejected": report.Rejected}))
	}
	return report
}

func (l *Lifecycle) applyPolicyField(key string, raw any) (any, error) {
	switch key {
	case PolicyRetentionDays:
		days, err := asInt(raw)
		if err != nil {
			return nil, err
		}
		if verr := validation.ValidateVar(key, days, retentionDaysTag); verr != nil {
			return nil, verr
		}
		l.policy.update(func(p *RetentionPolicy) { p.RetentionDays = days })
		return days, nil

	case PolicyStorageAlertThreshold:
		threshold, err := asFloat(raw)
		if err != nil {
			return nil, err
		}
		if verr := validation.ValidateVar(key, threshold, thresholdTag); verr != nil {
			return nil, verr
		}
		l.policy.update(func(p *RetentionPolicy) { p.StorageAlertThreshold = threshold })
		return threshold, nil

	case PolicyEncryptionEnabled:
		enabled, err := asBool(raw)
		if err != nil {
			return nil, err
		}
		if enabled && !l.engine.CanEncrypt() {
			return nil, fmt.Errorf("encryption key is not configured")
		}
		l.policy.update(func(p *RetentionPolicy) { p.EncryptionEnabled = enabled })
		return enabled, nil

	case PolicyRemoteStorageEnabled:
		enabled, err := asBool(raw)
		if err != nil {
			return nil, err
		}
		if enabled && l.remote == nil {
			return nil, fmt.Errorf("remote target is not configured")
		}
		l.policy.update(func(p *RetentionPolicy) { p.RemoteStorageEnabled = enabled })
		return enabled, nil

	default:
		return nil, fmt.Errorf("unknown policy field")
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("must be a whole number")
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("must be a whole number")
		}
		return i, nil
	default:
		return 0, fmt.Errorf("must be a whole number, got %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, fmt.Errorf("must be a number")
		}
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(f) {
			return 0, fmt.Errorf("must be a number")
		}
		return f, nil
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("must be true or false")
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("must be true or false, got %T", v)
	}
}
