// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package authz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/snapvault/internal/logging"
)

// AnyResource in a token matches every resource id.
const AnyResource = "*"

// DefaultTokenTTL is used when Issue is called with a non-positive TTL.
const DefaultTokenTTL = 10 * time.Minute

// ErrInvalidTokenRequest is returned by Issue for an empty operation type.
var ErrInvalidTokenRequest = errors.New("operation type is required")

// Confirmation is the result of consuming a token. Valid is false for
// unknown, expired or already consumed tokens.
type Confirmation struct {
	Valid         bool
	OperationType string
	ResourceID    string
	ExpiresAt     time.Time
}

// Matches reports whether the confirmation authorizes opType on resourceID.
func (c Confirmation) Matches(opType, resourceID string) bool {
	if !c.Valid || c.OperationType != opType {
		return false
	}
	return c.ResourceID == AnyResource || c.ResourceID == resourceID
}

// ConfirmationValidator consumes single-use confirmation tokens.
type ConfirmationValidator interface {
	Consume(ctx context.Context, token string) (Confirmation, error)
}

type pendingToken struct {
	opType     string
	resourceID string
	expiresAt  time.Time
}

// TokenStore issues and consumes in-memory confirmation tokens. Tokens do
// not survive a restart.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]pendingToken
	now    func() time.Time
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]pendingToken),
		now:    time.Now,
	}
}

// Issue creates a token for opType on resourceID (AnyResource for all).
func (s *TokenStore) Issue(opType, resourceID string, ttl time.Duration) (string, time.Time, error) {
	if opType == "" {
		return "", time.Time{}, ErrInvalidTokenRequest
	}
	if resourceID == "" {
		resourceID = AnyResource
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	expiresAt := now.Add(ttl)
	s.tokens[token] = pendingToken{opType: opType, resourceID: resourceID, expiresAt: expiresAt}

	ConfirmationsTotal.WithLabelValues("issued").Inc()
	logging.Info().Str("operation_type", opType).Str("resource_id", resourceID).Time("expires_at", expiresAt).Msg("Confirmation token issued")
	return token, expiresAt, nil
}

// Consume implements ConfirmationValidator. A token is removed on first use
// whether or not it is still within its TTL.
func (s *TokenStore) Consume(ctx context.Context, token string) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.tokens[token]
	if !ok {
		ConfirmationsTotal.WithLabelValues("unknown").Inc()
		return Confirmation{}, nil
	}
	delete(s.tokens, token)

	c := Confirmation{OperationType: p.opType, ResourceID: p.resourceID, ExpiresAt: p.expiresAt}
	if !s.now().Before(p.expiresAt) {
		ConfirmationsTotal.WithLabelValues("expired").Inc()
		return c, nil
	}

	c.Valid = true
	ConfirmationsTotal.WithLabelValues("consumed").Inc()
	return c, nil
}

// Pending returns the number of outstanding tokens, expired ones included.
func (s *TokenStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *TokenStore) pruneLocked(now time.Time) {
	for k, p := range s.tokens {
		if !now.Before(p.expiresAt) {
			delete(s.tokens, k)
		}
	}
}
