// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package remote

import (
	"context"
	"errors"
	"io"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// ErrUnavailable is returned while the circuit is open.
var ErrUnavailable = errors.New("remote target unavailable")

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32        // concurrent requests allowed while half-open
	Interval    time.Duration // closed-state window after which counts reset
	Timeout     time.Duration // open-state wait before probing again
	MinRequests uint32        // requests needed before the failure ratio counts
	FailureRate float64       // ratio at which the circuit opens
}

// DefaultBreakerConfig returns the production settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "remote-target",
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     5 * time.Minute,
		MinRequests: 3,
		FailureRate: 0.6,
	}
}

// BreakerTarget wraps a Target with circuit breaker protection.
//
// The breaker uses real time for its interval and timeout; tests drive it by
// failing uploads rather than by manipulating the clock.
type BreakerTarget struct {
	target Target
	cb     *gobreaker.CircuitBreaker[struct{}]
	name   string
}

// NewBreakerTarget wraps target.
func NewBreakerTarget(target Target, cfg BreakerConfig) *BreakerTarget {
	if cfg.Name == "" {
		cfg.Name = DefaultBreakerConfig().Name
	}
	name := cfg.Name

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= cfg.FailureRate
			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},

		// A cancelled sync says nothing about the health of the destination.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerTarget{target: target, cb: cb, name: name}
}

// Upload implements Target.
func (b *BreakerTarget) Upload(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.target.Upload(ctx, key, r, size, metadata)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return errors.Join(ErrUnavailable, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		counts := b.cb.Counts()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(counts.ConsecutiveFailures))
		return err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
	return nil
}

// State returns the breaker state as a string.
func (b *BreakerTarget) State() string {
	return stateToString(b.cb.State())
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
