// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthzDecisionsTotal counts authorization decisions.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"resource", "action", "decision"},
	)

	// AuthzDecisionDuration tracks the latency of authorization decisions.
	AuthzDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"resource"},
	)

	// ConfirmationsTotal counts confirmation token outcomes.
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_confirmation_tokens_total",
			Help: "Total number of confirmation token events",
		},
		[]string{"event"}, // "issued", "consumed", "expired", "unknown"
	)
)

// recordDecision records one authorization decision.
func recordDecision(resource, action string, allowed bool, duration time.Duration) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	AuthzDecisionsTotal.WithLabelValues(resource, action, decision).Inc()
	AuthzDecisionDuration.WithLabelValues(resource).Observe(duration.Seconds())
}
