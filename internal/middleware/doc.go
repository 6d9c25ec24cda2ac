// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package middleware provides HTTP middleware for the observability endpoint.

Key Components:

  - Request ID: adopts X-Request-ID from a proxy or generates a UUID, echoes
    it in the response and uses it as the correlation ID in logs
  - Prometheus Metrics: request count and latency per chi route pattern

Both follow the chi middleware signature and are installed with r.Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.PrometheusMetrics)
*/
package middleware
