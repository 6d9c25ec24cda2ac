// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tomtom215/snapvault/internal/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds IDs accepted from upstream proxies.
const maxRequestIDLen = 128

// RequestID adopts the caller's X-Request-ID, or generates a UUID, sets it
// on the response and stores it in the request context as the correlation
// ID so handler logs can be matched to proxy logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logging.ContextWithCorrelationID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
