// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/snapvault/internal/metrics"
)

// ErrInvalidWebhookURL is returned by NewWebhookSink for unusable URLs.
var ErrInvalidWebhookURL = errors.New("invalid webhook URL")

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL string

	// Headers are added to every request, e.g. Authorization.
	Headers map[string]string

	// RatePerMinute caps outgoing requests; zero disables limiting.
	RatePerMinute int
	Burst         int

	Timeout time.Duration
}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}

// WebhookSink posts notifications as JSON.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookSink validates cfg and returns a sink.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWebhookURL, cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
	}

	return &WebhookSink{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}, nil
}

// Send implements Sink. It waits for the rate limiter, so a burst of alerts
// is spread out rather than dropped.
func (w *WebhookSink) Send(ctx context.Context, recipient, subject, body string) error {
	err := w.send(ctx, recipient, subject, body)
	metrics.RecordNotification("webhook", err)
	return err
}

func (w *WebhookSink) send(ctx context.Context, recipient, subject, body string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	payload, err := json.Marshal(WebhookPayload{
		Event:     "snapvault.notification",
		Timestamp: time.Now().UTC(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Snapvault-Notify/1.0")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // Drain for connection reuse
		return nil
	}

	detail, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		detail = []byte("(failed to read response)")
	}
	return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(detail))
}
