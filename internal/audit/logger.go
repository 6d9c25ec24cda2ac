// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/snapvault/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `koanf:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `koanf:"log_level"`

	// RetentionDays is how long to keep audit events.
	RetentionDays int `koanf:"retention_days"`

	// CleanupInterval is how often to run retention cleanup.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `koanf:"buffer_size"`

	// LogToStdout also writes events to the application log.
	LogToStdout bool `koanf:"log_to_stdout"`

	// IncludeDebug includes debug-level events.
	IncludeDebug bool `koanf:"include_debug"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
		LogToStdout:     true,
		IncludeDebug:    false,
	}
}

// Logger is the asynchronous audit sink.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	mu        sync.RWMutex
	closed    bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates a new audit logger. store may be nil when events only
// need to reach the application log.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

// asyncWriter processes events from the buffer.
func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// Drain remaining events
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

// writeEvent persists an event to the store.
func (l *Logger) writeEvent(event *Event) {
	l.mu.RLock()
	logToStdout := l.config.LogToStdout
	l.mu.RUnlock()

	if logToStdout {
		l.logToStdout(event)
	}

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.Save(ctx, event); err != nil {
			logging.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save audit event")
		}
	}
}

// logToStdout writes an event to the application log in JSON form.
func (l *Logger) logToStdout(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal audit event")
		return
	}
	logging.Info().RawJSON("event", data).Msg("Audit event")
}

// Record implements Sink. It never blocks: the event is dropped with a
// warning when the buffer is full or the logger is closed.
//
//nolint:gocritic // hugeParam: Event passed by value so callers cannot mutate a queued event
func (l *Logger) Record(event Event) {
	l.Log(&event)
}

// Log records an audit event.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.config.Enabled || l.closed {
		return
	}

	if !shouldLog(event.Severity, l.config) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case l.eventChan <- event:
	default:
		logging.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("Audit event buffer full, dropping event")
	}
}

// shouldLog returns true if the event severity meets the minimum level.
func shouldLog(severity Severity, config *Config) bool {
	if severity == SeverityDebug && !config.IncludeDebug {
		return false
	}

	severityOrder := map[Severity]int{
		SeverityDebug:    0,
		SeverityInfo:     1,
		SeverityWarning:  2,
		SeverityError:    3,
		SeverityCritical: 4,
	}

	return severityOrder[severity] >= severityOrder[config.LogLevel]
}

// Close stops accepting events, drains the buffer and waits for the writer.
// It is safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopChan)
	l.wg.Wait()
	return nil
}

// StartCleanupRoutine deletes events older than RetentionDays at every
// CleanupInterval until ctx is done.
func (l *Logger) StartCleanupRoutine(ctx context.Context) {
	l.mu.RLock()
	interval := l.config.CleanupInterval
	retention := l.config.RetentionDays
	l.mu.RUnlock()

	if l.store == nil || interval <= 0 || retention <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retention)
				count, err := l.store.Delete(ctx, cutoff)
				if err != nil {
					logging.Error().Err(err).Msg("Audit cleanup error")
				} else if count > 0 {
					logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
				}
			}
		}
	}()
}

// Query retrieves events matching the filter.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.Query(ctx, filter)
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Enabled = enabled
}

// Discard is a Sink that drops every event.
type Discard struct{}

// Record implements Sink.
//
//nolint:gocritic // hugeParam: matches the Sink signature
func (Discard) Record(Event) {}

// NewEvent builds an event attributed to the system actor. Severity is
// derived from the type and outcome; the correlation ID is taken from ctx.
func NewEvent(ctx context.Context, typ EventType, outcome Outcome, target *Target, description string, metadata map[string]any) Event {
	ev := Event{
		Type:          typ,
		Severity:      severityFor(typ, outcome),
		Outcome:       outcome,
		Actor:         SystemActor(),
		Target:        target,
		Action:        actionFor(typ),
		Description:   description,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}
	if len(metadata) > 0 {
		ev.Metadata = mustJSON(metadata)
	}
	return ev
}

func severityFor(typ EventType, outcome Outcome) Severity {
	switch typ {
	case EventTypeBackupIntegrityFail:
		return SeverityCritical
	case EventTypeStorageAlert, EventTypePolicyUpdated, EventTypeAuthzDenied, EventTypeRecoveryStarted:
		return SeverityWarning
	}
	if outcome == OutcomeFailure {
		return SeverityError
	}
	return SeverityInfo
}

func actionFor(typ EventType) string {
	switch typ {
	case EventTypeBackupCreated, EventTypeBackupFailed:
		return "create"
	case EventTypeBackupDeleted:
		return "delete"
	case EventTypeMetadataReconciled:
		return "reconcile"
	case EventTypeBackupRemoteSynced:
		return "replicate"
	case EventTypeBackupIntegrityFail:
		return "verify"
	case EventTypePolicyUpdated:
		return "update"
	case EventTypeStorageAlert:
		return "alert"
	case EventTypeAuthzDenied:
		return "authorize"
	default:
		return "recover"
	}
}

// mustJSON converts a value to JSON, returning empty object on error.
func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// ArtifactTarget returns a Target for a backup artifact.
func ArtifactTarget(id string) *Target {
	return &Target{ID: id, Type: "artifact"}
}

// RecoveryTarget returns a Target for a recovery operation.
func RecoveryTarget(id string) *Target {
	return &Target{ID: id, Type: "recovery"}
}

// OperatorActor creates an Actor for a human operator.
func OperatorActor(id string, roles []string) Actor {
	return Actor{
		ID:    id,
		Type:  "operator",
		Name:  id,
		Roles: roles,
	}
}

// SystemActor returns an Actor representing the service itself.
func SystemActor() Actor {
	return Actor{
		ID:   "system",
		Type: "system",
		Name: "Snapvault",
	}
}
