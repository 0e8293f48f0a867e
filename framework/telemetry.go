package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventRunStart          EventType = "run_start"
	EventRunFinish         EventType = "run_finish"
	EventRunError          EventType = "run_error"
	EventStepStart         EventType = "step_start"
	EventStepFinish        EventType = "step_finish"
	EventStepError         EventType = "step_error"
	EventCacheHit          EventType = "cache_hit"
	EventCacheMiss         EventType = "cache_miss"
	EventContextSelected   EventType = "context_selected"
	EventParse             EventType = "parse"
	EventValidation        EventType = "validation"
	EventCorrectionAttempt EventType = "correction_attempt"
	EventRuntimeFixAttempt EventType = "runtime_fix_attempt"
	EventProviderRetry     EventType = "provider_retry"
	EventLLMPrompt         EventType = "llm_prompt"
	EventLLMResponse       EventType = "llm_response"
	EventSuggestionAdded   EventType = "suggestion_added"
	EventArtifactUpdated   EventType = "artifact_updated"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry is the observability sink. Emit is fire-and-forget: sinks must
// not block the pipeline or report failures back to it.
type Telemetry interface {
	Emit(event Event)
}

// Emit sends event to t when t is non-nil, stamping the time if missing.
func Emit(t Telemetry, event Event) {
	if t == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.Emit(event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// LogTelemetry emits events through a structured logger.
type LogTelemetry struct {
	Logger *slog.Logger
}

// Emit logs the event. Errors log at warn level, chatty LLM traffic at debug.
func (t LogTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch event.Type {
	case EventRunError, EventStepError, EventProviderRetry:
		level = slog.LevelWarn
	case EventLLMPrompt, EventLLMResponse, EventContextSelected, EventParse:
		level = slog.LevelDebug
	}
	attrs := []any{"event", string(event.Type)}
	if event.RunID != "" {
		attrs = append(attrs, "run", event.RunID)
	}
	if event.Agent != "" {
		attrs = append(attrs, "agent", event.Agent)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	logger.Log(context.Background(), level, event.Message, attrs...)
}

// RecordingTelemetry keeps events in memory. Used by tests and the run
// monitor replay.
type RecordingTelemetry struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (r *RecordingTelemetry) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of recorded events.
func (r *RecordingTelemetry) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were recorded.
func (r *RecordingTelemetry) Count(kind EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}
