package observability

import (
	"log/slog"
	"time"
)

// Event names reported by the companion.
const (
	EventStatusChanged     = "status_changed"
	EventSessionStarted    = "session_started"
	EventSessionEnded      = "session_ended"
	EventToolCalled        = "tool_called"
	EventMemoriesSaved     = "memories_saved"
	EventSpeechSynthesized = "speech_synthesized"
	EventContextSent       = "context_sent"
)

// Event is one structured observation.
type Event struct {
	Name      string
	SessionID string
	Status    string
	Tool      string
	Outcome   string
	Count     int
	Duration  time.Duration
	Err       error
}

// Sink receives events. Emit must not block and must not fail the caller.
type Sink interface {
	Emit(ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// SlogSink writes events as structured log records.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ev Event) {
	l := s.Logger
	if l == nil {
		l = logger
	}

	attrs := []any{"event", ev.Name}
	if ev.SessionID != "" {
		attrs = append(attrs, "session_id", ev.SessionID)
	}
	if ev.Status != "" {
		attrs = append(attrs, "status", ev.Status)
	}
	if ev.Tool != "" {
		attrs = append(attrs, "tool", ev.Tool)
	}
	if ev.Outcome != "" {
		attrs = append(attrs, "outcome", ev.Outcome)
	}
	if ev.Count != 0 {
		attrs = append(attrs, "count", ev.Count)
	}
	if ev.Duration != 0 {
		attrs = append(attrs, "duration_ms", ev.Duration.Milliseconds())
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err.Error())
		l.Warn("companion event", attrs...)
		return
	}
	l.Debug("companion event", attrs...)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}
