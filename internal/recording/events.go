package recording

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/domainscribe/internal/transcript"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
)

// Event names published by the [Manager].
const (
	// EventStateChanged carries the new [State] as a string.
	EventStateChanged = "recording-state-changed"

	// EventRecordingError carries the error message of a failed session.
	EventRecordingError = "recording-error"

	// EventTranscriptionResult carries a [TranscriptionEvent].
	EventTranscriptionResult = "transcription-result"

	// EventTranscriptionError carries the error message for one utterance.
	EventTranscriptionError = "transcription-error"
)

// EventSink receives manager events. Emit is fire-and-forget: it must not
// block for long and must not call back into the [Manager].
type EventSink interface {
	Emit(event string, payload any)
}

// TranscriptionEvent is the payload of [EventTranscriptionResult].
type TranscriptionEvent struct {
	stt.Result

	UtteranceID int    `json:"utterance_id"`
	FilePath    string `json:"file_path"`

	// Corrections lists glossary substitutions applied to Text.
	Corrections []transcript.Correction `json:"corrections,omitempty"`
}

// SinkFunc adapts a function to [EventSink].
type SinkFunc func(event string, payload any)

// Emit implements [EventSink].
func (f SinkFunc) Emit(event string, payload any) { f(event, payload) }

// MultiSink fans every event out to each sink in order.
type MultiSink []EventSink

// Emit implements [EventSink].
func (ms MultiSink) Emit(event string, payload any) {
	for _, s := range ms {
		if s != nil {
			s.Emit(event, payload)
		}
	}
}

// LogSink logs every event. Errors are logged at warn level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements [EventSink].
func (s LogSink) Emit(event string, payload any) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	switch p := payload.(type) {
	case TranscriptionEvent:
		log.Info("recording: transcription",
			"utterance_id", p.UtteranceID,
			"text", p.Text,
			"duration_ms", p.DurationMs,
			"corrections", len(p.Corrections),
		)
	default:
		if event == EventRecordingError || event == EventTranscriptionError {
			log.Warn("recording: "+event, "error", payload)
			return
		}
		log.Info("recording: "+event, "payload", payload)
	}
}

// Event is one recorded emission.
type Event struct {
	Name    string
	Payload any
}

// Recorder is an in-memory [EventSink]. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var (
	_ EventSink = (*Recorder)(nil)
	_ EventSink = LogSink{}
	_ EventSink = MultiSink(nil)
	_ EventSink = SinkFunc(nil)
)

// Emit implements [EventSink].
func (r *Recorder) Emit(event string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, Event{Name: event, Payload: payload})
	r.mu.Unlock()
}

// Events returns a copy of every event received so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the payloads of every event called name, in order.
func (r *Recorder) Named(name string) []any {
	var out []any
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
