// Package stt defines the Transcriber interface for file-based speech-to-text.
//
// Each utterance persisted by the capture pipeline is a 16 kHz mono 16-bit WAV
// file. A Transcriber turns one such file into text. Implementations must be
// safe for concurrent use; backends that cannot run inference concurrently
// serialize internally.
//
// Implementations:
//   - whisper.Native: in-process whisper.cpp via CGO bindings
//   - whisper.Server: a running whisper.cpp server reached over HTTP
//   - mock.Transcriber: scripted results for tests
package stt

import (
	"context"
	"fmt"
)

// Transcriber converts a WAV file on disk to text.
type Transcriber interface {
	// Transcribe runs speech recognition on the WAV file at path. The
	// returned Result is never nil when err is nil.
	Transcribe(ctx context.Context, path string) (*Result, error)
}

// Result is the outcome of one transcription.
type Result struct {
	// Text is the trimmed text of every recognised segment joined with single
	// spaces. It is empty when the file contained no recognisable speech.
	Text string `json:"text"`

	// Language is the language the model was asked to (or did) recognise.
	// Nil when the backend does not report one.
	Language *string `json:"language"`

	// DurationMs is the wall-clock time spent on inference.
	DurationMs int64 `json:"duration_ms"`
}

// ModelLoadError reports that the speech model could not be loaded. A later
// call may succeed if the cause (missing file, exhausted memory) is fixed.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("stt: load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// TranscriptionError reports that a file could not be read or decoded by the
// model.
type TranscriptionError struct {
	Path string
	Err  error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("stt: transcribe %q: %v", e.Path, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
