// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/domainscribe/pkg/audio/wav"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber with in-process whisper.cpp inference.
//
// The model is loaded on the first call to Transcribe rather than at
// construction, so a missing or corrupt model file surfaces as a
// *stt.ModelLoadError on each attempt and a fixed file is picked up on the
// next one. Inference runs one file at a time.
type Native struct {
	modelPath string
	language  string

	mu    sync.Mutex // guards model and serializes inference
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithLanguage sets the language code passed to whisper.cpp (e.g. "en",
// "fr", or "auto"). Defaults to "en".
func WithLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative returns a Native transcriber for the model at modelPath. The file
// is not opened until the first Transcribe call.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	n := &Native{
		modelPath: modelPath,
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// ModelPath returns the configured model file.
func (n *Native) ModelPath() string { return n.modelPath }

// Loaded reports whether the model has been loaded.
func (n *Native) Loaded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.model != nil
}

// Close releases the whisper model if it was loaded.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model == nil {
		return nil
	}
	err := n.model.Close()
	n.model = nil
	return err
}

// Transcribe loads the model if needed, reads the WAV file at path and runs
// inference on it. Concurrent callers are served one at a time.
func (n *Native) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: transcribe: %w", err)
	}
	if err := n.loadLocked(); err != nil {
		return nil, err
	}

	samples, _, channels, err := wav.Read(path)
	if err != nil {
		return nil, &stt.TranscriptionError{Path: path, Err: err}
	}

	start := time.Now()
	text, err := n.inferLocked(wav.ToFloat32Mono(samples, channels))
	if err != nil {
		return nil, &stt.TranscriptionError{Path: path, Err: err}
	}
	lang := n.language
	return &stt.Result{
		Text:       text,
		Language:   &lang,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (n *Native) loadLocked() error {
	if n.model != nil {
		return nil
	}
	start := time.Now()
	model, err := whisperlib.New(n.modelPath)
	if err != nil {
		return &stt.ModelLoadError{Path: n.modelPath, Err: err}
	}
	n.model = model
	slog.Info("whisper model loaded", "path", n.modelPath, "elapsed", time.Since(start))
	return nil
}

// inferLocked runs whisper.cpp on samples using a fresh context and returns
// the trimmed segment texts joined with single spaces.
func (n *Native) inferLocked(samples []float32) (string, error) {
	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
