// Package recording drives capture sessions and the transcription of their
// utterances behind a small state machine.
//
// A [Manager] is Idle, Recording or Processing. StartRecording builds a
// [capture.Session] and runs it on a background goroutine. When the session
// ends the manager moves to Processing and transcribes the utterances one at
// a time in id order, publishing one event per utterance, then returns to
// Idle. Every transition is published as [EventStateChanged].
package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/domainscribe/internal/capture"
	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/internal/transcript"
	"github.com/MrWong99/domainscribe/pkg/audio"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// State is the externally visible manager state.
type State string

// Manager states.
const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
)

// ClassifierFactory builds a fresh speech classifier for one session.
type ClassifierFactory func(vad.Sensitivity) (vad.Classifier, error)

// Enhancer pre-processes an utterance file before transcription and returns
// the path of the processed file.
type Enhancer interface {
	Enhance(ctx context.Context, path string) (string, error)
}

// Corrector rewrites domain vocabulary in a transcript.
type Corrector interface {
	Correct(text string) transcript.Result
}

// Config wires a [Manager].
type Config struct {
	// Capture is the base session configuration. DeviceHint is the initial
	// selected device.
	Capture capture.Config

	Backend     audio.Backend
	Classifiers ClassifierFactory
	Transcriber stt.Transcriber

	// TranscriberName labels transcription metrics. Defaults to "stt".
	TranscriberName string

	// Sink receives events. Nil discards them.
	Sink EventSink

	// Enhancer is optional. When it fails the original file is transcribed.
	Enhancer Enhancer

	// Corrector is optional and applied to every transcription result.
	Corrector Corrector

	// Metrics is optional.
	Metrics *observe.Metrics

	// SessionOptions are passed to every [capture.New] call.
	SessionOptions []capture.Option
}

// Manager is safe for concurrent use.
type Manager struct {
	backend     audio.Backend
	classifiers ClassifierFactory
	transcriber stt.Transcriber
	sttName     string
	sink        EventSink
	enhancer    Enhancer
	metrics     *observe.Metrics
	sessionOpts []capture.Option

	mu        sync.Mutex
	state     State
	base      capture.Config
	device    string
	corrector Corrector
	session   *capture.Session
	idle      chan struct{} // closed on return to Idle; nil while Idle
}

// New validates cfg and returns an Idle manager.
func New(cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Classifiers == nil && !cfg.Capture.PushToTalk {
		errs = append(errs, errors.New("classifier factory is required unless push-to-talk is enabled"))
	}
	if err := cfg.Capture.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("recording: invalid config: %w", err)
	}

	m := &Manager{
		backend:     cfg.Backend,
		classifiers: cfg.Classifiers,
		transcriber: cfg.Transcriber,
		sttName:     cfg.TranscriberName,
		sink:        cfg.Sink,
		enhancer:    cfg.Enhancer,
		metrics:     cfg.Metrics,
		sessionOpts: cfg.SessionOptions,
		state:       StateIdle,
		base:        cfg.Capture,
		device:      cfg.Capture.DeviceHint,
		corrector:   cfg.Corrector,
	}
	if m.sttName == "" {
		m.sttName = "stt"
	}
	if m.sink == nil {
		m.sink = SinkFunc(func(string, any) {})
	}
	return m, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectedDevice returns the device hint used by the next session. An empty
// string selects the system default input.
func (m *Manager) SelectedDevice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Devices lists the backend's input devices.
func (m *Manager) Devices() ([]audio.DeviceInfo, error) {
	devs, err := m.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("recording: list devices: %w", err)
	}
	return devs, nil
}

// ── Commands ─────────────────────────────────────────────────────────────────

// StartRecording builds a session for the selected device and starts it in
// the background. It fails with [ErrAlreadyRecording] outside Idle. A
// session that cannot be built is reported as [EventRecordingError] and
// returned; the manager stays Idle.
//
// ctx supplies values (trace, logger) to the background work; its
// cancellation does not stop the recording.
func (m *Manager) StartRecording(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return &StateError{Op: "start", State: m.state, Err: ErrAlreadyRecording}
	}

	cfg := m.base
	cfg.DeviceHint = m.device

	sess, err := m.newSession(ctx, cfg)
	if err != nil {
		m.sink.Emit(EventRecordingError, err.Error())
		return err
	}

	m.session = sess
	m.idle = make(chan struct{})
	m.setStateLocked(StateRecording)

	go m.run(context.WithoutCancel(ctx), sess, m.idle)
	return nil
}

func (m *Manager) newSession(ctx context.Context, cfg capture.Config) (*capture.Session, error) {
	var classifier vad.Classifier
	if !cfg.PushToTalk {
		c, err := m.classifiers(cfg.Sensitivity)
		if err != nil {
			return nil, fmt.Errorf("recording: create classifier: %w", err)
		}
		classifier = c
	}

	log := observe.Logger(ctx)
	opts := []capture.Option{
		capture.WithErrorHandler(func(err error) {
			log.Warn("recording: utterance dropped", "err", err)
		}),
	}
	if m.metrics != nil {
		opts = append(opts, capture.WithMetrics(m.metrics))
	}
	opts = append(opts, m.sessionOpts...)

	sess, err := capture.New(cfg, m.backend, classifier, opts...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// StopRecording asks the running session to stop and returns immediately.
// It fails with [ErrNotRecording] outside Recording.
func (m *Manager) StopRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRecording {
		return &StateError{Op: "stop", State: m.state, Err: ErrNotRecording}
	}
	m.session.Stop()
	return nil
}

// SetDevice selects the input device for the next session. It fails with
// [ErrBusy] outside Idle.
func (m *Manager) SetDevice(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return &StateError{Op: "set device", State: m.state, Err: ErrBusy}
	}
	m.device = name
	return nil
}

// UpdateCapture replaces the base session configuration used from the next
// StartRecording on. The selected device is kept.
func (m *Manager) UpdateCapture(cfg capture.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("recording: invalid capture config: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !cfg.PushToTalk && m.classifiers == nil {
		return errors.New("recording: vad mode needs a classifier factory")
	}
	m.base = cfg
	return nil
}

// SetCorrector replaces the transcript corrector. Nil disables correction.
// It takes effect from the next transcribed utterance.
func (m *Manager) SetCorrector(c Corrector) {
	m.mu.Lock()
	m.corrector = c
	m.mu.Unlock()
}

// Wait blocks until the manager is Idle or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops a running session and waits for processing to finish.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.StopRecording(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return m.Wait(ctx)
}

// ── Background work ──────────────────────────────────────────────────────────

// setStateLocked must be called with m.mu held. Emitting under the lock keeps
// state events in transition order.
func (m *Manager) setStateLocked(s State) {
	m.state = s
	m.sink.Emit(EventStateChanged, string(s))
}

func (m *Manager) run(ctx context.Context, sess *capture.Session, idle chan struct{}) {
	log := observe.Logger(ctx)
	defer func() {
		m.mu.Lock()
		m.session = nil
		m.idle = nil
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		close(idle)
	}()

	if err := sess.StartRecording(ctx); err != nil {
		log.Error("recording: session failed", "err", err)
		m.sink.Emit(EventRecordingError, err.Error())
		return
	}

	m.mu.Lock()
	m.setStateLocked(StateProcessing)
	m.mu.Unlock()

	utts := sess.Utterances()
	log.Info("recording: processing utterances", "count", len(utts))
	for _, u := range utts {
		m.transcribe(ctx, u)
	}
}

// transcribe handles one utterance. Failures are published and never stop
// the queue.
func (m *Manager) transcribe(ctx context.Context, u capture.Utterance) {
	ctx, span := observe.StartSpan(ctx, "recording.transcribe")
	defer span.End()
	log := observe.Logger(ctx).With("utterance_id", u.ID)

	path := u.FilePath
	if m.enhancer != nil {
		out, err := m.enhancer.Enhance(ctx, path)
		if err != nil {
			log.Warn("recording: enhancement failed, using original audio", "err", err)
		} else {
			path = out
		}
	}

	start := time.Now()
	res, err := m.transcriber.Transcribe(ctx, path)
	m.recordSTT(ctx, time.Since(start), err)
	if path != u.FilePath {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			log.Warn("recording: remove enhanced audio", "path", path, "err", rerr)
		}
	}
	if err != nil {
		observe.Fail(span, err, "transcription failed")
		log.Warn("recording: transcription failed", "err", err)
		m.sink.Emit(EventTranscriptionError, fmt.Sprintf("utterance %d: %v", u.ID, err))
		return
	}

	ev := TranscriptionEvent{Result: *res, UtteranceID: u.ID, FilePath: u.FilePath}

	m.mu.Lock()
	corrector := m.corrector
	m.mu.Unlock()
	if corrector != nil {
		cr := corrector.Correct(res.Text)
		ev.Text = cr.Text
		if cr.Changed() {
			ev.Corrections = cr.Corrections
			log.Debug("recording: glossary corrections applied", "count", len(cr.Corrections))
		}
	}

	m.sink.Emit(EventTranscriptionResult, ev)
}

func (m *Manager) recordSTT(ctx context.Context, d time.Duration, err error) {
	if m.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.STTDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", m.sttName)))
	m.metrics.RecordProviderRequest(ctx, m.sttName, "stt", status)
}
