// Package capture implements a single microphone recording session: device
// resolution, gain and AGC, voice activity segmentation, and persistence of
// utterances as WAV files.
//
// The device callback only copies samples into a lock-free ring. A consumer
// goroutine resamples to 16 kHz mono, applies [Gain], regroups the signal
// into 30 ms frames, classifies them and drives the [Segmenter]. Closed
// utterances are handed to a writer goroutine that persists them as
// utterance_NNNN.wav and publishes them in id order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/pkg/audio"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// Capture modes, used as the "mode" metric attribute.
const (
	ModeVAD        = "vad"
	ModePushToTalk = "push_to_talk"
)

const (
	// pollInterval is how often StartRecording checks the stop flag.
	pollInterval = 50 * time.Millisecond

	// defaultRingCapacity is 1 Mi samples, 256 slots of slotSize.
	defaultRingCapacity = 1 << 20

	// persistQueue bounds the utterances waiting for the writer.
	persistQueue = 16
)

// Option configures a [Session].
type Option func(*Session)

// WithRingCapacity sets the minimum number of samples the capture ring can
// buffer between the device callback and the consumer.
func WithRingCapacity(samples int) Option {
	return func(s *Session) { s.ringCap = samples }
}

// WithErrorHandler registers fn to receive non-fatal errors (failed
// utterance writes). fn runs on the writer goroutine.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Session) { s.onErr = fn }
}

// WithUtteranceHandler registers fn to observe every published utterance.
// fn runs on the writer goroutine after the utterance is visible through
// [Session.Utterances].
func WithUtteranceHandler(fn func(Utterance)) Option {
	return func(s *Session) { s.onUtt = fn }
}

// WithMetrics records capture metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session records from one input device until stopped. A Session records
// at most once.
type Session struct {
	cfg     Config
	backend audio.Backend
	device  audio.DeviceInfo
	dir     string
	vad     *vad.Adapter

	ringCap int
	metrics *observe.Metrics
	onErr   func(error)
	onUtt   func(Utterance)

	stopFlag  atomic.Bool
	started   atomic.Bool
	accepting atomic.Bool
	cbErrs    atomic.Uint64

	ring *blockRing
	p    *persister
}

// New resolves the input device and prepares the output directory.
//
// Device resolution failures are returned as [*DeviceError] (wrapping
// [ErrDeviceNotFound] when the hint matches nothing); output directory
// failures as [*IOError]. classifier may be nil only in push-to-talk mode.
func New(cfg Config, backend audio.Backend, classifier vad.Classifier, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture: invalid config: %w", err)
	}
	if classifier == nil && !cfg.PushToTalk {
		return nil, errors.New("capture: a vad classifier is required unless push-to-talk is enabled")
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	dev, err := resolveDevice(backend, cfg.DeviceHint)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, &IOError{Op: "resolve output dir", Path: cfg.OutputDir, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "create output dir", Path: dir, Err: err}
	}

	s := &Session{
		cfg:     cfg,
		backend: backend,
		device:  dev,
		dir:     dir,
		ringCap: defaultRingCapacity,
	}
	for _, o := range opts {
		o(s)
	}
	if classifier != nil {
		s.vad = vad.NewAdapter(classifier)
	}
	s.p = newPersister(dir, persistQueue, s.metrics, s.onErr, s.onUtt)
	return s, nil
}

func resolveDevice(b audio.Backend, hint string) (audio.DeviceInfo, error) {
	if hint == "" {
		d, err := b.DefaultDevice()
		if err != nil {
			return audio.DeviceInfo{}, &DeviceError{Op: "resolve", Err: err}
		}
		return d, nil
	}
	devs, err := b.Devices()
	if err != nil {
		return audio.DeviceInfo{}, &DeviceError{Op: "resolve", Device: hint, Err: err}
	}
	d, ok := audio.FindDevice(devs, hint)
	if !ok {
		return audio.DeviceInfo{}, &DeviceError{Op: "resolve", Device: hint, Err: ErrDeviceNotFound}
	}
	return d, nil
}

// Device returns the resolved input device.
func (s *Session) Device() audio.DeviceInfo { return s.device }

// OutputDir returns the absolute output directory.
func (s *Session) OutputDir() string { return s.dir }

// Stop requests the recording to end. It never blocks and may be called
// from any goroutine, before or during StartRecording.
func (s *Session) Stop() { s.stopFlag.Store(true) }

// Utterances returns a snapshot of the utterances published so far, in id
// order.
func (s *Session) Utterances() []Utterance { return s.p.snapshot() }

// StartRecording opens the device stream and records until [Session.Stop]
// is called or ctx is cancelled. It then stops the stream, flushes the open
// utterance (or the push-to-talk buffer) and waits until every utterance is
// written. Failures to open or start the stream are returned as
// [*DeviceError]; cancelling ctx is treated like Stop.
func (s *Session) StartRecording(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}
	log := observe.Logger(ctx).With("device", s.device.Name)

	s.ring = newBlockRing(s.ringCap)
	stream, err := s.backend.Open(s.device, s.callback)
	if err != nil {
		return &DeviceError{Op: "open", Device: s.device.Name, Err: err}
	}
	s.accepting.Store(true)

	go s.p.run()
	quit := make(chan struct{})
	consumed := make(chan struct{})
	go s.consume(quit, consumed)

	if err := stream.Start(); err != nil {
		s.accepting.Store(false)
		_ = stream.Close()
		close(quit)
		<-consumed
		s.p.closeAndWait()
		return &DeviceError{Op: "start", Device: s.device.Name, Err: err}
	}

	if s.metrics != nil {
		s.metrics.ActiveRecordings.Add(ctx, 1)
		defer s.metrics.ActiveRecordings.Add(context.WithoutCancel(ctx), -1)
	}
	log.Info("capture: recording started",
		"sample_rate", s.device.SampleRate,
		"channels", s.device.Channels,
		"push_to_talk", s.cfg.PushToTalk,
		"output_dir", s.dir,
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !s.stopFlag.Load() {
		select {
		case <-ctx.Done():
			s.stopFlag.Store(true)
		case <-ticker.C:
		}
	}

	log.Info("capture: stop requested")
	s.stopStream(log, stream)
	close(quit)
	<-consumed
	s.p.closeAndWait()
	log.Info("capture: recording finished", "utterances", len(s.Utterances()))
	return nil
}

// callback runs on the backend's real-time thread.
func (s *Session) callback(in []float32, err error) {
	if !s.accepting.Load() {
		return
	}
	if err != nil {
		s.cbErrs.Add(1)
		return
	}
	s.ring.push(in)
}

// stopStream stops the device stream, aborting it if Stop does not return
// within the configured deadline. In that case the stream is closed in the
// background once Stop eventually returns.
func (s *Session) stopStream(log *slog.Logger, st audio.Stream) {
	res := make(chan error, 1)
	go func() { res <- st.Stop() }()

	select {
	case err := <-res:
		s.accepting.Store(false)
		if err != nil {
			log.Warn("capture: stop stream", "err", err)
		}
		if err := st.Close(); err != nil {
			log.Warn("capture: close stream", "err", err)
		}
	case <-time.After(s.cfg.StopTimeout):
		s.accepting.Store(false)
		log.Warn("capture: stream did not stop in time, aborting", "timeout", s.cfg.StopTimeout)
		if err := st.Abort(); err != nil {
			log.Warn("capture: abort stream", "err", err)
		}
		go func() {
			<-res
			_ = st.Close()
		}()
	}
}

func (s *Session) consume(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	pl := s.newPipeline()
	for {
		select {
		case <-s.ring.notify:
			pl.drain()
		case <-quit:
			pl.drain()
			pl.finish()
			return
		}
	}
}

// pipeline is the consumer-side processing chain. It is confined to the
// consumer goroutine.
type pipeline struct {
	s         *Session
	resampler *audio.Resampler
	gain      *Gain
	framer    Framer
	seg       *Segmenter
	onFrame   func([]int16)
	process   func([]float32)

	pcm []int16
	ptt []int16

	seenOverruns uint64
	seenCbErrs   uint64
}

func (s *Session) newPipeline() *pipeline {
	pl := &pipeline{
		s:         s,
		resampler: audio.NewResampler(s.device.Format(), vad.SampleRate),
		gain:      NewGain(s.cfg.StaticGain, s.cfg.AGCEnabled, s.cfg.AGCTarget),
		seg:       NewSegmenter(s.cfg.SilenceHoldMs, s.cfg.MinUtteranceMs),
	}
	pl.onFrame = pl.frame
	pl.process = pl.block
	return pl
}

func (pl *pipeline) drain() {
	for pl.s.ring.pop(pl.process) {
	}
	pl.report()
}

func (pl *pipeline) block(in []float32) {
	mono := pl.resampler.Process(in)
	pl.pcm = pl.gain.Process(mono, pl.pcm)
	if pl.s.cfg.AGCEnabled && pl.s.metrics != nil {
		pl.s.metrics.AGCGain.Record(context.Background(), float64(pl.gain.CurrentGain()))
	}
	if pl.s.cfg.PushToTalk {
		pl.ptt = append(pl.ptt, pl.pcm...)
		return
	}
	pl.framer.Write(pl.pcm, pl.onFrame)
}

func (pl *pipeline) frame(f []int16) {
	speech := pl.s.vad.IsSpeech(f)
	discarded := pl.seg.Discarded()
	if utt, ok := pl.seg.Push(f, speech); ok {
		pl.s.p.enqueue(utt, ModeVAD)
		return
	}
	if pl.seg.Discarded() > discarded {
		slog.Debug("capture: discarded short utterance")
		if pl.s.metrics != nil {
			pl.s.metrics.UtterancesDiscarded.Add(context.Background(), 1)
		}
	}
}

func (pl *pipeline) finish() {
	if pl.s.cfg.PushToTalk {
		if len(pl.ptt) > 0 {
			pl.s.p.enqueue(pl.ptt, ModePushToTalk)
			pl.ptt = nil
		}
		return
	}
	if utt, ok := pl.seg.Flush(); ok {
		pl.s.p.enqueue(utt, ModeVAD)
	}
}

// report logs and counts dropped blocks and transient callback errors
// observed since the last call.
func (pl *pipeline) report() {
	ctx := context.Background()
	if n := pl.s.ring.overruns.Load(); n != pl.seenOverruns {
		delta := n - pl.seenOverruns
		pl.seenOverruns = n
		slog.Warn("capture: dropped audio blocks, consumer is too slow", "blocks", delta)
		if pl.s.metrics != nil {
			pl.s.metrics.RingOverruns.Add(ctx, int64(delta))
		}
	}
	if n := pl.s.cbErrs.Load(); n != pl.seenCbErrs {
		delta := n - pl.seenCbErrs
		pl.seenCbErrs = n
		slog.Warn("capture: transient stream errors", "count", delta)
		if pl.s.metrics != nil {
			pl.s.metrics.CallbackErrors.Add(ctx, int64(delta))
		}
	}
}
