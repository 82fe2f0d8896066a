package capture_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/domainscribe/internal/capture"
	"github.com/MrWong99/domainscribe/pkg/audio"
	"github.com/MrWong99/domainscribe/pkg/audio/mock"
	"github.com/MrWong99/domainscribe/pkg/audio/wav"
	vadmock "github.com/MrWong99/domainscribe/pkg/provider/vad/mock"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

const rate = 16000

var defaultMic = audio.DeviceInfo{Name: "mic", IsDefault: true, SampleRate: rate, Channels: 1}

func silence(ms int) []float32 { return make([]float32, ms*rate/1000) }

// tone returns a 440 Hz sine at -6 dBFS.
func tone(ms int) []float32 {
	out := make([]float32, ms*rate/1000)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return out
}

func join(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// testConfig returns defaults with a deterministic gain stage.
func testConfig(t *testing.T) capture.Config {
	t.Helper()
	cfg := capture.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.StaticGain = 1
	cfg.AGCEnabled = false
	cfg.PushToTalk = false
	return cfg
}

func newBackend(signal []float32) *mock.Backend {
	return &mock.Backend{
		DevicesResult: []audio.DeviceInfo{defaultMic},
		Blocks:        mock.Split(signal, 480),
	}
}

// record runs StartRecording until every scripted block was delivered,
// then stops the session and returns StartRecording's result.
func record(t *testing.T, s *capture.Session, b *mock.Backend) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.StartRecording(context.Background()) }()

	deadline := time.After(10 * time.Second)
	for b.LastStream() == nil {
		select {
		case err := <-errc:
			return err
		case <-deadline:
			t.Fatal("stream was never opened")
		case <-time.After(time.Millisecond):
		}
	}
	select {
	case <-b.LastStream().Done():
	case <-deadline:
		t.Fatal("blocks were not delivered")
	}
	s.Stop()
	select {
	case err := <-errc:
		return err
	case <-deadline:
		t.Fatal("StartRecording did not return after Stop")
	}
	return nil
}

func newSession(t *testing.T, cfg capture.Config, b *mock.Backend, opts ...capture.Option) *capture.Session {
	t.Helper()
	opts = append([]capture.Option{capture.WithRingCapacity(512 * 4096)}, opts...)
	s, err := capture.New(cfg, b, vadmock.Amplitude(100), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func wavFiles(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// ── End-to-end scenarios ─────────────────────────────────────────────────────

func TestSession_SingleUtterance(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(join(silence(500), tone(1500), silence(1200)))
	s := newSession(t, cfg, b)

	if err := record(t, s, b); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	utts := s.Utterances()
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	u := utts[0]
	if u.ID != 1 || filepath.Base(u.FilePath) != "utterance_0001.wav" {
		t.Errorf("utterance = %+v", u)
	}
	if u.DurationMs < 2200 || u.DurationMs > 2600 {
		t.Errorf("duration = %d ms, want within [2200, 2600]", u.DurationMs)
	}
	if !filepath.IsAbs(u.FilePath) {
		t.Errorf("file path %q is not absolute", u.FilePath)
	}

	raw, err := os.ReadFile(u.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	dataSize := binary.LittleEndian.Uint32(raw[40:44])
	if len(raw) != wav.HeaderSize+int(dataSize) {
		t.Errorf("file size %d does not match header data size %d", len(raw), dataSize)
	}
	if int(dataSize) != u.DurationMs*32 {
		t.Errorf("data size = %d, want duration*32 = %d", dataSize, u.DurationMs*32)
	}
	if len(wavFiles(t, cfg.OutputDir)) != 1 {
		t.Error("unexpected extra files in output dir")
	}
}

func TestSession_TwoUtterances(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(join(tone(1000), silence(2000), tone(800), silence(1500)))
	s := newSession(t, cfg, b)

	if err := record(t, s, b); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	utts := s.Utterances()
	if len(utts) != 2 {
		t.Fatalf("got %d utterances, want 2", len(utts))
	}
	want := []struct {
		name string
		ms   int
	}{
		{"utterance_0001.wav", 2040},
		{"utterance_0002.wav", 1830},
	}
	for i, w := range want {
		if utts[i].ID != i+1 || filepath.Base(utts[i].FilePath) != w.name {
			t.Errorf("utterance %d = %+v, want %s", i, utts[i], w.name)
		}
		if d := utts[i].DurationMs - w.ms; d < -60 || d > 60 {
			t.Errorf("utterance %d duration = %d, want ~%d", i, utts[i].DurationMs, w.ms)
		}
	}
}

// The trailing hold is part of an utterance's length, so a short burst is
// only dropped when hold plus speech stays under the minimum.
func TestSession_ShortUtteranceDiscarded(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.MinUtteranceMs = 500
	cfg.SilenceHoldMs = 200
	b := newBackend(join(tone(200), silence(1200)))

	var errs []error
	var mu sync.Mutex
	s := newSession(t, cfg, b, capture.WithErrorHandler(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))

	if err := record(t, s, b); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if n := len(s.Utterances()); n != 0 {
		t.Errorf("got %d utterances, want 0", n)
	}
	if n := len(wavFiles(t, cfg.OutputDir)); n != 0 {
		t.Errorf("got %d files, want 0", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestSession_PersistenceFailureRecovery(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	b := newBackend(join(tone(1500), silence(1500), tone(1500)))

	var mu sync.Mutex
	var errs []error
	s := newSession(t, cfg, b, capture.WithErrorHandler(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))

	// Replace the output directory with a regular file so every write
	// fails, independent of the user the tests run as.
	if err := os.Remove(s.OutputDir()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.OutputDir(), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := record(t, s, b); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	if n := len(s.Utterances()); n != 0 {
		t.Errorf("got %d utterances, want 0", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want one per attempt (2): %v", len(errs), errs)
	}
	for _, err := range errs {
		var ioErr *capture.IOError
		if !errors.As(err, &ioErr) {
			t.Errorf("error %v is not an *IOError", err)
		}
	}
}

func TestSession_PushToTalk(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.PushToTalk = true
	b := newBackend(silence(3000))
	classifier := vadmock.Amplitude(100)
	s, err := capture.New(cfg, b, classifier, capture.WithRingCapacity(512*4096))
	if err != nil {
		t.Fatal(err)
	}

	if err := record(t, s, b); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	utts := s.Utterances()
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	if utts[0].SampleCount != 48000 || utts[0].DurationMs != 3000 {
		t.Errorf("utterance = %+v, want 48000 samples / 3000 ms", utts[0])
	}
	samples, _, _, err := wav.Read(utts[0].FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 48000 {
		t.Errorf("file holds %d samples, want 48000", len(samples))
	}
	if classifier.CallCount() != 0 {
		t.Errorf("classifier called %d times in push-to-talk mode", classifier.CallCount())
	}
}

// ── Lifecycle and edge cases ─────────────────────────────────────────────────

func TestSession_PushToTalkEmptyBufferEmitsNothing(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.PushToTalk = true
	b := newBackend(nil)
	s, err := capture.New(cfg, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Utterances()); n != 0 {
		t.Errorf("got %d utterances, want 0", n)
	}
}

func TestSession_PushToTalkResamplesDeviceFormat(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.PushToTalk = true
	stereo48k := make([]float32, 48000*2) // one second
	b := &mock.Backend{
		DevicesResult: []audio.DeviceInfo{{Name: "usb", IsDefault: true, SampleRate: 48000, Channels: 2}},
		Blocks:        mock.Split(stereo48k, 1024),
	}
	s, err := capture.New(cfg, b, nil, capture.WithRingCapacity(512*4096))
	if err != nil {
		t.Fatal(err)
	}
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	utts := s.Utterances()
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	if d := utts[0].SampleCount - 16000; d < -2 || d > 2 {
		t.Errorf("sample count = %d, want ~16000", utts[0].SampleCount)
	}
}

func TestSession_FlushOnStopWhileSpeaking(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(tone(900))
	s := newSession(t, cfg, b)
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	utts := s.Utterances()
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	if utts[0].DurationMs != 900 {
		t.Errorf("duration = %d, want 900", utts[0].DurationMs)
	}
}

func TestSession_UtteranceHandlerSeesPublishedUtterance(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(join(tone(600), silence(1100), tone(600), silence(1100)))

	var s *capture.Session
	var mu sync.Mutex
	var seen []int
	s = newSession(t, cfg, b, capture.WithUtteranceHandler(func(u capture.Utterance) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.ID)
		if list := s.Utterances(); len(list) == 0 || list[len(list)-1].ID != u.ID {
			t.Errorf("utterance %d not visible in snapshot when handler ran", u.ID)
		}
	}))
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("handler saw ids %v, want [1 2]", seen)
	}
}

func TestSession_SnapshotIsCopy(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(tone(600))
	s := newSession(t, cfg, b)
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	a := s.Utterances()
	a[0].ID = 99
	if s.Utterances()[0].ID != 1 {
		t.Error("mutating a snapshot changed the session list")
	}
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(nil)
	s := newSession(t, cfg, b)
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRecording(context.Background()); !errors.Is(err, capture.ErrSessionUsed) {
		t.Errorf("second StartRecording = %v, want ErrSessionUsed", err)
	}
}

func TestSession_ContextCancelStops(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(tone(600))
	s := newSession(t, cfg, b)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.StartRecording(ctx) }()
	for b.LastStream() == nil {
		time.Sleep(time.Millisecond)
	}
	<-b.LastStream().Done()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StartRecording ignored context cancellation")
	}
	if len(s.Utterances()) != 1 {
		t.Errorf("flushed %d utterances, want 1", len(s.Utterances()))
	}
}

func TestSession_StopDeadlineAbortsStalledStream(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.StopTimeout = 100 * time.Millisecond
	b := newBackend(tone(300))
	b.StopDelay = 5 * time.Second
	s := newSession(t, cfg, b)

	start := time.Now()
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("StartRecording took %s despite the stop deadline", elapsed)
	}
	if n := b.LastStream().Aborts(); n != 1 {
		t.Errorf("Abort called %d times, want 1", n)
	}
	if len(s.Utterances()) != 1 {
		t.Errorf("got %d utterances, want the flushed one", len(s.Utterances()))
	}
}

func TestSession_StreamClosedOnNormalStop(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := newBackend(nil)
	s := newSession(t, cfg, b)
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	st := b.LastStream()
	if st.Stops() != 1 || st.Closes() != 1 || st.Aborts() != 0 {
		t.Errorf("stops=%d closes=%d aborts=%d, want 1/1/0", st.Stops(), st.Closes(), st.Aborts())
	}
}

func TestSession_TransientCallbackErrorsAreSkipped(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	blocks := mock.Split(tone(600), 480)
	blocks = append(blocks[:5:5], append([]mock.Block{{Err: &audio.CallbackError{Status: "input overflow"}}}, blocks[5:]...)...)
	b := &mock.Backend{DevicesResult: []audio.DeviceInfo{defaultMic}, Blocks: blocks}
	s := newSession(t, cfg, b)
	if err := record(t, s, b); err != nil {
		t.Fatal(err)
	}
	utts := s.Utterances()
	if len(utts) != 1 || utts[0].DurationMs != 600 {
		t.Errorf("utterances = %+v, want one of 600 ms", utts)
	}
}

// ── Construction errors ──────────────────────────────────────────────────────

func TestNew_DeviceNotFound(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.DeviceHint = "Nonexistent Mic"
	_, err := capture.New(cfg, newBackend(nil), vadmock.Amplitude(100))

	var devErr *capture.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("error = %v, want *DeviceError", err)
	}
	if !errors.Is(err, capture.ErrDeviceNotFound) {
		t.Errorf("error %v does not wrap ErrDeviceNotFound", err)
	}
}

func TestNew_DeviceHintSelectsByName(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.DeviceHint = "usb"
	b := &mock.Backend{DevicesResult: []audio.DeviceInfo{
		defaultMic,
		{Name: "usb", SampleRate: 44100, Channels: 2},
	}}
	s, err := capture.New(cfg, b, vadmock.Amplitude(100))
	if err != nil {
		t.Fatal(err)
	}
	if s.Device().Name != "usb" || s.Device().SampleRate != 44100 {
		t.Errorf("device = %+v", s.Device())
	}
}

func TestNew_NoDefaultDevice(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	_, err := capture.New(cfg, &mock.Backend{}, vadmock.Amplitude(100))
	if !errors.Is(err, audio.ErrNoDevice) {
		t.Errorf("error = %v, want ErrNoDevice", err)
	}
}

func TestNew_OutputDirCreated(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(t.TempDir(), "a", "b")
	if _, err := capture.New(cfg, newBackend(nil), vadmock.Amplitude(100)); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(cfg.OutputDir); err != nil || !info.IsDir() {
		t.Errorf("output dir not created: %v", err)
	}
}

func TestNew_OutputDirError(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.OutputDir = filepath.Join(blocker, "sub")
	_, err := capture.New(cfg, newBackend(nil), vadmock.Amplitude(100))
	var ioErr *capture.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("error = %v, want *IOError", err)
	}
}

func TestNew_RequiresClassifierOutsidePushToTalk(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	if _, err := capture.New(cfg, newBackend(nil), nil); err == nil {
		t.Error("expected error without classifier in VAD mode")
	}
}

func TestStartRecording_OpenAndStartErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mod  func(*mock.Backend)
		op   string
	}{
		{"open", func(b *mock.Backend) { b.OpenErr = errors.New("busy") }, "open"},
		{"start", func(b *mock.Backend) { b.StartErr = errors.New("unplugged") }, "start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newBackend(nil)
			tt.mod(b)
			s := newSession(t, testConfig(t), b)
			err := s.StartRecording(context.Background())
			var devErr *capture.DeviceError
			if !errors.As(err, &devErr) || devErr.Op != tt.op {
				t.Errorf("error = %v, want *DeviceError op %q", err, tt.op)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	cfg := capture.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	cfg.SilenceHoldMs = -1
	cfg.AGCTarget = 2
	cfg.StaticGain = 0
	cfg.OutputDir = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if n := len(err.(interface{ Unwrap() []error }).Unwrap()); n != 4 {
		t.Errorf("got %d errors, want 4: %v", n, err)
	}
}

// runawayBackend opens streams whose driver thread ignores Stop and keeps
// calling back with speech until the test ends.
type runawayBackend struct {
	*mock.Backend
	halt chan struct{}
}

type runawayStream struct {
	cb   audio.Callback
	halt <-chan struct{}
}

func (b *runawayBackend) Open(_ audio.DeviceInfo, cb audio.Callback) (audio.Stream, error) {
	return &runawayStream{cb: cb, halt: b.halt}, nil
}

func (s *runawayStream) Start() error {
	block := tone(30)
	go func() {
		for {
			select {
			case <-s.halt:
				return
			case <-time.After(time.Millisecond):
				s.cb(block, nil)
			}
		}
	}()
	return nil
}

func (s *runawayStream) Stop() error  { return nil }
func (s *runawayStream) Abort() error { return nil }
func (s *runawayStream) Close() error { return nil }

func TestSession_UtterancesFrozenAfterReturn(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	b := &runawayBackend{Backend: newBackend(nil), halt: make(chan struct{})}
	t.Cleanup(func() { close(b.halt) })

	s, err := capture.New(cfg, b, vadmock.Amplitude(100), capture.WithRingCapacity(512*4096))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.StartRecording(context.Background()) }()
	time.Sleep(300 * time.Millisecond)
	s.Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("StartRecording did not return after Stop")
	}

	before := s.Utterances()
	files := wavFiles(t, cfg.OutputDir)
	if len(before) == 0 {
		t.Fatal("no utterance was flushed on stop")
	}

	time.Sleep(200 * time.Millisecond)

	if after := s.Utterances(); !slices.Equal(after, before) {
		t.Errorf("utterances changed after return: %+v, was %+v", after, before)
	}
	if got := wavFiles(t, cfg.OutputDir); len(got) != len(files) {
		t.Errorf("wav files = %d after return, was %d", len(got), len(files))
	}
}
