package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/domainscribe/internal/capture"
	"github.com/MrWong99/domainscribe/internal/health"
	"github.com/MrWong99/domainscribe/internal/orchestrate"
	"github.com/MrWong99/domainscribe/internal/recording"
	"github.com/MrWong99/domainscribe/pkg/audio"
	audiomock "github.com/MrWong99/domainscribe/pkg/audio/mock"
	"github.com/MrWong99/domainscribe/pkg/domain"
	sttmock "github.com/MrWong99/domainscribe/pkg/provider/stt/mock"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu         sync.Mutex
	state      recording.State
	device     string
	devices    []audio.DeviceInfo
	devicesErr error
	startErr   error
	stopErr    error
	setErr     error
	starts     int
}

var _ Recorder = (*fakeRecorder)(nil)

func (f *fakeRecorder) State() recording.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return recording.StateIdle
	}
	return f.state
}

func (f *fakeRecorder) SelectedDevice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device
}

func (f *fakeRecorder) Devices() ([]audio.DeviceInfo, error) { return f.devices, f.devicesErr }

func (f *fakeRecorder) StartRecording(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = recording.StateRecording
	return nil
}

func (f *fakeRecorder) StopRecording() error { return f.stopErr }

func (f *fakeRecorder) SetDevice(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.device = name
	return nil
}

type fakeDocumenter struct {
	err        error
	transcript string
}

func (d *fakeDocumenter) Run(_ context.Context, transcript string) (*orchestrate.Result, error) {
	d.transcript = transcript
	if d.err != nil {
		return nil, d.err
	}
	m := &domain.Model{Entities: []domain.Entity{{ID: "customer", Name: "Customer"}}}
	return &orchestrate.Result{Model: m, Markdown: "# Customer", Mermaid: "erDiagram"}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// ── Routes ───────────────────────────────────────────────────────────────────

func TestDevices(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{
		device:  "USB",
		devices: []audio.DeviceInfo{{Name: "Built-in", IsDefault: true}, {Name: "USB"}},
	}
	resp := do(t, New(rec).Handler(), http.MethodGet, "/api/devices", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	body := decodeBody[devicesResponse](t, resp)
	if len(body.Devices) != 2 || body.Selected != "USB" || !body.Devices[0].IsDefault {
		t.Errorf("body = %+v", body)
	}
}

func TestDevices_Error(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{devicesErr: errors.New("host api down")}
	resp := do(t, New(rec).Handler(), http.MethodGet, "/api/devices", "")
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.Code)
	}
}

func TestRecordingCommands(t *testing.T) {
	t.Parallel()

	stateErr := func(op string, s recording.State, err error) error {
		return &recording.StateError{Op: op, State: s, Err: err}
	}

	tests := []struct {
		name     string
		rec      *fakeRecorder
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"start", &fakeRecorder{}, http.MethodPost, "/api/recording/start", "", http.StatusAccepted},
		{"start while recording", &fakeRecorder{startErr: stateErr("start", recording.StateRecording, recording.ErrAlreadyRecording)},
			http.MethodPost, "/api/recording/start", "", http.StatusConflict},
		{"start unknown device", &fakeRecorder{startErr: &capture.DeviceError{Op: "resolve", Device: "USB", Err: capture.ErrDeviceNotFound}},
			http.MethodPost, "/api/recording/start", "", http.StatusNotFound},
		{"start device failure", &fakeRecorder{startErr: errors.New("stream open failed")},
			http.MethodPost, "/api/recording/start", "", http.StatusInternalServerError},
		{"stop", &fakeRecorder{}, http.MethodPost, "/api/recording/stop", "", http.StatusAccepted},
		{"stop while idle", &fakeRecorder{stopErr: stateErr("stop", recording.StateIdle, recording.ErrNotRecording)},
			http.MethodPost, "/api/recording/stop", "", http.StatusConflict},
		{"set device", &fakeRecorder{}, http.MethodPut, "/api/device", `{"name":"USB"}`, http.StatusOK},
		{"set device busy", &fakeRecorder{setErr: stateErr("set device", recording.StateProcessing, recording.ErrBusy)},
			http.MethodPut, "/api/device", `{"name":"USB"}`, http.StatusConflict},
		{"set device bad body", &fakeRecorder{}, http.MethodPut, "/api/device", `{"device":"USB"}`, http.StatusBadRequest},
		{"set device name too long", &fakeRecorder{}, http.MethodPut, "/api/device", `{"name":"`+strings.Repeat("x", 257)+`"}`, http.StatusBadRequest},
		{"wrong method", &fakeRecorder{}, http.MethodGet, "/api/recording/start", "", http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := do(t, New(tc.rec).Handler(), tc.method, tc.path, tc.body)
			if resp.Code != tc.wantCode {
				t.Errorf("status = %d, want %d (body %s)", resp.Code, tc.wantCode, resp.Body)
			}
		})
	}
}

func TestSetDevice_UpdatesState(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	h := New(rec).Handler()

	do(t, h, http.MethodPut, "/api/device", `{"name":"  Headset  "}`)
	body := decodeBody[stateResponse](t, do(t, h, http.MethodGet, "/api/state", ""))
	if body.Device != "Headset" || body.State != recording.StateIdle {
		t.Errorf("state = %+v", body)
	}
}

func TestModel(t *testing.T) {
	t.Parallel()

	t.Run("generates", func(t *testing.T) {
		t.Parallel()
		doc := &fakeDocumenter{}
		resp := do(t, New(&fakeRecorder{}, WithDocumenter(doc)).Handler(),
			http.MethodPost, "/api/model", `{"transcript":"a customer places orders"}`)
		if resp.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", resp.Code, resp.Body)
		}
		res := decodeBody[orchestrate.Result](t, resp)
		if res.Markdown != "# Customer" || res.Model == nil || res.Model.Entities[0].Name != "Customer" {
			t.Errorf("result = %+v", res)
		}
		if doc.transcript != "a customer places orders" {
			t.Errorf("documenter got %q", doc.transcript)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		resp := do(t, New(&fakeRecorder{}, WithDocumenter(&fakeDocumenter{})).Handler(),
			http.MethodPost, "/api/model", `{"transcript":"   "}`)
		if resp.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.Code)
		}
		if body := decodeBody[errorResponse](t, resp); !strings.Contains(body.Error, "transcript: required") {
			t.Errorf("error = %q", body.Error)
		}
	})

	t.Run("generator failure", func(t *testing.T) {
		t.Parallel()
		resp := do(t, New(&fakeRecorder{}, WithDocumenter(&fakeDocumenter{err: errors.New("llm down")})).Handler(),
			http.MethodPost, "/api/model", `{"transcript":"x"}`)
		if resp.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.Code)
		}
		if body := decodeBody[errorResponse](t, resp); !strings.Contains(body.Error, "llm down") {
			t.Errorf("error = %q", body.Error)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		resp := do(t, New(&fakeRecorder{}).Handler(), http.MethodPost, "/api/model", `{"transcript":"x"}`)
		if resp.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.Code)
		}
	})
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	failing := health.Checker{Name: "whisper", Check: func(context.Context) error { return errors.New("model missing") }}
	h := New(&fakeRecorder{}, WithHealth(health.New(failing))).Handler()

	if resp := do(t, h, http.MethodGet, "/healthz", ""); resp.Code != http.StatusOK {
		t.Errorf("healthz = %d", resp.Code)
	}
	if resp := do(t, h, http.MethodGet, "/readyz", ""); resp.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", resp.Code)
	}
	if resp := do(t, h, http.MethodGet, "/metrics", ""); resp.Code != http.StatusOK {
		t.Errorf("metrics = %d", resp.Code)
	}
}

// ── Event hub ────────────────────────────────────────────────────────────────

func TestHub_DropsSlowSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(2)
	slow, _ := hub.subscribe()
	fast, _ := hub.subscribe()

	for i := range 3 {
		hub.Emit(recording.EventStateChanged, i)
		<-fast.ch
	}

	if n := hub.Subscribers(); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	got := 0
	for range slow.ch {
		got++
	}
	if got != 2 {
		t.Errorf("slow subscriber received %d buffered messages, want 2", got)
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()
	hub := NewHub(1)
	s, _ := hub.subscribe()
	hub.Close()

	if _, ok := <-s.ch; ok {
		t.Error("channel still open after Close")
	}
	if _, ok := hub.subscribe(); ok {
		t.Error("subscribe succeeded after Close")
	}
	hub.Emit("x", nil)
}

func TestHub_UnencodablePayload(t *testing.T) {
	t.Parallel()
	hub := NewHub(1)
	s, _ := hub.subscribe()
	hub.Emit("x", func() {})

	select {
	case <-s.ch:
		t.Error("unencodable event delivered")
	default:
	}
}

// ── End to end ───────────────────────────────────────────────────────────────

const rate = 16000

func tone(ms int) []float32 {
	out := make([]float32, ms*rate/1000)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return out
}

func TestEventsOverWebsocket(t *testing.T) {
	t.Parallel()

	backend := &audiomock.Backend{
		DevicesResult: []audio.DeviceInfo{{Name: "mic", IsDefault: true, SampleRate: rate, Channels: 1}},
		Blocks:        audiomock.Split(tone(600), 480),
	}
	cc := capture.DefaultConfig()
	cc.OutputDir = t.TempDir()
	cc.PushToTalk = true

	hub := NewHub(0)
	mgr, err := recording.New(recording.Config{
		Capture:        cc,
		Backend:        backend,
		Transcriber:    &sttmock.Transcriber{Default: sttmock.Reply{Text: "a customer places an order"}},
		Sink:           hub,
		SessionOptions: []capture.Option{capture.WithRingCapacity(512 * 4096)},
	})
	if err != nil {
		t.Fatalf("recording.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})

	srv := httptest.NewServer(New(mgr, WithHub(hub)).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for hub.Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	post := func(path string) {
		t.Helper()
		resp, err := srv.Client().Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("POST %s = %d", path, resp.StatusCode)
		}
	}

	post("/api/recording/start")
	for backend.LastStream() == nil {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-backend.LastStream().Done():
	case <-ctx.Done():
		t.Fatal("blocks were not delivered")
	}
	post("/api/recording/stop")

	type frame struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	var events []string
	var text string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read after %v: %v", events, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if f.Event == recording.EventStateChanged {
			var s string
			_ = json.Unmarshal(f.Payload, &s)
			events = append(events, s)
			if s == string(recording.StateIdle) {
				break
			}
			continue
		}
		events = append(events, f.Event)
		if f.Event == recording.EventTranscriptionResult {
			var te recording.TranscriptionEvent
			if err := json.Unmarshal(f.Payload, &te); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			text = te.Text
		}
	}

	want := []string{"recording", "processing", recording.EventTranscriptionResult, "idle"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
	if text != "a customer places an order" {
		t.Errorf("text = %q", text)
	}
}
