// Package server exposes the recording manager and the documentation
// pipeline over a local HTTP API, with a websocket stream of manager events.
//
// Routes:
//
//	GET  /api/devices           input devices and the selected one
//	GET  /api/state             manager state
//	POST /api/recording/start   start a session
//	POST /api/recording/stop    stop the running session
//	PUT  /api/device            select the device for the next session
//	POST /api/model             generate and render a domain model
//	GET  /api/events            websocket event stream
//	GET  /healthz, /readyz      liveness and readiness
//	GET  /metrics               Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/domainscribe/internal/capture"
	"github.com/MrWong99/domainscribe/internal/health"
	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/internal/orchestrate"
	"github.com/MrWong99/domainscribe/internal/recording"
	"github.com/MrWong99/domainscribe/pkg/audio"
)

const (
	maxBodyBytes    = 4 << 20
	shutdownTimeout = 5 * time.Second
)

// Recorder is the part of [recording.Manager] the API drives.
type Recorder interface {
	State() recording.State
	SelectedDevice() string
	Devices() ([]audio.DeviceInfo, error)
	StartRecording(ctx context.Context) error
	StopRecording() error
	SetDevice(name string) error
}

// Documenter turns a transcript into a documented domain model.
type Documenter interface {
	Run(ctx context.Context, transcript string) (*orchestrate.Result, error)
}

var (
	_ Recorder   = (*recording.Manager)(nil)
	_ Documenter = (*orchestrate.Orchestrator)(nil)
)

// Server serves the control API.
type Server struct {
	rec     Recorder
	doc     Documenter
	hub     *Hub
	health  *health.Handler
	metrics *observe.Metrics
	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithDocumenter enables POST /api/model.
func WithDocumenter(d Documenter) Option {
	return func(s *Server) { s.doc = d }
}

// WithHub sets the event hub served on /api/events. The hub must also be
// registered as the manager's event sink.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithHealth sets the readiness checks. By default /readyz has none.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the API around rec.
func New(rec Recorder, opts ...Option) *Server {
	s := &Server{rec: rec}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub(0)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/recording/start", s.handleStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleStop)
	mux.HandleFunc("PUT /api/device", s.handleSetDevice)
	mux.HandleFunc("POST /api/model", s.handleModel)
	mux.Handle("GET /api/events", s.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and disconnects websocket subscribers.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("control server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.hub.Close()
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type devicesResponse struct {
	Devices  []audio.DeviceInfo `json:"devices"`
	Selected string             `json:"selected"`
}

type stateResponse struct {
	State  recording.State `json:"state"`
	Device string          `json:"device"`
}

// Request bodies are trimmed, then checked against their validate tags.
type deviceRequest struct {
	Name string `json:"name" validate:"max=256"`
}

type modelRequest struct {
	Transcript string `json:"transcript" validate:"required,max=1048576"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devs, err := s.rec.Devices()
	if err != nil {
		writeError(w, err)
		return
	}
	if devs == nil {
		devs = []audio.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devs, Selected: s.rec.SelectedDevice()})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.StartRecording(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.state())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.rec.StopRecording(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.state())
}

func (s *Server) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := check(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.rec.SetDevice(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if s.doc == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "model generation is not configured"})
		return
	}
	var req modelRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.Transcript = strings.TrimSpace(req.Transcript)
	if err := check(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	res, err := s.doc.Run(r.Context(), req.Transcript)
	if err != nil {
		observe.Logger(r.Context()).Error("model generation failed", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) state() stateResponse {
	return stateResponse{State: s.rec.State(), Device: s.rec.SelectedDevice()}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// check validates a decoded request body. Failures read "transcript:
// required" or "name: max=256".
func check(v any) error {
	err := validate.Struct(v)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fe.Field() + ": " + fe.Tag()
		if fe.Param() != "" {
			msgs[i] += "=" + fe.Param()
		}
	}
	return fmt.Errorf("invalid request: %s", strings.Join(msgs, ", "))
}

// statusFor maps manager errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recording.ErrState):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
