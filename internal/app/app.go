// Package app wires the domainscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Serve runs the control server, ApplyConfig applies hot
// reloads, and Shutdown tears everything down in order.
//
// For testing, inject doubles through the [Providers] struct and functional
// options (WithSink, WithRenderer, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/domainscribe/internal/capture"
	"github.com/MrWong99/domainscribe/internal/config"
	"github.com/MrWong99/domainscribe/internal/enhance"
	"github.com/MrWong99/domainscribe/internal/health"
	"github.com/MrWong99/domainscribe/internal/modelgen"
	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/internal/orchestrate"
	"github.com/MrWong99/domainscribe/internal/recording"
	"github.com/MrWong99/domainscribe/internal/server"
	"github.com/MrWong99/domainscribe/internal/tools"
	"github.com/MrWong99/domainscribe/internal/transcript"
	"github.com/MrWong99/domainscribe/pkg/domain"
	"github.com/MrWong99/domainscribe/pkg/provider/llm"
)

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar

	manager  *recording.Manager
	hub      *server.Hub
	server   *server.Server
	orch     *orchestrate.Orchestrator
	renderer orchestrate.Renderer
	sinks    []recording.EventSink
	sessOpts []capture.Option

	mu  sync.Mutex
	cfg *config.Config

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSink adds an event sink next to the log and websocket sinks.
func WithSink(s recording.EventSink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel lets ApplyConfig change the log level of the running process.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithRenderer injects the model renderer instead of connecting to the tool
// server.
func WithRenderer(r orchestrate.Renderer) Option {
	return func(a *App) { a.renderer = r }
}

// WithSessionOptions passes extra options to every capture session.
func WithSessionOptions(opts ...capture.Option) Option {
	return func(a *App) { a.sessOpts = append(a.sessOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires every subsystem from cfg and providers. Providers.Audio,
// Providers.STT and, in VAD mode, Providers.Classifiers are required.
// Without Providers.LLM model generation is disabled.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript corrector ──────────────────────────────────────────
	corrector, err := BuildCorrector(cfg.Transcript)
	if err != nil {
		return nil, fmt.Errorf("app: init glossary: %w", err)
	}

	// ── 2. Enhancer ──────────────────────────────────────────────────────
	var enhancer recording.Enhancer
	if cfg.Enhance.Enabled {
		e, err := enhance.New(cfg.Enhance.Filters())
		switch {
		case errors.Is(err, enhance.ErrNotFound):
			slog.Warn("audio enhancement disabled", "err", err)
		case err != nil:
			return nil, fmt.Errorf("app: init enhancer: %w", err)
		default:
			enhancer = e.WithMetrics(a.metrics)
		}
	}

	// ── 3. Documentation pipeline ────────────────────────────────────────
	if err := a.initDocumenter(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init documenter: %w", err)
	}

	// ── 4. Recording manager ─────────────────────────────────────────────
	a.hub = server.NewHub(0)
	sink := recording.MultiSink{recording.LogSink{}, a.hub}
	sink = append(sink, a.sinks...)

	rc := recording.Config{
		Capture:         cfg.Capture.Session(),
		Backend:         providers.Audio,
		Classifiers:     providers.Classifiers,
		Transcriber:     providers.STT,
		TranscriberName: cfg.Providers.STT.Name,
		Sink:            sink,
		Metrics:         a.metrics,
		SessionOptions:  a.sessOpts,
	}
	if enhancer != nil {
		rc.Enhancer = enhancer
	}
	if corrector != nil {
		rc.Corrector = corrector
	}
	if a.manager, err = recording.New(rc); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recording: %w", err)
	}

	// ── 5. Control server ────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithHub(a.hub),
		server.WithHealth(health.New(a.checkers(cfg)...)),
		server.WithMetrics(a.metrics),
	}
	if a.orch != nil {
		srvOpts = append(srvOpts, server.WithDocumenter(a.orch))
	}
	a.server = server.New(a.manager, srvOpts...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDocumenter builds the documentation pipeline when an LLM is configured.
func (a *App) initDocumenter(ctx context.Context) error {
	if a.providers.LLM == nil {
		slog.Info("no llm provider configured, model generation disabled")
		return nil
	}
	orch, closer, err := NewDocumenter(ctx, a.cfg, a.providers.LLM, a.metrics, a.renderer)
	if err != nil {
		return err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.orch = orch
	return nil
}

// NewDocumenter builds the generator and renderer pipeline for cfg. A nil
// renderer connects to the configured tool server command, or serves the
// tools in process when none is set. The returned closer, if non-nil,
// disconnects from the tool server.
func NewDocumenter(ctx context.Context, cfg *config.Config, p llm.Provider, m *observe.Metrics, renderer orchestrate.Renderer) (*orchestrate.Orchestrator, func() error, error) {
	gen := NewGenerator(cfg, p, m)

	var closer func() error
	if renderer == nil {
		var (
			c   *tools.Client
			err error
		)
		if cfg.Tools.Command != "" {
			c, err = tools.Dial(ctx, tools.DialConfig{
				Command: cfg.Tools.Command,
				Args:    cfg.Tools.Args,
				Env:     cfg.Tools.Env,
			})
		} else {
			c, err = tools.ConnectInProcess(ctx, tools.NewServer(
				tools.WithGenerator(gen),
				tools.WithServerMetrics(m),
			))
		}
		if err != nil {
			return nil, nil, err
		}
		closer = c.Close
		renderer = c.WithMetrics(m)
	}

	orch := orchestrate.New(gen, renderer,
		orchestrate.WithAudience(cfg.Model.Audience),
		orchestrate.WithStyle(cfg.Model.Style),
	)
	return orch, closer, nil
}

// NewGenerator builds the domain model generator configured by cfg.Model.
func NewGenerator(cfg *config.Config, p llm.Provider, m *observe.Metrics) *modelgen.Generator {
	return modelgen.New(p,
		modelgen.WithLanguage(cfg.Model.Language),
		modelgen.WithTemperature(cfg.Model.Temperature),
		modelgen.WithMaxTokens(cfg.Model.MaxTokens),
		modelgen.WithProviderName(cfg.Providers.LLM.Name),
		modelgen.WithMetrics(m),
	)
}

// BuildCorrector returns the transcript corrector for tc, or nil when no
// glossary is configured.
func BuildCorrector(tc config.TranscriptConfig) (*transcript.Corrector, error) {
	if !tc.Enabled() {
		return nil, nil
	}
	terms := append([]string(nil), tc.Glossary...)
	if tc.GlossaryModel != "" {
		f, err := os.Open(tc.GlossaryModel)
		if err != nil {
			return nil, fmt.Errorf("open glossary model: %w", err)
		}
		defer f.Close()
		m, err := domain.Decode(f, false)
		if err != nil {
			return nil, fmt.Errorf("decode glossary model %q: %w", tc.GlossaryModel, err)
		}
		terms = append(terms, transcript.TermsFromModel(m)...)
	}
	c := transcript.New(terms,
		transcript.WithPhoneticThreshold(tc.PhoneticThreshold),
		transcript.WithFuzzyThreshold(tc.FuzzyThreshold),
	)
	slog.Info("transcript glossary loaded", "terms", c.Glossary().Len())
	return c, nil
}

// checkers returns the readiness checks for the configured providers.
func (a *App) checkers(cfg *config.Config) []health.Checker {
	out := []health.Checker{health.DeviceChecker(a.providers.Audio)}

	switch stt := cfg.Providers.STT; stt.Name {
	case "whisper-native":
		out = append(out, health.FileChecker("stt", stt.Model))
	case "whisper-server":
		out = append(out, health.HTTPChecker("stt", stt.BaseURL, nil))
	}
	if cfg.Enhance.Enabled {
		c := health.BinaryChecker("enhance", cfg.Enhance.Filters().Binary)
		c.Optional = true
		out = append(out, c)
	}
	if a.providers.LLM != nil && cfg.Providers.LLM.Name == "ollama" {
		out = append(out, health.HTTPChecker("llm", cfg.Providers.LLM.BaseURL, nil))
	}
	return out
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Manager returns the recording manager.
func (a *App) Manager() *recording.Manager { return a.manager }

// Server returns the control server.
func (a *App) Server() *server.Server { return a.server }

// Documenter returns the documentation pipeline, or nil without an LLM.
func (a *App) Documenter() *orchestrate.Orchestrator { return a.orch }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Serve runs the control server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	return a.server.ListenAndServe(ctx, a.Config().Server.ListenAddr)
}

// ApplyConfig applies the hot-reloadable differences between old and cur.
// It has the signature expected by [config.NewWatcher].
func (a *App) ApplyConfig(old, cur *config.Config) {
	d := config.Diff(old, cur)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CaptureChanged {
		if err := a.manager.UpdateCapture(cur.Capture.Session()); err != nil {
			slog.Warn("capture settings not applied", "err", err)
		} else {
			slog.Info("capture settings apply to the next recording")
		}
	}
	if d.GlossaryChanged {
		c, err := BuildCorrector(cur.Transcript)
		switch {
		case err != nil:
			slog.Warn("glossary not reloaded", "err", err)
		case c == nil:
			a.manager.SetCorrector(nil)
		default:
			a.manager.SetCorrector(c)
		}
	}
	if d.RenderChanged && a.orch != nil {
		a.orch.SetDefaults(cur.Model.Audience, cur.Model.Style)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = cur
	a.mu.Unlock()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops a running recording, waits for pending transcriptions, and
// closes the tool connection. If ctx expires first, the remaining closers are
// skipped and the context error is returned. Providers are owned by the
// caller.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Close(ctx); err != nil {
			shutdownErr = err
			slog.Warn("shutdown deadline exceeded while processing utterances", "err", err)
			return
		}
		a.hub.Close()

		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// LevelFor converts a config log level to its slog level.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
