package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/domainscribe/internal/config"
	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/internal/recording"
	"github.com/MrWong99/domainscribe/internal/resilience"
	"github.com/MrWong99/domainscribe/pkg/audio"
	"github.com/MrWong99/domainscribe/pkg/audio/portaudio"
	"github.com/MrWong99/domainscribe/pkg/provider/llm"
	"github.com/MrWong99/domainscribe/pkg/provider/llm/anyllm"
	"github.com/MrWong99/domainscribe/pkg/provider/llm/openai"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
	"github.com/MrWong99/domainscribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
	"github.com/MrWong99/domainscribe/pkg/provider/vad/energy"
	"github.com/MrWong99/domainscribe/pkg/provider/vad/webrtc"
)

// Providers holds one value per provider slot. Nil means not configured.
type Providers struct {
	Audio       audio.Backend
	Classifiers recording.ClassifierFactory
	STT         stt.Transcriber
	LLM         llm.Provider

	// Closers release provider resources (PortAudio, whisper models).
	Closers []func() error
}

// Close releases every provider resource.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.Closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterBuiltins wires every provider implementation that ships with
// domainscribe into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── Audio ────────────────────────────────────────────────────────────────
	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Backend, error) {
		return portaudio.New()
	})

	// ── VAD ──────────────────────────────────────────────────────────────────
	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (config.ClassifierFactory, error) {
		return func(s vad.Sensitivity) (vad.Classifier, error) { return webrtc.New(s) }, nil
	})
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (config.ClassifierFactory, error) {
		if rms, ok := optFloat(entry.Options, "threshold"); ok {
			return func(vad.Sensitivity) (vad.Classifier, error) { return energy.NewWithThreshold(rms), nil }, nil
		}
		return func(s vad.Sensitivity) (vad.Classifier, error) { return energy.New(s) }, nil
	})

	// ── STT ──────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewNative(entry.Model, opts...)
	})
	reg.RegisterSTT("whisper-server", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithServerLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	// ── LLM ──────────────────────────────────────────────────────────────────
	// Hosted any-llm-go backends share the same pattern: optional APIKey and
	// optional BaseURL. "openai" is served by openai-go below.
	for _, name := range anyllm.Providers {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// "openai" and "external" (any OpenAI-compatible endpoint) use openai-go.
	newOpenAI := func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, openai.WithTimeout(d))
		}
		model := entry.Model
		if model == "" {
			model = optString(entry.Options, "model")
		}
		if model == "" {
			model = defaultOpenAIModel
		}
		return openai.New(entry.APIKey, model, opts...)
	}
	reg.RegisterLLM("openai", newOpenAI)
	reg.RegisterLLM("external", newOpenAI)

	for _, kind := range []string{"audio", "vad", "stt", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// defaultOpenAIModel is used by the OpenAI-compatible providers when no
// model is configured.
const defaultOpenAIModel = "gpt-4o-mini"

// BuildProviders instantiates every provider named in cfg. STT and LLM
// entries with fallbacks are wrapped in a failover group. On error the
// providers created so far are released.
func BuildProviders(cfg *config.Config, reg *config.Registry) (_ *Providers, err error) {
	ps := &Providers{}
	defer func() {
		if err != nil {
			_ = ps.Close()
		}
	}()

	entries := cfg.Providers
	breaker := resilience.BreakerConfig{
		MaxFailures:  entries.Breaker.MaxFailures,
		ResetTimeout: entries.Breaker.ResetTimeout,
	}
	m := observe.DefaultMetrics()

	if ps.Audio, err = reg.CreateAudio(entries.Audio); err != nil {
		return nil, fmt.Errorf("app: create audio provider %q: %w", entries.Audio.Name, err)
	}
	addCloser(ps, ps.Audio)
	slog.Info("provider created", "kind", "audio", "name", entries.Audio.Name)

	// The VAD stage only runs in VAD mode but stays available for a later
	// switch through a config reload.
	factory, err := reg.CreateVAD(entries.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad provider %q: %w", entries.VAD.Name, err)
	}
	ps.Classifiers = recording.ClassifierFactory(factory)
	slog.Info("provider created", "kind", "vad", "name", entries.VAD.Name)

	if ps.STT, err = reg.CreateSTT(entries.STT); err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", entries.STT.Name, err)
	}
	addCloser(ps, ps.STT)
	slog.Info("provider created", "kind", "stt", "name", entries.STT.Name, "model", entries.STT.Model)
	if len(entries.STT.Fallbacks) > 0 {
		g := resilience.NewGroup("stt", entries.STT.Name, ps.STT, breaker)
		for _, fb := range entries.STT.Fallbacks {
			t, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("app: create stt fallback %q: %w", fb.Name, err)
			}
			addCloser(ps, t)
			g.Add(fb.Name, t)
			slog.Info("fallback created", "kind", "stt", "name", fb.Name)
		}
		ps.STT = resilience.NewSTT(g.WithMetrics(m))
	}

	if name := entries.LLM.Name; name != "" {
		p, err := reg.CreateLLM(entries.LLM)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("llm provider not available, model generation disabled", "name", name)
		case err != nil:
			return nil, fmt.Errorf("app: create llm provider %q: %w", name, err)
		default:
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name, "model", entries.LLM.Model)
		}
	}
	if ps.LLM != nil && len(entries.LLM.Fallbacks) > 0 {
		g := resilience.NewGroup("llm", entries.LLM.Name, ps.LLM, breaker)
		for _, fb := range entries.LLM.Fallbacks {
			p, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", fb.Name, err)
			}
			g.Add(fb.Name, p)
			slog.Info("fallback created", "kind", "llm", "name", fb.Name)
		}
		ps.LLM = resilience.NewLLM(g.WithMetrics(m))
	}

	return ps, nil
}

func addCloser(ps *Providers, v any) {
	if c, ok := v.(io.Closer); ok {
		ps.Closers = append(ps.Closers, c.Close)
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// optString extracts a string from a provider Options map. Missing keys and
// non-string values yield "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration extracts a duration string such as "30s".
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	d, err := time.ParseDuration(optString(opts, key))
	return d, err == nil && d > 0
}
