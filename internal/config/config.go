// Package config provides the configuration schema, loader, and provider
// registry for domainscribe.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/domainscribe/internal/capture"
	"github.com/MrWong99/domainscribe/internal/enhance"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = "127.0.0.1:7070"
	DefaultAudio        = "portaudio"
	DefaultVAD          = "webrtc"
	DefaultSTT          = "whisper-native"
	DefaultWhisperModel = "models/ggml-base.en.bin"
	DefaultLLM          = "ollama"
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultOllamaModel  = "llama2"
	DefaultLanguage     = "fr"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 4096
	DefaultAudience     = "technical"
	DefaultStyle        = "er"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Capture    CaptureConfig    `yaml:"capture"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Enhance    EnhanceConfig    `yaml:"enhance"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Model      ModelConfig      `yaml:"model"`
	Tools      ToolsConfig      `yaml:"tools"`
}

// ServerConfig holds the control server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API.
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// CaptureConfig is the YAML form of [capture.Config].
type CaptureConfig struct {
	SilenceHoldMs  *int             `yaml:"silence_hold_ms" validate:"omitempty,gte=0"`
	MinUtteranceMs *int             `yaml:"min_utterance_ms" validate:"omitempty,gte=0"`
	OutputDir      string           `yaml:"output_dir"`
	Sensitivity    *vad.Sensitivity `yaml:"vad_sensitivity"`
	DeviceHint     string           `yaml:"device_hint"`
	StaticGain     float32          `yaml:"static_gain" validate:"gt=0"`
	AGCEnabled     *bool            `yaml:"agc_enabled"`
	AGCTarget      float32          `yaml:"agc_target" validate:"gt=0,lte=1"`
	PushToTalk     *bool            `yaml:"push_to_talk"`
	StopTimeout    time.Duration    `yaml:"stop_timeout" validate:"gte=0"`
}

// Session converts c to a capture configuration. Call [ApplyDefaults] first.
func (c CaptureConfig) Session() capture.Config {
	d := capture.DefaultConfig()
	return capture.Config{
		SilenceHoldMs:  deref(c.SilenceHoldMs, d.SilenceHoldMs),
		MinUtteranceMs: deref(c.MinUtteranceMs, d.MinUtteranceMs),
		OutputDir:      c.OutputDir,
		Sensitivity:    deref(c.Sensitivity, d.Sensitivity),
		DeviceHint:     c.DeviceHint,
		StaticGain:     c.StaticGain,
		AGCEnabled:     deref(c.AGCEnabled, d.AGCEnabled),
		AGCTarget:      c.AGCTarget,
		PushToTalk:     deref(c.PushToTalk, d.PushToTalk),
		StopTimeout:    c.StopTimeout,
	}
}

// ProvidersConfig selects the implementation of each pluggable stage. Each
// entry is looked up by name in the [Registry].
type ProvidersConfig struct {
	Audio ProviderEntry `yaml:"audio"`
	VAD   ProviderEntry `yaml:"vad"`
	STT   ProviderEntry `yaml:"stt"`
	LLM   ProviderEntry `yaml:"llm"`

	// Breaker tunes the circuit breakers guarding STT and LLM fallbacks.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes failover between a provider and its fallbacks.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures after which a
	// provider is skipped. Default: 3.
	MaxFailures int `yaml:"max_failures" validate:"gte=0"`

	// ResetTimeout is how long a failing provider is skipped before it is
	// probed again. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout" validate:"gte=0"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "whisper-native").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Model selects a model. For whisper-native it is the model file path.
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Only STT and
	// LLM entries support them.
	Fallbacks []ProviderEntry `yaml:"fallbacks" validate:"dive"`
}

// EnhanceConfig is the YAML form of [enhance.Config].
type EnhanceConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Binary         string  `yaml:"binary"`
	NoiseReduction float64 `yaml:"noise_reduction" validate:"gte=0,lte=1"`
	Highpass       *bool   `yaml:"highpass"`
	Normalize      *bool   `yaml:"normalize"`
}

// Filters converts e to an enhancer configuration.
func (e EnhanceConfig) Filters() enhance.Config {
	d := enhance.DefaultConfig()
	return enhance.Config{
		Binary:         e.Binary,
		NoiseReduction: e.NoiseReduction,
		Highpass:       deref(e.Highpass, d.Highpass),
		Normalize:      deref(e.Normalize, d.Normalize),
	}
}

// TranscriptConfig configures glossary correction of transcripts.
type TranscriptConfig struct {
	// Glossary lists domain terms recognised in transcripts.
	Glossary []string `yaml:"glossary"`

	// GlossaryModel is an optional domain model JSON file whose entity and
	// relation names are added to the glossary.
	GlossaryModel string `yaml:"glossary_model"`

	PhoneticThreshold float64 `yaml:"phonetic_threshold" validate:"gte=0,lte=1"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold" validate:"gte=0,lte=1"`
}

// Enabled reports whether any glossary source is configured.
func (t TranscriptConfig) Enabled() bool {
	return len(t.Glossary) > 0 || t.GlossaryModel != ""
}

// ModelConfig configures domain model generation and rendering.
type ModelConfig struct {
	Language    string  `yaml:"language" validate:"omitempty,oneof=en fr EN FR"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	Audience    string  `yaml:"audience" validate:"omitempty,oneof=technical business"`
	Style       string  `yaml:"style" validate:"omitempty,oneof=er class"`
}

// ToolsConfig selects how the domain model tools are reached.
type ToolsConfig struct {
	// Command is the tool server executable. Empty serves the tools in
	// process.
	Command string `yaml:"command"`

	// Args are passed to Command.
	Args []string `yaml:"args"`

	// Env is appended to the tool server's environment as KEY=VALUE.
	Env []string `yaml:"env"`
}

// ApplyDefaults fills every unset field with its documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	cd := capture.DefaultConfig()
	c := &cfg.Capture
	if c.SilenceHoldMs == nil {
		c.SilenceHoldMs = ptr(cd.SilenceHoldMs)
	}
	if c.MinUtteranceMs == nil {
		c.MinUtteranceMs = ptr(cd.MinUtteranceMs)
	}
	if c.Sensitivity == nil {
		c.Sensitivity = ptr(cd.Sensitivity)
	}
	if c.OutputDir == "" {
		c.OutputDir = defaultOutputDir()
	}
	if c.StaticGain == 0 {
		c.StaticGain = cd.StaticGain
	}
	if c.AGCEnabled == nil {
		c.AGCEnabled = ptr(cd.AGCEnabled)
	}
	if c.AGCTarget == 0 {
		c.AGCTarget = cd.AGCTarget
	}
	if c.PushToTalk == nil {
		c.PushToTalk = ptr(cd.PushToTalk)
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = cd.StopTimeout
	}

	p := &cfg.Providers
	if p.Audio.Name == "" {
		p.Audio.Name = DefaultAudio
	}
	if p.VAD.Name == "" {
		p.VAD.Name = DefaultVAD
	}
	if p.STT.Name == "" {
		p.STT.Name = DefaultSTT
	}
	if p.STT.Name == DefaultSTT && p.STT.Model == "" {
		p.STT.Model = DefaultWhisperModel
	}
	if p.LLM.Name == "" {
		p.LLM.Name = DefaultLLM
	}
	if p.LLM.Name == DefaultLLM {
		if p.LLM.BaseURL == "" {
			p.LLM.BaseURL = DefaultOllamaURL
		}
		if p.LLM.Model == "" {
			p.LLM.Model = DefaultOllamaModel
		}
	}

	ed := enhance.DefaultConfig()
	if cfg.Enhance.Binary == "" {
		cfg.Enhance.Binary = ed.Binary
	}
	if cfg.Enhance.NoiseReduction == 0 {
		cfg.Enhance.NoiseReduction = ed.NoiseReduction
	}
	if cfg.Enhance.Highpass == nil {
		cfg.Enhance.Highpass = ptr(ed.Highpass)
	}
	if cfg.Enhance.Normalize == nil {
		cfg.Enhance.Normalize = ptr(ed.Normalize)
	}

	if cfg.Transcript.PhoneticThreshold == 0 {
		cfg.Transcript.PhoneticThreshold = 0.85
	}
	if cfg.Transcript.FuzzyThreshold == 0 {
		cfg.Transcript.FuzzyThreshold = 0.92
	}

	m := &cfg.Model
	if m.Language == "" {
		m.Language = DefaultLanguage
	}
	if m.Temperature == 0 {
		m.Temperature = DefaultTemperature
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = DefaultMaxTokens
	}
	if m.Audience == "" {
		m.Audience = DefaultAudience
	}
	if m.Style == "" {
		m.Style = DefaultStyle
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// defaultOutputDir is $HOME/domainscribe/recordings, falling back to the
// temporary directory when no home directory is known.
func defaultOutputDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "domainscribe", "recordings")
	}
	return filepath.Join(os.TempDir(), "domainscribe")
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
