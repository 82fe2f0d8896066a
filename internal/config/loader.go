package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio"},
	"vad":   {"webrtc", "energy"},
	"stt":   {"whisper-native", "whisper-server"},
	"llm":   {"ollama", "openai", "external", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Environment variables honoured by [ApplyEnv].
const (
	EnvWhisperModel = "WHISPER_MODEL_PATH"
	EnvToolServer   = "MCP_SERVER_PATH"
	EnvLLMProvider  = "LLM_PROVIDER"
	EnvOllamaURL    = "OLLAMA_BASE_URL"
	EnvOllamaModel  = "OLLAMA_MODEL"
	EnvLLMAPIKey    = "LLM_API_KEY"
	EnvLLMEndpoint  = "LLM_ENDPOINT"
)

// LoadOption configures [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	getenv func(string) string
}

// WithEnv applies environment overrides looked up through getenv.
func WithEnv(getenv func(string) string) LoadOption {
	return func(o *loadOptions) { o.getenv = getenv }
}

// Load reads the YAML configuration file at path, applies the process
// environment and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, WithEnv(os.Getenv))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies overrides and
// defaults, and validates the result. Unknown keys are rejected. An empty
// document yields the defaults.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if o.getenv != nil {
		ApplyEnv(cfg, o.getenv)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables understood by the
// desktop tooling. Unset variables leave cfg unchanged.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvWhisperModel); v != "" {
		if cfg.Providers.STT.Name == "" {
			cfg.Providers.STT.Name = DefaultSTT
		}
		if cfg.Providers.STT.Name == DefaultSTT {
			cfg.Providers.STT.Model = v
		}
	}
	if v := getenv(EnvToolServer); v != "" {
		cfg.Tools.Command = v
	}
	if v := getenv(EnvLLMProvider); v != "" {
		cfg.Providers.LLM.Name = strings.ToLower(v)
	}

	llm := &cfg.Providers.LLM
	if llm.Name == "" || llm.Name == DefaultLLM {
		if v := getenv(EnvOllamaURL); v != "" {
			llm.BaseURL = v
		}
		if v := getenv(EnvOllamaModel); v != "" {
			llm.Model = v
		}
		return
	}
	if v := getenv(EnvLLMAPIKey); v != "" {
		llm.APIKey = v
	}
	if v := getenv(EnvLLMEndpoint); v != "" {
		llm.BaseURL = v
	}
}

var (
	validateOnce sync.Once
	structValid  *validator.Validate
)

// validate returns the shared validator. Field names in its errors are the
// YAML keys.
func validate() *validator.Validate {
	validateOnce.Do(func() {
		structValid = validator.New(validator.WithRequiredStructEnabled())
		structValid.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return structValid
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	if s := cfg.Capture.Sensitivity; s != nil && !s.Valid() {
		errs = append(errs, fmt.Errorf("capture.vad_sensitivity %d is invalid", int(*s)))
	}

	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if len(cfg.Providers.Audio.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.audio.fallbacks is not supported"))
	}
	if len(cfg.Providers.VAD.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.vad.fallbacks is not supported"))
	}

	errs = append(errs, validateSTT("providers.stt", cfg.Providers.STT)...)
	for i, fb := range cfg.Providers.STT.Fallbacks {
		errs = append(errs, validateSTT(fmt.Sprintf("providers.stt.fallbacks[%d]", i), fb)...)
	}
	errs = append(errs, validateLLM("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLM.Fallbacks {
		errs = append(errs, validateLLM(fmt.Sprintf("providers.llm.fallbacks[%d]", i), fb)...)
	}

	for i, term := range cfg.Transcript.Glossary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("transcript.glossary[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

func validateSTT(path string, e ProviderEntry) []error {
	validateProviderName("stt", e.Name)
	switch e.Name {
	case "whisper-native":
		if e.Model == "" {
			return []error{fmt.Errorf("%s.model (model file path) is required for whisper-native; set it or %s", path, EnvWhisperModel)}
		}
	case "whisper-server":
		if e.BaseURL == "" {
			return []error{fmt.Errorf("%s.base_url is required for whisper-server", path)}
		}
	}
	return nil
}

func validateLLM(path string, e ProviderEntry) []error {
	validateProviderName("llm", e.Name)
	var errs []error
	switch e.Name {
	case "external":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for the external provider; set it or %s", path, EnvLLMAPIKey))
		}
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for the external provider; set it or %s", path, EnvLLMEndpoint))
		}
	case "", "ollama", "llamacpp", "llamafile":
	default:
		if e.APIKey == "" {
			slog.Warn(path+".api_key is empty; the provider may fall back to its own environment variable", "provider", e.Name)
		}
	}
	return errs
}

// fieldError renders a validator failure with the YAML path of the field.
func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "oneof":
		return fmt.Errorf("%s %q is invalid; valid values: %s", path, fmt.Sprint(fe.Value()), fe.Param())
	case "gt", "gte", "lt", "lte":
		return fmt.Errorf("%s %v must be %s %s", path, fe.Value(), opSymbol(fe.Tag()), fe.Param())
	case "url":
		return fmt.Errorf("%s %q is not a valid URL", path, fmt.Sprint(fe.Value()))
	case "hostname_port":
		return fmt.Errorf("%s %q must be host:port", path, fmt.Sprint(fe.Value()))
	}
	return fmt.Errorf("%s failed %q validation", path, fe.Tag())
}

func opSymbol(tag string) string {
	switch tag {
	case "gt":
		return ">"
	case "gte":
		return ">="
	case "lt":
		return "<"
	}
	return "<="
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
