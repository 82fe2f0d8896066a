package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/domainscribe/internal/config"
	"github.com/MrWong99/domainscribe/pkg/audio"
	audiomock "github.com/MrWong99/domainscribe/pkg/audio/mock"
	"github.com/MrWong99/domainscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/domainscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/domainscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
	vadmock "github.com/MrWong99/domainscribe/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

capture:
  silence_hold_ms: 800
  min_utterance_ms: 0
  output_dir: /tmp/interviews
  vad_sensitivity: very_aggressive
  device_hint: USB Microphone
  static_gain: 1.5
  agc_enabled: false
  agc_target: 0.5
  push_to_talk: false
  stop_timeout: 3s

providers:
  stt:
    name: whisper-server
    base_url: http://localhost:8081
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o

enhance:
  enabled: true
  noise_reduction: 0.5
  highpass: false

transcript:
  glossary: [Customer, Invoice, Order Line]

model:
  language: en
  audience: business
  style: class

tools:
  command: /usr/local/bin/domainscribe
  args: [tools]
`

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func mustLoad(t *testing.T, yaml string, opts ...config.LoadOption) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml), opts...)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}

	sc := cfg.Capture.Session()
	if sc.SilenceHoldMs != 800 || sc.MinUtteranceMs != 0 {
		t.Errorf("hold/min = %d/%d, want 800/0", sc.SilenceHoldMs, sc.MinUtteranceMs)
	}
	if sc.Sensitivity != vad.VeryAggressive {
		t.Errorf("sensitivity = %v, want very_aggressive", sc.Sensitivity)
	}
	if sc.DeviceHint != "USB Microphone" || sc.OutputDir != "/tmp/interviews" {
		t.Errorf("device/output = %q/%q", sc.DeviceHint, sc.OutputDir)
	}
	if sc.AGCEnabled || sc.PushToTalk {
		t.Errorf("explicit false booleans were overwritten: agc=%v ptt=%v", sc.AGCEnabled, sc.PushToTalk)
	}
	if sc.StaticGain != 1.5 || sc.AGCTarget != 0.5 || sc.StopTimeout != 3*time.Second {
		t.Errorf("gain/target/timeout = %v/%v/%v", sc.StaticGain, sc.AGCTarget, sc.StopTimeout)
	}

	if cfg.Providers.STT.Name != "whisper-server" || cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	// Untouched providers get defaults.
	if cfg.Providers.Audio.Name != config.DefaultAudio || cfg.Providers.VAD.Name != config.DefaultVAD {
		t.Errorf("audio/vad = %q/%q", cfg.Providers.Audio.Name, cfg.Providers.VAD.Name)
	}

	ec := cfg.Enhance.Filters()
	if !cfg.Enhance.Enabled || ec.Highpass || !ec.Normalize || ec.NoiseReduction != 0.5 || ec.Binary != "ffmpeg" {
		t.Errorf("enhance = %+v (enabled %v)", ec, cfg.Enhance.Enabled)
	}

	if !slices.Equal(cfg.Transcript.Glossary, []string{"Customer", "Invoice", "Order Line"}) || !cfg.Transcript.Enabled() {
		t.Errorf("glossary = %v", cfg.Transcript.Glossary)
	}
	if cfg.Model.Audience != "business" || cfg.Model.Style != "class" || cfg.Model.Language != "en" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Tools.Command != "/usr/local/bin/domainscribe" || !slices.Equal(cfg.Tools.Args, []string{"tools"}) {
		t.Errorf("tools = %+v", cfg.Tools)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	want := config.Default()
	if cfg.Server != want.Server {
		t.Errorf("server = %+v, want %+v", cfg.Server, want.Server)
	}
	sc := cfg.Capture.Session()
	if sc.SilenceHoldMs != 1000 || sc.MinUtteranceMs != 300 || sc.StaticGain != 2.0 ||
		!sc.AGCEnabled || sc.AGCTarget != 0.3 || !sc.PushToTalk || sc.Sensitivity != vad.Aggressive {
		t.Errorf("capture defaults = %+v", sc)
	}
	if sc.OutputDir == "" {
		t.Error("output dir default is empty")
	}
	if cfg.Providers.STT.Model != config.DefaultWhisperModel {
		t.Errorf("stt model = %q, want %q", cfg.Providers.STT.Model, config.DefaultWhisperModel)
	}
	llmEntry := cfg.Providers.LLM
	if llmEntry.Name != "ollama" || llmEntry.BaseURL != config.DefaultOllamaURL || llmEntry.Model != config.DefaultOllamaModel {
		t.Errorf("llm = %+v", llmEntry)
	}
	if cfg.Enhance.Enabled {
		t.Error("enhancement enabled by default")
	}
	if f := cfg.Enhance.Filters(); f.NoiseReduction != 0.21 || !f.Highpass || !f.Normalize {
		t.Errorf("enhance defaults = %+v", f)
	}
	if cfg.Model.Language != "fr" || cfg.Model.Temperature != 0.7 || cfg.Model.MaxTokens != 4096 {
		t.Errorf("model defaults = %+v", cfg.Model)
	}
	if cfg.Transcript.Enabled() {
		t.Error("transcript correction enabled without a glossary")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
}

// ── Environment ──────────────────────────────────────────────────────────────

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		env   map[string]string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "whisper model and tool server",
			env:  map[string]string{config.EnvWhisperModel: "/models/large.bin", config.EnvToolServer: "/bin/tools"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.STT.Name != "whisper-native" || cfg.Providers.STT.Model != "/models/large.bin" {
					t.Errorf("stt = %+v", cfg.Providers.STT)
				}
				if cfg.Tools.Command != "/bin/tools" {
					t.Errorf("tools.command = %q", cfg.Tools.Command)
				}
			},
		},
		{
			name: "whisper model ignored for the server transcriber",
			yaml: "providers:\n  stt:\n    name: whisper-server\n    base_url: http://h:1\n",
			env:  map[string]string{config.EnvWhisperModel: "/models/large.bin"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.STT.Model != "" {
					t.Errorf("stt.model = %q, want empty", cfg.Providers.STT.Model)
				}
			},
		},
		{
			name: "ollama overrides",
			env:  map[string]string{config.EnvOllamaURL: "http://gpu:11434", config.EnvOllamaModel: "domain-model-mistral"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.LLM.BaseURL != "http://gpu:11434" || cfg.Providers.LLM.Model != "domain-model-mistral" {
					t.Errorf("llm = %+v", cfg.Providers.LLM)
				}
			},
		},
		{
			name: "external provider",
			env: map[string]string{
				config.EnvLLMProvider: "External",
				config.EnvLLMAPIKey:   "sk-env",
				config.EnvLLMEndpoint: "https://llm.example.com/v1",
				config.EnvOllamaModel: "ignored",
			},
			check: func(t *testing.T, cfg *config.Config) {
				l := cfg.Providers.LLM
				if l.Name != "external" || l.APIKey != "sk-env" || l.BaseURL != "https://llm.example.com/v1" || l.Model != "" {
					t.Errorf("llm = %+v", l)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.check(t, mustLoad(t, tc.yaml, config.WithEnv(envMap(tc.env))))
		})
	}
}

func TestExternalProviderNeedsCredentials(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""),
		config.WithEnv(envMap(map[string]string{config.EnvLLMProvider: "external"})))
	if err == nil {
		t.Fatal("expected an error for external provider without key and endpoint")
	}
	for _, want := range []string{"providers.llm.api_key", "providers.llm.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"listen addr", "server:\n  listen_addr: nope\n", "server.listen_addr"},
		{"negative hold", "capture:\n  silence_hold_ms: -1\n", "capture.silence_hold_ms"},
		{"agc target", "capture:\n  agc_target: 1.5\n", "capture.agc_target"},
		{"static gain", "capture:\n  static_gain: -2\n", "capture.static_gain"},
		{"sensitivity", "capture:\n  vad_sensitivity: loud\n", "sensitivity"},
		{"noise reduction", "enhance:\n  noise_reduction: 2\n", "enhance.noise_reduction"},
		{"audience", "model:\n  audience: marketing\n", "model.audience"},
		{"style", "model:\n  style: uml\n", "model.style"},
		{"language", "model:\n  language: de\n", "model.language"},
		{"base url", "providers:\n  llm:\n    base_url: '::'\n", "providers.llm.base_url"},
		{"whisper server url", "providers:\n  stt:\n    name: whisper-server\n", "providers.stt.base_url"},
		{"empty glossary term", "transcript:\n  glossary: [Customer, ' ']\n", "transcript.glossary[1]"},
		{"stt fallback url", "providers:\n  stt:\n    fallbacks:\n      - name: whisper-server\n", "providers.stt.fallbacks[0].base_url"},
		{"llm fallback key", "providers:\n  llm:\n    fallbacks:\n      - name: external\n        base_url: http://x/v1\n", "providers.llm.fallbacks[0].api_key"},
		{"audio fallback", "providers:\n  audio:\n    fallbacks:\n      - name: portaudio\n", "providers.audio.fallbacks"},
		{"breaker failures", "providers:\n  breaker:\n    max_failures: -1\n", "providers.breaker.max_failures"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected an error mentioning %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nmodel:\n  style: uml\n"))
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "model.style"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q is missing %q", err, want)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"audio", "vad", "stt", "llm"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known providers for %q", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["llm"], config.DefaultLLM) {
		t.Error("default llm provider is not listed")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	_, errAudio := reg.CreateAudio(entry)
	_, errVAD := reg.CreateVAD(entry)
	_, errSTT := reg.CreateSTT(entry)
	_, errLLM := reg.CreateLLM(entry)
	for kind, err := range map[string]error{"audio": errAudio, "vad": errVAD, "stt": errSTT, "llm": errLLM} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: error = %v, want ErrProviderNotRegistered", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	backend := &audiomock.Backend{}
	tr := &sttmock.Transcriber{Default: sttmock.Reply{Text: "hi"}}
	prov := &llmmock.Provider{Responses: []string{"{}"}}
	var gotEntry config.ProviderEntry

	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Backend, error) { return backend, nil })
	reg.RegisterVAD("mock", func(config.ProviderEntry) (config.ClassifierFactory, error) {
		return func(vad.Sensitivity) (vad.Classifier, error) { return vadmock.Amplitude(10), nil }, nil
	})
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Transcriber, error) {
		gotEntry = e
		return tr, nil
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return prov, nil })

	if b, err := reg.CreateAudio(config.ProviderEntry{Name: "mock"}); err != nil || b != backend {
		t.Errorf("CreateAudio = %v, %v", b, err)
	}
	factory, err := reg.CreateVAD(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if c, err := factory(vad.Aggressive); err != nil || c == nil {
		t.Errorf("classifier factory = %v, %v", c, err)
	}
	s, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "m.bin"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if gotEntry.Model != "m.bin" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if res, err := s.Transcribe(context.Background(), "x.wav"); err != nil || res.Text != "hi" {
		t.Errorf("Transcribe = %+v, %v", res, err)
	}
	if p, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil || p != prov {
		t.Errorf("CreateLLM = %v, %v", p, err)
	}
	if got := reg.Names("stt"); !slices.Equal(got, []string{"mock"}) {
		t.Errorf("Names(stt) = %v", got)
	}
	if got := reg.Names("tts"); got != nil {
		t.Errorf("Names(tts) = %v, want nil", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("model missing")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Transcriber, error) { return nil, boom })

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}
