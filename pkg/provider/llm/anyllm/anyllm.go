// Package anyllm provides LLM providers for the hosted and local backends
// supported by github.com/mozilla-ai/any-llm-go. A local Ollama is the
// default model backend for domain model generation:
//
//	p, err := anyllm.New("ollama", "llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
//
// Backends here have no uniform response format switch, so [llm.Request.JSON]
// is not forwarded; the generator extracts the JSON object from the reply.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/domainscribe/pkg/provider/llm"
)

type factory func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps lower-case names to constructors. The wrappers adapt each
// package's concrete return type.
var backends = map[string]factory{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Providers lists the backend names accepted by [New], sorted.
var Providers = slices.Sorted(maps.Keys(backends))

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider] over one any-llm-go backend.
type Provider struct {
	name    string
	backend anyllmlib.Provider
	model   string
}

// New returns a provider for the named backend (case-insensitive, one of
// [Providers]). Without an API key option hosted backends read their usual
// environment variable, such as ANTHROPIC_API_KEY.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name = strings.ToLower(name)
	f, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", name, strings.Join(Providers, ", "))
	}
	backend, err := f(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{name: name, backend: backend, model: model}, nil
}

// NewOllama returns a provider for a local Ollama server, by default at
// http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// Name returns the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Model returns the model identifier.
func (p *Provider) Model() string { return p.model }

// Complete sends req and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrEmptyResponse)
	}
	out := &llm.Response{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

func (p *Provider) buildParams(req llm.Request) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != nil {
		t := *req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}
	return params
}
