// Package openai provides an LLM provider backed by the OpenAI chat
// completions API or any endpoint that speaks it (vLLM, LM Studio, gateway
// proxies). JSON requests are sent with response_format json_object.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/domainscribe/pkg/provider/llm"
)

// finishLength is the finish reason of a reply cut off by max tokens.
const finishLength = "length"

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider].
type Provider struct {
	client oai.Client
	model  string
}

// Option adjusts the underlying client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request. Model generation on a slow local
// server can take minutes, so there is no default.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a provider for model. apiKey is required; local servers that
// ignore it still need a placeholder.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete sends req and returns the first choice. A reply that stopped at
// the token limit yields [llm.ErrTruncated].
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == finishLength {
		return nil, fmt.Errorf("openai: %s: %w", p.model, llm.ErrTruncated)
	}
	return &llm.Response{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) buildParams(req llm.Request) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}
