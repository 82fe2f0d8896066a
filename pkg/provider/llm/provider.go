// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local model API (a local Ollama instance by
// default, or any OpenAI-compatible endpoint) and exposes a single blocking
// completion call. The domain model generator is its only consumer; it needs
// the full reply before it can extract JSON, so there is no streaming API.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmptyResponse is returned when the backend answers without any choices.
	ErrEmptyResponse = errors.New("llm: empty choices in response")

	// ErrTruncated is returned when the reply stopped at the token limit. A
	// truncated JSON document is never worth parsing.
	ErrTruncated = errors.New("llm: reply truncated at token limit")
)

// Message is a single turn in the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything the LLM needs to produce a response. At minimum
// Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional instruction placed before Messages as a
	// system-role message.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Temperature controls output randomness. Nil uses the backend default;
	// a pointer is needed because 0 is a meaningful value (greedy decoding).
	Temperature *float64

	// MaxTokens caps the number of completion tokens. Zero means backend
	// default.
	MaxTokens int

	// JSON asks for a reply that is a single JSON object. Backends without a
	// response format switch ignore it.
	JSON bool
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the full text of the model's reply.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns promptly with an error when ctx is cancelled.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }
