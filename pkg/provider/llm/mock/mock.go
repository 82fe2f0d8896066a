// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send the expected
// Request and to feed controlled responses without a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{Responses: []string{`{"entities":[]}`}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/domainscribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned in order, one per call. After the list is
	// exhausted the last entry is repeated. An empty list yields "".
	Responses []string

	// Err, if non-nil, is returned by every call.
	Err error

	// Block, if non-nil, makes Complete wait until it is closed or ctx ends.
	Block chan struct{}

	calls []llm.Request
}

// Complete records the request and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	n := len(p.calls)
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}

	var content string
	if len(p.Responses) > 0 {
		content = p.Responses[min(n, len(p.Responses))-1]
	}
	return &llm.Response{Content: content}, nil
}

// Calls returns a copy of every recorded request.
func (p *Provider) Calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.calls...)
}
