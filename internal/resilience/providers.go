package resilience

import (
	"context"

	"github.com/MrWong99/domainscribe/pkg/provider/llm"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
)

// STT is a [stt.Transcriber] that fails over across a [Group] of
// transcribers, for example a whisper server backed by a local model.
type STT struct {
	group *Group[stt.Transcriber]
}

var _ stt.Transcriber = (*STT)(nil)

// NewSTT wraps g.
func NewSTT(g *Group[stt.Transcriber]) *STT { return &STT{group: g} }

// Transcribe returns the first successful transcription.
func (s *STT) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	return Do(ctx, s.group, func(t stt.Transcriber) (*stt.Result, error) {
		return t.Transcribe(ctx, path)
	})
}

// LLM is an [llm.Provider] that fails over across a [Group] of providers.
type LLM struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM wraps g.
func NewLLM(g *Group[llm.Provider]) *LLM { return &LLM{group: g} }

// Complete returns the first successful completion.
func (l *LLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return Do(ctx, l.group, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}
