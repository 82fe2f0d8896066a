// Package orchestrate runs the transcript-to-documentation pipeline: generate
// a domain model from the transcript, then render it as Markdown and as a
// Mermaid diagram through the tool server.
package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/pkg/domain"
)

// Generator produces a domain model from a transcript.
type Generator interface {
	Generate(ctx context.Context, transcript string) (*domain.Model, error)
}

// Renderer turns a model into documents. *tools.Client satisfies it.
type Renderer interface {
	EmitMarkdown(ctx context.Context, m *domain.Model, audience string) (string, error)
	EmitMermaid(ctx context.Context, m *domain.Model, style string) (string, error)
}

// Result is everything produced for one transcript.
type Result struct {
	Model    *domain.Model `json:"model"`
	Markdown string        `json:"markdown"`
	Mermaid  string        `json:"mermaid"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAudience sets the Markdown audience ("technical", "business", or "").
func WithAudience(a string) Option {
	return func(o *Orchestrator) { o.audience = a }
}

// WithStyle sets the Mermaid style ("er" or "class").
func WithStyle(s string) Option {
	return func(o *Orchestrator) { o.style = s }
}

// Orchestrator wires a Generator to a Renderer.
type Orchestrator struct {
	gen    Generator
	render Renderer

	mu       sync.RWMutex
	audience string
	style    string
}

// New returns an Orchestrator. Defaults: technical audience, ER diagram.
func New(gen Generator, render Renderer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:      gen,
		render:   render,
		audience: domain.AudienceTechnical,
		style:    domain.StyleER,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetDefaults replaces the audience and diagram style used by later runs.
func (o *Orchestrator) SetDefaults(audience, style string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.audience, o.style = audience, style
}

// Run generates the model and renders both documents concurrently. If
// either rendering fails the other is cancelled and the first error is
// returned.
func (o *Orchestrator) Run(ctx context.Context, transcript string) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrate.run")
	defer span.End()
	start := time.Now()

	m, err := o.gen.Generate(ctx, transcript)
	if err != nil {
		observe.Fail(span, err, "generation failed")
		return nil, fmt.Errorf("orchestrate: generate model: %w", err)
	}

	o.mu.RLock()
	audience, style := o.audience, o.style
	o.mu.RUnlock()

	res := &Result{Model: m}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		md, err := o.render.EmitMarkdown(gctx, m, audience)
		if err != nil {
			return fmt.Errorf("orchestrate: emit markdown: %w", err)
		}
		res.Markdown = md
		return nil
	})
	g.Go(func() error {
		mm, err := o.render.EmitMermaid(gctx, m, style)
		if err != nil {
			return fmt.Errorf("orchestrate: emit mermaid: %w", err)
		}
		res.Mermaid = mm
		return nil
	})
	if err := g.Wait(); err != nil {
		observe.Fail(span, err, "rendering failed")
		return nil, err
	}

	observe.Logger(ctx).Info("transcript documented",
		"entities", len(m.Entities),
		"elapsed", time.Since(start),
	)
	return res, nil
}

// LocalRenderer renders in-process without a tool server.
type LocalRenderer struct{}

var _ Renderer = LocalRenderer{}

// EmitMarkdown implements Renderer.
func (LocalRenderer) EmitMarkdown(_ context.Context, m *domain.Model, audience string) (string, error) {
	return domain.RenderMarkdown(m, audience), nil
}

// EmitMermaid implements Renderer.
func (LocalRenderer) EmitMermaid(_ context.Context, m *domain.Model, style string) (string, error) {
	return domain.RenderMermaid(m, style), nil
}
