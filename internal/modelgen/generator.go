// Package modelgen turns an interview transcript into a domain model by
// prompting an LLM for strict JSON and checking what comes back.
//
// The reply goes through four gates before it is returned: the JSON object
// is extracted from any surrounding prose or code fence, decoded with unknown
// fields rejected, checked against the closed enum sets, and validated for
// internal consistency. Ids are snake-cased before validation so relation
// ends match entity ids regardless of the casing the model chose.
package modelgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/pkg/domain"
	"github.com/MrWong99/domainscribe/pkg/provider/llm"
)

// Defaults for Generator options.
const (
	DefaultLanguage    = "fr"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// ErrEmptyTranscript is returned when Generate is called with only whitespace.
var ErrEmptyTranscript = errors.New("modelgen: transcript is empty")

// InvalidModelError reports a reply that decoded but failed the schema or
// consistency checks. Raw holds the extracted JSON for diagnostics.
type InvalidModelError struct {
	Raw string
	Err error
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("modelgen: generated model rejected: %v", e.Err)
}

func (e *InvalidModelError) Unwrap() error { return e.Err }

// Option is a functional option for configuring a Generator.
type Option func(*Generator)

// WithLanguage sets the default prompt language ("en" or "fr").
func WithLanguage(lang string) Option {
	return func(g *Generator) { g.language = lang }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the length of the reply.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithMetrics records LLM latency and request outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(g *Generator) { g.providerName = name }
}

// Generator produces domain models from transcripts. It is safe for
// concurrent use when the underlying llm.Provider is.
type Generator struct {
	llm          llm.Provider
	language     string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
	providerName string
}

// New returns a Generator that prompts p.
func New(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:          p,
		language:     DefaultLanguage,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		providerName: "llm",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate builds a model from transcript using the default language.
func (g *Generator) Generate(ctx context.Context, transcript string) (*domain.Model, error) {
	return g.GenerateIn(ctx, transcript, "")
}

// GenerateIn builds a model from transcript, prompting in lang. An empty lang
// uses the generator's default.
func (g *Generator) GenerateIn(ctx context.Context, transcript, lang string) (*domain.Model, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}
	if lang == "" {
		lang = g.language
	}

	ctx, span := observe.StartSpan(ctx, "modelgen.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("language", lang),
		attribute.Int("transcript.length", len(transcript)),
	)

	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.Request{
		SystemPrompt: SystemPrompt(lang),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		Temperature:  llm.Float(g.temperature),
		MaxTokens:    g.maxTokens,
		JSON:         true,
	})
	g.record(ctx, time.Since(start), err)
	if err != nil {
		observe.Fail(span, err, "completion failed")
		return nil, fmt.Errorf("modelgen: complete: %w", err)
	}

	m, err := Parse(resp.Content)
	if err != nil {
		observe.Fail(span, err, "invalid reply")
		observe.Logger(ctx).Warn("generated model rejected", "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("entities", len(m.Entities)),
		attribute.Int("relations", len(m.Relations)),
	)
	observe.Logger(ctx).Info("domain model generated",
		"entities", len(m.Entities),
		"relations", len(m.Relations),
		"invariants", len(m.Invariants),
		"elapsed", time.Since(start),
	)
	return m, nil
}

// Parse runs an LLM reply through extraction, strict decoding, schema
// checks, normalization and validation.
func Parse(reply string) (*domain.Model, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	m, err := domain.Parse([]byte(raw), true)
	if err != nil {
		return nil, &InvalidModelError{Raw: raw, Err: err}
	}
	if err := domain.CheckSchema(m); err != nil {
		return nil, &InvalidModelError{Raw: raw, Err: err}
	}
	domain.Normalize(m)
	if err := domain.Validate(m).Err(); err != nil {
		return nil, &InvalidModelError{Raw: raw, Err: err}
	}
	return m, nil
}

func (g *Generator) record(ctx context.Context, elapsed time.Duration, err error) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.LLMDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("provider", g.providerName)))
	g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", status)
}
