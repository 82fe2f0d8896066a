// Package tools exposes the domain model operations over the Model Context
// Protocol.
//
// NewServer builds an MCP server with the rendering and validation tools (and
// generation, when a Generator is supplied). The server is transport
// agnostic: the `tools` command serves it on stdio, tests connect to it over
// in-memory transports. Client is the typed counterpart used by the
// orchestrator, usually spawning this same binary as a subprocess.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/pkg/domain"
)

// Version is announced in the server implementation info.
const Version = "0.1.0"

// Generator produces a domain model from a transcript in the given language.
// *modelgen.Generator satisfies it.
type Generator interface {
	GenerateIn(ctx context.Context, transcript, lang string) (*domain.Model, error)
}

// ServerOption configures NewServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	gen     Generator
	metrics *observe.Metrics
}

// WithGenerator registers generate_domain_model backed by g.
func WithGenerator(g Generator) ServerOption {
	return func(c *serverConfig) { c.gen = g }
}

// WithServerMetrics records per-tool call counts and latency on m.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(c *serverConfig) { c.metrics = m }
}

// NewServer returns an MCP server with the domain model tools registered.
func NewServer(opts ...ServerOption) *mcpsdk.Server {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}

	s := mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: Version}, nil)

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        ToolEmitMarkdown,
		Description: "Generate Markdown documentation of the domain model",
	}, instrument(cfg.metrics, ToolEmitMarkdown, emitMarkdown))

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        ToolEmitMermaid,
		Description: "Generate a Mermaid ER or class diagram of the domain model",
	}, instrument(cfg.metrics, ToolEmitMermaid, emitMermaid))

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        ToolValidateModel,
		Description: "Validate the domain model for consistency and correctness",
	}, instrument(cfg.metrics, ToolValidateModel, validateModel))

	if cfg.gen != nil {
		gen := cfg.gen
		mcpsdk.AddTool(s, &mcpsdk.Tool{
			Name:        ToolGenerateModel,
			Description: "Generate a complete domain model from natural language using an LLM",
		}, instrument(cfg.metrics, ToolGenerateModel,
			func(ctx context.Context, _ *mcpsdk.CallToolRequest, in GenerateModelInput) (*mcpsdk.CallToolResult, domain.Model, error) {
				m, err := gen.GenerateIn(ctx, in.Transcript, in.InputLang)
				if err != nil {
					return nil, domain.Model{}, err
				}
				return textResult(m), *m, nil
			}))
	}
	return s
}

// ── handlers ────────────────────────────────────────────────────────────────

func emitMarkdown(_ context.Context, _ *mcpsdk.CallToolRequest, in EmitMarkdownInput) (*mcpsdk.CallToolResult, MarkdownOutput, error) {
	out := MarkdownOutput{Markdown: domain.RenderMarkdown(&in.Model, in.Audience)}
	return textResult(out), out, nil
}

func emitMermaid(_ context.Context, _ *mcpsdk.CallToolRequest, in EmitMermaidInput) (*mcpsdk.CallToolResult, MermaidOutput, error) {
	out := MermaidOutput{Mermaid: domain.RenderMermaid(&in.Model, in.Style)}
	return textResult(out), out, nil
}

func validateModel(_ context.Context, _ *mcpsdk.CallToolRequest, in ValidateModelInput) (*mcpsdk.CallToolResult, domain.Report, error) {
	out := domain.Validate(&in.Model)
	return textResult(out), out, nil
}

// textResult carries v as JSON text content so clients that ignore
// structured content still get the payload.
func textResult(v any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("encode result: %v", err)}},
		}
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}}}
}

// instrument wraps a tool handler with a span, a log line and the tool call
// metrics.
func instrument[In, Out any](m *observe.Metrics, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "tools."+name)
		defer span.End()
		span.SetAttributes(attribute.String("tool", name))

		start := time.Now()
		res, out, err := h(ctx, req, in)
		elapsed := time.Since(start)

		status := "ok"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
			observe.Fail(span, err, "tool failed")
		}
		if m != nil {
			m.RecordToolCall(ctx, name, status, elapsed.Seconds())
		}
		observe.Logger(ctx).Debug("tool call", "tool", name, "status", status, "elapsed", elapsed)
		return res, out, err
	}
}
