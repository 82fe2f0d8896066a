package tools

import "github.com/MrWong99/domainscribe/pkg/domain"

// Tool names served by NewServer.
const (
	ToolEmitMarkdown  = "emit_markdown"
	ToolEmitMermaid   = "emit_mermaid"
	ToolValidateModel = "validate_model"
	ToolGenerateModel = "generate_domain_model"
)

// ServerName is the implementation name announced during initialization.
const ServerName = "domain-model-mcp-server"

// EmitMarkdownInput is the argument object of emit_markdown.
type EmitMarkdownInput struct {
	Model    domain.Model `json:"model" jsonschema:"the domain model to document"`
	Audience string       `json:"audience,omitempty" jsonschema:"target audience: technical or business"`
}

// MarkdownOutput is the result of emit_markdown.
type MarkdownOutput struct {
	Markdown string `json:"markdown"`
}

// EmitMermaidInput is the argument object of emit_mermaid.
type EmitMermaidInput struct {
	Model domain.Model `json:"model" jsonschema:"the domain model to visualize"`
	Style string       `json:"style,omitempty" jsonschema:"diagram style: er (default) or class"`
}

// MermaidOutput is the result of emit_mermaid.
type MermaidOutput struct {
	Mermaid string `json:"mermaid"`
}

// ValidateModelInput is the argument object of validate_model.
type ValidateModelInput struct {
	Model domain.Model `json:"model" jsonschema:"the domain model to validate"`
}

// GenerateModelInput is the argument object of generate_domain_model.
type GenerateModelInput struct {
	Transcript string `json:"transcript" jsonschema:"natural language transcript describing the domain"`
	InputLang  string `json:"input_lang,omitempty" jsonschema:"input language code such as en or fr; defaults to fr"`
}
