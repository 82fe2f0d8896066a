package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/pkg/domain"
)

// DialConfig describes how to spawn a tool server subprocess.
type DialConfig struct {
	// Command is the server executable. Empty means the running binary.
	Command string

	// Args are passed to Command. When Command is empty and Args is nil the
	// running binary is started with the single argument "tools".
	Args []string

	// Env is appended to the inherited environment.
	Env []string
}

// ToolError is returned when the server reports a tool-level failure.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tools: %s failed: %s", e.Tool, e.Message)
}

// Client is a typed MCP client for the domain model tools. It is safe for
// concurrent use.
type Client struct {
	session *mcpsdk.ClientSession
	server  *mcpsdk.ServerSession // set by ConnectInProcess
	metrics *observe.Metrics
}

func newSDKClient() *mcpsdk.Client {
	return mcpsdk.NewClient(&mcpsdk.Implementation{Name: "domainscribe", Version: Version}, nil)
}

// Dial spawns the tool server described by cfg and connects to it over stdio.
// The subprocess is terminated when the returned Client is closed.
func Dial(ctx context.Context, cfg DialConfig) (*Client, error) {
	command, args := cfg.Command, cfg.Args
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("tools: resolve own executable: %w", err)
		}
		command = self
		if args == nil {
			args = []string{"tools"}
		}
	}

	// The subprocess must outlive ctx, which often only bounds the handshake.
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = os.Stderr

	c, err := Connect(ctx, &mcpsdk.CommandTransport{Command: cmd})
	if err != nil {
		return nil, fmt.Errorf("tools: dial %q: %w", command, err)
	}
	return c, nil
}

// Connect attaches to a tool server over an arbitrary transport.
func Connect(ctx context.Context, t mcpsdk.Transport) (*Client, error) {
	session, err := newSDKClient().Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("tools: connect: %w", err)
	}
	return &Client{session: session}, nil
}

// ConnectInProcess serves srv over in-memory transports and connects to it.
// Closing the client also ends the server session.
func ConnectInProcess(ctx context.Context, srv *mcpsdk.Server) (*Client, error) {
	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT, nil)
	if err != nil {
		return nil, fmt.Errorf("tools: serve in process: %w", err)
	}
	c, err := Connect(ctx, clientT)
	if err != nil {
		_ = ss.Close()
		return nil, err
	}
	c.server = ss
	return c, nil
}

// WithMetrics records client-side tool latency on m and returns c.
func (c *Client) WithMetrics(m *observe.Metrics) *Client {
	c.metrics = m
	return c
}

// Close ends the session and, for Dial, the subprocess.
func (c *Client) Close() error {
	err := c.session.Close()
	if c.server != nil {
		// The server side sees the closed pipe; its own close error is noise.
		_ = c.server.Close()
	}
	return err
}

// Tools lists the names of the tools the server offers.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	var names []string
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("tools: list: %w", err)
		}
		names = append(names, tool.Name)
	}
	return names, nil
}

// Call invokes the named tool with args and decodes its JSON text result
// into out. Tool-level failures are returned as *ToolError.
func (c *Client) Call(ctx context.Context, name string, args, out any) error {
	start := time.Now()
	err := c.call(ctx, name, args, out)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordToolCall(ctx, "client."+name, status, time.Since(start).Seconds())
	}
	return err
}

func (c *Client) call(ctx context.Context, name string, args, out any) error {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return fmt.Errorf("tools: call %s: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return &ToolError{Tool: name, Message: sb.String()}
	}
	if out == nil {
		return nil
	}
	if sb.Len() == 0 {
		return fmt.Errorf("tools: call %s: %w", name, errors.New("empty result"))
	}
	if err := json.Unmarshal([]byte(sb.String()), out); err != nil {
		return fmt.Errorf("tools: decode %s result: %w", name, err)
	}
	return nil
}

// EmitMarkdown renders m as Markdown for the given audience.
func (c *Client) EmitMarkdown(ctx context.Context, m *domain.Model, audience string) (string, error) {
	var out MarkdownOutput
	if err := c.Call(ctx, ToolEmitMarkdown, EmitMarkdownInput{Model: *m, Audience: audience}, &out); err != nil {
		return "", err
	}
	return out.Markdown, nil
}

// EmitMermaid renders m as a Mermaid diagram in the given style.
func (c *Client) EmitMermaid(ctx context.Context, m *domain.Model, style string) (string, error) {
	var out MermaidOutput
	if err := c.Call(ctx, ToolEmitMermaid, EmitMermaidInput{Model: *m, Style: style}, &out); err != nil {
		return "", err
	}
	return out.Mermaid, nil
}

// ValidateModel checks m on the server.
func (c *Client) ValidateModel(ctx context.Context, m *domain.Model) (domain.Report, error) {
	var out domain.Report
	err := c.Call(ctx, ToolValidateModel, ValidateModelInput{Model: *m}, &out)
	return out, err
}

// GenerateModel asks the server to generate a model from transcript.
func (c *Client) GenerateModel(ctx context.Context, transcript, lang string) (*domain.Model, error) {
	var out domain.Model
	if err := c.Call(ctx, ToolGenerateModel, GenerateModelInput{Transcript: transcript, InputLang: lang}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
