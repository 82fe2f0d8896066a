package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/domainscribe/internal/app"
	"github.com/MrWong99/domainscribe/internal/config"
	"github.com/MrWong99/domainscribe/internal/enhance"
	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/internal/orchestrate"
	"github.com/MrWong99/domainscribe/internal/tools"
)

// ── devices ──────────────────────────────────────────────────────────────────

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		backend, err := newRegistry().CreateAudio(cfg.Providers.Audio)
		if err != nil {
			return fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
		}
		defer closeIfCloser(backend)

		devs, err := backend.Devices()
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			fmt.Fprintln(os.Stderr, "no input devices found")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tRATE\tCHANNELS\tDEFAULT")
		for _, d := range devs {
			def := ""
			if d.IsDefault {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", d.Name, d.SampleRate, d.Channels, def)
		}
		return tw.Flush()
	},
}

// ── transcribe ───────────────────────────────────────────────────────────────

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file with the configured speech model",
	Long: `Transcribe a WAV file, applying audio enhancement and glossary correction
when they are configured. The text is printed to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return err
		}

		tr, err := newRegistry().CreateSTT(cfg.Providers.STT)
		if err != nil {
			return fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
		}
		defer closeIfCloser(tr)

		if cfg.Enhance.Enabled {
			e, err := enhance.New(cfg.Enhance.Filters())
			switch {
			case errors.Is(err, enhance.ErrNotFound):
				slog.Warn("audio enhancement disabled", "err", err)
			case err != nil:
				return err
			default:
				out, err := e.Enhance(cmd.Context(), path)
				if err != nil {
					slog.Warn("enhancement failed, using original audio", "err", err)
				} else {
					defer os.Remove(out)
					path = out
				}
			}
		}

		res, err := tr.Transcribe(cmd.Context(), path)
		if err != nil {
			return err
		}

		text := res.Text
		corrector, err := app.BuildCorrector(cfg.Transcript)
		if err != nil {
			return err
		}
		if corrector != nil {
			cr := corrector.Correct(text)
			text = cr.Text
			for _, c := range cr.Corrections {
				slog.Info("corrected", "original", c.Original, "corrected", c.Corrected, "method", c.Method)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

// ── model ────────────────────────────────────────────────────────────────────

var modelOut, modelAudience, modelStyle string

var modelCmd = &cobra.Command{
	Use:   "model <transcript-file>",
	Short: "Generate a documented domain model from a transcript",
	Long: `Generate a domain model from a transcript file ("-" reads stdin) and
render it as Markdown and a Mermaid diagram.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return errors.New("transcript is empty")
		}

		p, err := newRegistry().CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
		}
		orch, closer, err := app.NewDocumenter(cmd.Context(), cfg, p, observe.DefaultMetrics(), nil)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer()
		}

		res, err := orch.Run(cmd.Context(), string(data))
		if err != nil {
			return err
		}
		return writeResult(res, modelOut)
	},
}

func init() {
	modelCmd.Flags().StringVarP(&modelOut, "out", "o", "", "directory for model.json, model.md and model.mmd (default stdout)")
	modelCmd.Flags().StringVar(&modelAudience, "audience", "", "markdown audience: technical or business (overrides config)")
	modelCmd.Flags().StringVar(&modelStyle, "style", "", "mermaid style: er or class (overrides config)")
	modelCmd.PreRunE = func(*cobra.Command, []string) error {
		if modelAudience != "" {
			cfg.Model.Audience = modelAudience
		}
		if modelStyle != "" {
			cfg.Model.Style = modelStyle
		}
		return config.Validate(cfg)
	}
}

func marshalModel(res *orchestrate.Result) ([]byte, error) {
	data, err := json.MarshalIndent(res.Model, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return append(data, '\n'), nil
}

// ── tools ────────────────────────────────────────────────────────────────────

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Serve the domain model tools over MCP on stdio",
	Long: `Serve emit_markdown, emit_mermaid and validate_model over the Model
Context Protocol on stdin/stdout. When an llm provider is configured
generate_domain_model is served too. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m := observe.DefaultMetrics()
		opts := []tools.ServerOption{tools.WithServerMetrics(m)}

		if cfg.Providers.LLM.Name != "" {
			p, err := newRegistry().CreateLLM(cfg.Providers.LLM)
			if err != nil {
				slog.Warn("generate_domain_model disabled", "err", err)
			} else {
				opts = append(opts, tools.WithGenerator(app.NewGenerator(cfg, p, m)))
			}
		}

		slog.Info("tool server listening on stdio")
		return tools.NewServer(opts...).Run(cmd.Context(), &mcpsdk.StdioTransport{})
	},
}
