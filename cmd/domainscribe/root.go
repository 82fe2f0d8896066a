package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/domainscribe/internal/app"
	"github.com/MrWong99/domainscribe/internal/config"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before every subcommand runs.
	cfg *config.Config

	// level backs the default logger so a config reload can change it.
	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "domainscribe",
	Short: "Turn recorded domain interviews into documented domain models",
	Long: `domainscribe captures microphone audio, cuts it into utterances,
transcribes them with a local speech model, and asks an LLM to extract a
domain model that is rendered as Markdown and Mermaid.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		slog.SetDefault(newLogger(os.Stderr))

		var err error
		cfg, err = loadConfig(cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}

		lvl := cfg.Server.LogLevel
		if logLevel != "" {
			lvl = config.LogLevel(strings.ToLower(logLevel))
			if !lvl.IsValid() {
				return fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", logLevel)
			}
			cfg.Server.LogLevel = lvl
		}
		level.Set(app.LevelFor(lvl))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(toolsCmd)
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "domainscribe: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads configPath. A missing default config file falls back to
// the built-in defaults; a missing explicit one is an error.
func loadConfig(explicit bool) (*config.Config, error) {
	c, err := config.Load(configPath)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, os.ErrNotExist) || explicit {
		return nil, err
	}
	slog.Debug("no config file, using defaults", "path", configPath)
	return config.LoadFromReader(strings.NewReader(""), config.WithEnv(os.Getenv))
}

// newLogger returns a text logger whose level follows [level].
func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newRegistry returns a registry holding every built-in provider.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	return reg
}

// closeIfCloser releases v when it holds resources.
func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close provider", "err", err)
		}
	}
}
