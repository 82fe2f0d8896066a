package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/domainscribe/internal/app"
	"github.com/MrWong99/domainscribe/internal/config"
	"github.com/MrWong99/domainscribe/internal/observe"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control server and recording manager",
	Long: `Run the local HTTP control API. Recording is started and stopped through
the API, manager events stream over the /api/events websocket, and the
configuration file is watched for hot-reloadable changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("domainscribe starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "domainscribe",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := app.BuildProviders(cfg, newRegistry())
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defer func() {
		if err := providers.Close(); err != nil {
			slog.Warn("close providers", "err", err)
		}
	}()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLevel(level))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(configPath); statErr == nil {
		w, err := config.NewWatcher(configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	serveErr := application.Serve(ctx)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		slog.Error("serve error", "err", serveErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return serveErr
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      domainscribe startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", summarize(cfg.Providers.Audio.Name, cfg.Capture.DeviceHint))
	printRow("VAD", summarize(cfg.Providers.VAD.Name, ""))
	printRow("STT", summarize(cfg.Providers.STT.Name, cfg.Providers.STT.Model))
	printRow("LLM", summarize(cfg.Providers.LLM.Name, cfg.Providers.LLM.Model))
	if *cfg.Capture.PushToTalk {
		printRow("Mode", "push-to-talk")
	} else {
		printRow("Mode", "vad")
	}
	if cfg.Enhance.Enabled {
		printRow("Enhance", cfg.Enhance.Binary)
	} else {
		printRow("Enhance", "(disabled)")
	}
	printRow("Glossary", fmt.Sprintf("%d terms", len(cfg.Transcript.Glossary)))
	if cfg.Tools.Command != "" {
		printRow("Tools", cfg.Tools.Command)
	} else {
		printRow("Tools", "(in process)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func summarize(name, detail string) string {
	switch {
	case name == "":
		return "(not configured)"
	case detail != "":
		return name + " / " + detail
	}
	return name
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
