package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/domainscribe/internal/app"
	"github.com/MrWong99/domainscribe/internal/orchestrate"
	"github.com/MrWong99/domainscribe/internal/recording"
)

var (
	recordDevice   string
	recordVAD      bool
	recordGenerate bool
	recordOut      string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one session from the terminal until Ctrl+C",
	Long: `Record from the selected input device until Ctrl+C. In push-to-talk mode
the whole session becomes one utterance; with --vad speech is split into one
utterance per detected phrase. Utterances are transcribed in order once
recording stops, and the transcripts are printed to stdout. With
--generate the joined transcript is turned into a domain model afterwards.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordDevice, "device", "d", "", "exact input device name (overrides config)")
	recordCmd.Flags().BoolVar(&recordVAD, "vad", false, "segment by voice activity instead of push-to-talk")
	recordCmd.Flags().BoolVarP(&recordGenerate, "generate", "g", false, "generate a domain model from the transcript")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "directory for model.json, model.md and model.mmd (with --generate)")
}

// transcriptCollector prints transcription events and keeps their text.
type transcriptCollector struct {
	mu    sync.Mutex
	texts []string
}

func (c *transcriptCollector) Emit(event string, payload any) {
	switch event {
	case recording.EventTranscriptionResult:
		ev, ok := payload.(recording.TranscriptionEvent)
		if !ok {
			return
		}
		c.mu.Lock()
		c.texts = append(c.texts, ev.Text)
		c.mu.Unlock()
		fmt.Printf("[%d] %s\n", ev.UtteranceID, ev.Text)
		for _, corr := range ev.Corrections {
			fmt.Printf("    %s -> %s (%s)\n", corr.Original, corr.Corrected, corr.Method)
		}
	case recording.EventTranscriptionError, recording.EventRecordingError:
		fmt.Fprintf(os.Stderr, "%s: %v\n", event, payload)
	}
}

func (c *transcriptCollector) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.texts, "\n")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	if recordDevice != "" {
		cfg.Capture.DeviceHint = recordDevice
	}
	if recordVAD {
		ptt := false
		cfg.Capture.PushToTalk = &ptt
	}
	if !recordGenerate {
		cfg.Providers.LLM.Name = ""
	}

	providers, err := app.BuildProviders(cfg, newRegistry())
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defer func() {
		if err := providers.Close(); err != nil {
			slog.Warn("close providers", "err", err)
		}
	}()
	if recordGenerate && providers.LLM == nil {
		return errors.New("--generate needs a configured llm provider")
	}

	collector := &transcriptCollector{}
	application, err := app.New(cmd.Context(), cfg, providers, app.WithSink(collector), app.WithLevel(level))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Warn("shutdown", "err", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := application.Manager()
	if err := m.StartRecording(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "recording from %q, press Ctrl+C to stop\n", m.SelectedDevice())
	<-sigCtx.Done()
	stop()

	fmt.Fprintln(os.Stderr, "stopping, transcribing pending audio")
	if err := m.StopRecording(); err != nil && !errors.Is(err, recording.ErrNotRecording) {
		return err
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout*4)
	defer cancel()
	if err := m.Wait(waitCtx); err != nil {
		return fmt.Errorf("wait for transcription: %w", err)
	}

	if !recordGenerate {
		return nil
	}
	text := collector.transcript()
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing was transcribed, no model generated")
	}
	res, err := application.Documenter().Run(cmd.Context(), text)
	if err != nil {
		return err
	}
	return writeResult(res, recordOut)
}

// writeResult prints res to stdout, or writes it to dir when set.
func writeResult(res *orchestrate.Result, dir string) error {
	if dir == "" {
		fmt.Println(res.Markdown)
		fmt.Println("```mermaid")
		fmt.Println(res.Mermaid)
		fmt.Println("```")
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	model, err := marshalModel(res)
	if err != nil {
		return err
	}
	files := map[string][]byte{
		"model.json": model,
		"model.md":   []byte(res.Markdown),
		"model.mmd":  []byte(res.Mermaid),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	slog.Info("model written", "dir", dir)
	return nil
}
