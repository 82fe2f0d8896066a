package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// Defaults for [Config].
const (
	DefaultSilenceHoldMs  = 1000
	DefaultMinUtteranceMs = 300
	DefaultStaticGain     = 2.0
	DefaultAGCTarget      = 0.3
	DefaultStopTimeout    = 2 * time.Second
)

// Config is the immutable configuration of one capture session.
type Config struct {
	// SilenceHoldMs is the run of non-speech that closes an utterance.
	SilenceHoldMs int

	// MinUtteranceMs is the shortest utterance that is persisted in VAD mode.
	MinUtteranceMs int

	// OutputDir receives the utterance files. It is created if absent.
	OutputDir string

	// Sensitivity is the VAD aggressiveness.
	Sensitivity vad.Sensitivity

	// DeviceHint selects an input device by exact name. Empty means the
	// system default.
	DeviceHint string

	// StaticGain multiplies every sample before quantisation.
	StaticGain float32

	// AGCEnabled turns on automatic gain control.
	AGCEnabled bool

	// AGCTarget is the peak level AGC steers towards, in (0, 1].
	AGCTarget float32

	// PushToTalk bypasses voice activity detection and persists everything
	// captured between start and stop as a single utterance.
	PushToTalk bool

	// StopTimeout bounds how long stopping the device stream may take before
	// the stream is aborted.
	StopTimeout time.Duration
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		SilenceHoldMs:  DefaultSilenceHoldMs,
		MinUtteranceMs: DefaultMinUtteranceMs,
		OutputDir:      filepath.Join(os.TempDir(), "domainscribe"),
		Sensitivity:    vad.Aggressive,
		StaticGain:     DefaultStaticGain,
		AGCEnabled:     true,
		AGCTarget:      DefaultAGCTarget,
		PushToTalk:     true,
		StopTimeout:    DefaultStopTimeout,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SilenceHoldMs < 0 {
		errs = append(errs, fmt.Errorf("silence_hold_ms must be >= 0, got %d", c.SilenceHoldMs))
	}
	if c.MinUtteranceMs < 0 {
		errs = append(errs, fmt.Errorf("min_utterance_ms must be >= 0, got %d", c.MinUtteranceMs))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if !c.Sensitivity.Valid() {
		errs = append(errs, fmt.Errorf("vad_sensitivity %d is invalid", int(c.Sensitivity)))
	}
	if c.StaticGain <= 0 {
		errs = append(errs, fmt.Errorf("static_gain must be > 0, got %v", c.StaticGain))
	}
	if c.AGCTarget <= 0 || c.AGCTarget > 1 {
		errs = append(errs, fmt.Errorf("agc_target must be in (0, 1], got %v", c.AGCTarget))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be >= 0, got %s", c.StopTimeout))
	}
	return errors.Join(errs...)
}
