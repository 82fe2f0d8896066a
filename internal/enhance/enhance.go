// Package enhance cleans up utterance recordings with ffmpeg before they are
// transcribed: a high-pass filter removes rumble, an FFT denoiser removes
// steady background noise, and dynamic normalisation evens out the level.
// The output is always 16 kHz mono.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/domainscribe/internal/observe"
)

// Defaults for Config.
const (
	DefaultBinary         = "ffmpeg"
	DefaultNoiseReduction = 0.21
)

// ErrNotFound is returned by New when the ffmpeg binary cannot be located.
var ErrNotFound = errors.New("enhance: ffmpeg not found")

// Config selects the filters applied by an Enhancer.
type Config struct {
	// Binary is the ffmpeg executable name or path.
	Binary string

	// NoiseReduction is the denoiser strength in [0,1]; 0 disables it. It is
	// scaled by 40 into afftdn's dB range.
	NoiseReduction float64

	// Highpass enables the 200 Hz high-pass filter.
	Highpass bool

	// Normalize enables dynamic loudness normalisation.
	Normalize bool
}

// DefaultConfig returns the moderate settings used when enhancement is
// switched on without further tuning.
func DefaultConfig() Config {
	return Config{
		Binary:         DefaultBinary,
		NoiseReduction: DefaultNoiseReduction,
		Highpass:       true,
		Normalize:      true,
	}
}

// Error reports a failed ffmpeg run with its diagnostic output.
type Error struct {
	Input  string
	Output string // ffmpeg's combined stdout and stderr
	Err    error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Output)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	return fmt.Sprintf("enhance: ffmpeg on %q: %v: %s", e.Input, e.Err, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Enhancer runs the filter chain on WAV files.
type Enhancer struct {
	binary  string
	filters string
	metrics *observe.Metrics
}

// New resolves the ffmpeg binary and builds the filter chain from cfg.
func New(cfg Config) (*Enhancer, error) {
	bin := cfg.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &Enhancer{binary: path, filters: Filters(cfg)}, nil
}

// WithMetrics records enhancement latency on m and returns e.
func (e *Enhancer) WithMetrics(m *observe.Metrics) *Enhancer {
	e.metrics = m
	return e
}

// Filters returns the ffmpeg -af argument for cfg. It is empty when every
// filter is disabled.
func Filters(cfg Config) string {
	var filters []string
	if cfg.Highpass {
		filters = append(filters, "highpass=f=200")
	}
	if cfg.NoiseReduction > 0 {
		nr := math.Round(cfg.NoiseReduction*40*100) / 100
		filters = append(filters, "afftdn=nr="+strconv.FormatFloat(nr, 'f', -1, 64))
	}
	if cfg.Normalize {
		filters = append(filters, "dynaudnorm=f=150:g=15")
	}
	return strings.Join(filters, ",")
}

// OutputPath returns where Enhance writes the result for in:
// "utterance_0001.wav" becomes "utterance_0001_enhanced.wav".
func OutputPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_enhanced.wav"
}

// Enhance filters the WAV file at in and returns the path of the enhanced
// copy. On failure no output file is left behind.
func (e *Enhancer) Enhance(ctx context.Context, in string) (string, error) {
	out := OutputPath(in)
	args := []string{"-hide_banner", "-loglevel", "error", "-i", in}
	if e.filters != "" {
		args = append(args, "-af", e.filters)
	}
	args = append(args, "-ar", "16000", "-ac", "1", "-y", out)

	start := time.Now()
	output, err := exec.CommandContext(ctx, e.binary, args...).CombinedOutput()
	if e.metrics != nil {
		e.metrics.EnhanceDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		_ = os.Remove(out)
		return "", &Error{Input: in, Output: string(output), Err: err}
	}
	return out, nil
}
