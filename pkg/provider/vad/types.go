package vad

import (
	"fmt"
	"strings"
)

// Sensitivity selects how aggressively non-speech is rejected. Higher values
// reject more frames as non-speech.
type Sensitivity int

const (
	// Quality is the least aggressive mode.
	Quality Sensitivity = iota
	// LowBitrate rejects slightly more noise than Quality.
	LowBitrate
	// Aggressive is the default.
	Aggressive
	// VeryAggressive rejects the most frames as non-speech.
	VeryAggressive
)

var sensitivityNames = [...]string{"quality", "low_bitrate", "aggressive", "very_aggressive"}

// String returns the configuration name of s.
func (s Sensitivity) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Sensitivity(%d)", int(s))
	}
	return sensitivityNames[s]
}

// Valid reports whether s is one of the four defined levels.
func (s Sensitivity) Valid() bool {
	return s >= Quality && s <= VeryAggressive
}

// ParseSensitivity parses a configuration name. Matching is case-insensitive
// and accepts hyphens in place of underscores.
func ParseSensitivity(name string) (Sensitivity, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, s := range sensitivityNames {
		if s == n {
			return Sensitivity(i), nil
		}
	}
	return 0, fmt.Errorf("vad: unknown sensitivity %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Sensitivity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("vad: invalid sensitivity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It is also picked up by
// the YAML decoder.
func (s *Sensitivity) UnmarshalText(text []byte) error {
	v, err := ParseSensitivity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
