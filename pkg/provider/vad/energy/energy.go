// Package energy implements a dependency-free [vad.Classifier] that labels a
// frame as speech when its RMS level exceeds a threshold chosen by
// sensitivity. It is used where the native WebRTC detector is unavailable
// and as a predictable engine in integration tests.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// Thresholds are RMS levels in int16 units per sensitivity, from Quality to
// VeryAggressive.
var Thresholds = [4]float64{200, 350, 500, 800}

// Classifier is an RMS-threshold detector. It is stateless and therefore
// safe for concurrent use.
type Classifier struct {
	threshold float64
}

var _ vad.Classifier = (*Classifier)(nil)

// New returns a classifier for sens.
func New(sens vad.Sensitivity) (*Classifier, error) {
	if !sens.Valid() {
		return nil, fmt.Errorf("energy vad: invalid sensitivity %d", int(sens))
	}
	return &Classifier{threshold: Thresholds[sens]}, nil
}

// NewWithThreshold returns a classifier with an explicit RMS threshold.
func NewWithThreshold(rms float64) *Classifier {
	return &Classifier{threshold: rms}
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []int16) (bool, error) {
	if len(frame) == 0 {
		return false, fmt.Errorf("energy vad: empty frame")
	}
	return RMS(frame) > c.threshold, nil
}

// RMS returns the root-mean-square level of samples in int16 units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
