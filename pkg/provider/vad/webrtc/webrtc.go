// Package webrtc implements [vad.Classifier] with the WebRTC voice activity
// detector via github.com/maxhawkins/go-webrtcvad.
//
// The four [vad.Sensitivity] levels map one-to-one onto the detector's
// aggressiveness modes 0 to 3.
package webrtc

import (
	"encoding/binary"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// Classifier wraps a native WebRTC VAD instance. It is not safe for
// concurrent use; wrap it in a [vad.Adapter].
type Classifier struct {
	v   *webrtcvad.VAD
	buf []byte
}

var _ vad.Classifier = (*Classifier)(nil)

// New creates a detector configured for sens.
func New(sens vad.Sensitivity) (*Classifier, error) {
	if !sens.Valid() {
		return nil, fmt.Errorf("webrtc vad: invalid sensitivity %d", int(sens))
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(int(sens)); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %s: %w", sens, err)
	}
	if !v.ValidRateAndFrameLength(vad.SampleRate, vad.FrameSize) {
		return nil, fmt.Errorf("webrtc vad: unsupported frame %d@%d", vad.FrameSize, vad.SampleRate)
	}
	return &Classifier{v: v, buf: make([]byte, vad.FrameSize*2)}, nil
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []int16) (bool, error) {
	if len(frame) != vad.FrameSize {
		return false, fmt.Errorf("webrtc vad: frame has %d samples, want %d", len(frame), vad.FrameSize)
	}
	for i, s := range frame {
		binary.LittleEndian.PutUint16(c.buf[i*2:], uint16(s))
	}
	active, err := c.v.Process(vad.SampleRate, c.buf)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return active, nil
}
