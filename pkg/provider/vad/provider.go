// Package vad defines the frame-level voice activity detection contract used
// by the capture pipeline.
//
// A [Classifier] labels one fixed-size frame of 16 kHz mono PCM as speech or
// non-speech. Classifiers wrap stateful native detectors and are not
// reentrant; the [Adapter] serialises access and folds every failure into a
// non-speech verdict so the segmenter never sees an error.
//
// Implementations live in sub-packages: vad/webrtc (WebRTC VAD, the default),
// vad/energy (pure-Go RMS threshold) and vad/mock (tests).
package vad

import (
	"sync"
)

const (
	// SampleRate is the only rate classifiers are fed.
	SampleRate = 16000

	// FrameSize is the number of samples per frame (30 ms at 16 kHz).
	FrameSize = 480

	// FrameMs is the duration of one frame in milliseconds.
	FrameMs = FrameSize * 1000 / SampleRate
)

// Classifier decides whether a single frame of [FrameSize] samples contains
// speech. Implementations need not be safe for concurrent use.
type Classifier interface {
	Classify(frame []int16) (bool, error)
}

// Adapter wraps a [Classifier] for use by the capture pipeline.
//
// Adapter is safe for concurrent use; calls to the underlying classifier are
// serialised with a mutex.
type Adapter struct {
	mu  sync.Mutex
	c   Classifier
	err func(error)
}

// AdapterOption configures an [Adapter].
type AdapterOption func(*Adapter)

// WithErrorHook registers fn to observe classifier errors. fn is called with
// the adapter's lock held and must not block.
func WithErrorHook(fn func(error)) AdapterOption {
	return func(a *Adapter) { a.err = fn }
}

// NewAdapter wraps c.
func NewAdapter(c Classifier, opts ...AdapterOption) *Adapter {
	a := &Adapter{c: c}
	for _, o := range opts {
		o(a)
	}
	return a
}

// IsSpeech reports whether frame contains speech. Frames of the wrong length
// and classifier errors are reported as non-speech.
func (a *Adapter) IsSpeech(frame []int16) bool {
	if len(frame) != FrameSize {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	speech, err := a.c.Classify(frame)
	if err != nil {
		if a.err != nil {
			a.err(err)
		}
		return false
	}
	return speech
}
