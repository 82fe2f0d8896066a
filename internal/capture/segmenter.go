package capture

import "github.com/MrWong99/domainscribe/pkg/provider/vad"

// DurationMs returns the length in milliseconds of n samples at 16 kHz,
// truncated.
func DurationMs(n int) int {
	return n * 1000 / vad.SampleRate
}

// Segmenter turns a stream of classified frames into utterances.
//
// It has two states. While idle, non-speech frames are dropped. The first
// speech frame starts an utterance; from then on every frame is appended.
// Each non-speech frame adds 30 ms of silence and each speech frame resets
// it; once the silence reaches the hold time the utterance is closed. Closed
// utterances shorter than the minimum are discarded.
//
// Segmenter is not safe for concurrent use.
type Segmenter struct {
	holdMs    int
	minMs     int
	buf       []int16
	speaking  bool
	silenceMs int
	discarded int
}

// NewSegmenter returns a Segmenter in the idle state.
func NewSegmenter(silenceHoldMs, minUtteranceMs int) *Segmenter {
	return &Segmenter{holdMs: silenceHoldMs, minMs: minUtteranceMs}
}

// Push feeds one frame and its verdict. When the frame closes an utterance
// that meets the minimum length, the utterance samples are returned with
// true; the caller owns the returned slice.
func (s *Segmenter) Push(frame []int16, speech bool) ([]int16, bool) {
	if speech {
		s.speaking = true
		s.silenceMs = 0
		s.buf = append(s.buf, frame...)
		return nil, false
	}
	if !s.speaking {
		return nil, false
	}
	s.buf = append(s.buf, frame...)
	s.silenceMs += vad.FrameMs
	if s.silenceMs < s.holdMs {
		return nil, false
	}
	return s.close()
}

// Flush closes the current utterance if one is open, applying the same
// minimum length rule as Push.
func (s *Segmenter) Flush() ([]int16, bool) {
	if !s.speaking {
		return nil, false
	}
	return s.close()
}

func (s *Segmenter) close() ([]int16, bool) {
	out := s.buf
	s.buf = nil
	s.speaking = false
	s.silenceMs = 0
	if DurationMs(len(out)) < s.minMs {
		s.discarded++
		return nil, false
	}
	return out, true
}

// Speaking reports whether an utterance is open.
func (s *Segmenter) Speaking() bool { return s.speaking }

// SilenceMs returns the accumulated trailing silence of the open utterance.
func (s *Segmenter) SilenceMs() int { return s.silenceMs }

// Buffered returns the number of samples in the open utterance.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// Discarded returns how many utterances were dropped for being too short.
func (s *Segmenter) Discarded() int { return s.discarded }

// Framer regroups blocks of arbitrary length into frames of exactly
// [vad.FrameSize] samples. Leftover samples are carried to the next call.
type Framer struct {
	frame [vad.FrameSize]int16
	n     int
}

// Write appends samples and calls fn once per completed frame. The frame
// slice is only valid for the duration of the call.
func (f *Framer) Write(samples []int16, fn func(frame []int16)) {
	for len(samples) > 0 {
		c := copy(f.frame[f.n:], samples)
		f.n += c
		samples = samples[c:]
		if f.n == vad.FrameSize {
			fn(f.frame[:])
			f.n = 0
		}
	}
}

// Pending returns the number of samples waiting for a full frame.
func (f *Framer) Pending() int { return f.n }
