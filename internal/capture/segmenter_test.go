package capture

import (
	"testing"

	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

func frameOf(v int16) []int16 {
	f := make([]int16, vad.FrameSize)
	for i := range f {
		f[i] = v
	}
	return f
}

// feed pushes a pattern of verdicts and collects emitted utterance lengths.
func feed(s *Segmenter, pattern []bool) []int {
	var got []int
	for _, speech := range pattern {
		if utt, ok := s.Push(frameOf(1), speech); ok {
			got = append(got, len(utt))
		}
	}
	return got
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]bool) []bool {
	var out []bool
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestSegmenter_LeadingSilenceIsDropped(t *testing.T) {
	t.Parallel()
	s := NewSegmenter(1000, 300)
	feed(s, repeat(false, 50))
	if s.Speaking() || s.Buffered() != 0 {
		t.Errorf("idle segmenter buffered %d samples", s.Buffered())
	}
}

func TestSegmenter_EmitsAfterHold(t *testing.T) {
	t.Parallel()
	s := NewSegmenter(1000, 300)
	// 10 speech frames, then 33 silent frames (990 ms) keep it open.
	if got := feed(s, concat(repeat(true, 10), repeat(false, 33))); len(got) != 0 {
		t.Fatalf("emitted early: %v", got)
	}
	if s.SilenceMs() != 990 {
		t.Errorf("silence = %d, want 990", s.SilenceMs())
	}
	// The 34th silent frame reaches 1020 ms >= 1000 ms.
	got := feed(s, repeat(false, 1))
	if len(got) != 1 || got[0] != 44*vad.FrameSize {
		t.Fatalf("emitted %v, want one utterance of %d samples", got, 44*vad.FrameSize)
	}
	if s.Speaking() || s.SilenceMs() != 0 || s.Buffered() != 0 {
		t.Error("segmenter not reset after emission")
	}
}

func TestSegmenter_SpeechResetsSilence(t *testing.T) {
	t.Parallel()
	s := NewSegmenter(300, 0)
	got := feed(s, concat(repeat(true, 1), repeat(false, 9), repeat(true, 1), repeat(false, 9)))
	if len(got) != 0 {
		t.Fatalf("emitted %v before hold elapsed", got)
	}
	got = feed(s, repeat(false, 1))
	if len(got) != 1 || got[0] != 21*vad.FrameSize {
		t.Errorf("emitted %v, want one utterance of 21 frames", got)
	}
}

func TestSegmenter_ShortUtteranceDiscarded(t *testing.T) {
	t.Parallel()
	s := NewSegmenter(90, 500)
	// 5 speech + 3 silent frames = 240 ms < 500 ms.
	if got := feed(s, concat(repeat(true, 5), repeat(false, 3))); len(got) != 0 {
		t.Fatalf("emitted %v, want nothing", got)
	}
	if s.Discarded() != 1 {
		t.Errorf("discarded = %d, want 1", s.Discarded())
	}
	if s.Speaking() {
		t.Error("segmenter should be idle after discarding")
	}
}

func TestSegmenter_FlushAppliesMinimum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		frames int
		minMs  int
		want   bool
	}{
		{"long enough", 20, 300, true},
		{"exactly minimum", 10, 300, true},
		{"too short", 9, 300, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSegmenter(1000, tt.minMs)
			feed(s, repeat(true, tt.frames))
			_, ok := s.Flush()
			if ok != tt.want {
				t.Errorf("Flush ok = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSegmenter_FlushWhenIdle(t *testing.T) {
	t.Parallel()
	s := NewSegmenter(1000, 0)
	if _, ok := s.Flush(); ok {
		t.Error("Flush on idle segmenter emitted an utterance")
	}
}

func TestSegmenter_ZeroHoldClosesOnFirstSilence(t *testing.T) {
	t.Parallel()
	s := NewSegmenter(0, 0)
	got := feed(s, []bool{true, true, false})
	if len(got) != 1 || got[0] != 3*vad.FrameSize {
		t.Errorf("emitted %v, want one utterance of 3 frames", got)
	}
}

func TestDurationMs(t *testing.T) {
	t.Parallel()
	tests := []struct{ samples, want int }{
		{0, 0},
		{15, 0},
		{16, 1},
		{40800, 2550},
		{48000, 3000},
	}
	for _, tt := range tests {
		if got := DurationMs(tt.samples); got != tt.want {
			t.Errorf("DurationMs(%d) = %d, want %d", tt.samples, got, tt.want)
		}
	}
}

func TestFramer(t *testing.T) {
	t.Parallel()
	var f Framer
	var frames int
	var first int16 = -1
	emit := func(fr []int16) {
		if len(fr) != vad.FrameSize {
			t.Fatalf("frame len = %d", len(fr))
		}
		if frames == 1 {
			first = fr[0]
		}
		frames++
	}

	in := make([]int16, 1000)
	for i := range in {
		in[i] = int16(i)
	}
	f.Write(in[:300], emit)
	if frames != 0 || f.Pending() != 300 {
		t.Fatalf("after 300: frames=%d pending=%d", frames, f.Pending())
	}
	f.Write(in[300:], emit)
	if frames != 2 || f.Pending() != 40 {
		t.Fatalf("after 1000: frames=%d pending=%d", frames, f.Pending())
	}
	if first != 480 {
		t.Errorf("second frame starts at %d, want 480", first)
	}
}
