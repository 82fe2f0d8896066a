package audio

import "math"

// Resampler converts interleaved float32 input at an arbitrary rate and
// channel count to mono at a fixed output rate.
//
// Channels are averaged first, then the mono signal is resampled by linear
// interpolation. The fractional read position and the last input sample are
// carried across calls, so feeding a signal in blocks of any size produces the
// same output as feeding it at once.
//
// A Resampler is not safe for concurrent use; create one per stream.
type Resampler struct {
	src      Format
	dstRate  int
	step     float64 // input samples advanced per output sample
	pos      float64 // read position relative to the current block; -1 addresses prev
	prev     float32
	havePrev bool
	mono     []float32
	out      []float32
}

// NewResampler returns a Resampler from src to mono at dstRate. Non-positive
// rates or channel counts are treated as 1 channel at dstRate.
func NewResampler(src Format, dstRate int) *Resampler {
	if dstRate <= 0 {
		dstRate = TargetSampleRate
	}
	if src.SampleRate <= 0 {
		src.SampleRate = dstRate
	}
	if src.Channels <= 0 {
		src.Channels = 1
	}
	return &Resampler{
		src:     src,
		dstRate: dstRate,
		step:    float64(src.SampleRate) / float64(dstRate),
	}
}

// Passthrough reports whether the input already matches the output format.
func (r *Resampler) Passthrough() bool {
	return r.src.Channels == 1 && r.src.SampleRate == r.dstRate
}

// Process converts one block of interleaved input. The returned slice is
// owned by the Resampler and is only valid until the next call. On the
// passthrough path the input slice itself is returned.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() {
		return in
	}
	mono := r.downmix(in)
	if r.src.SampleRate == r.dstRate {
		return mono
	}
	return r.resample(mono)
}

func (r *Resampler) downmix(in []float32) []float32 {
	ch := r.src.Channels
	if ch == 1 {
		return in
	}
	n := len(in) / ch
	r.mono = grow(r.mono, n)
	inv := 1 / float32(ch)
	for i := range n {
		var sum float32
		for c := range ch {
			sum += in[i*ch+c]
		}
		r.mono[i] = sum * inv
	}
	return r.mono
}

func (r *Resampler) resample(mono []float32) []float32 {
	if len(mono) == 0 {
		return r.out[:0]
	}
	if !r.havePrev {
		// The first output sample lands exactly on the first input sample.
		r.prev = mono[0]
		r.havePrev = true
		r.pos = 0
	}

	// Upper bound on the number of output samples this block can produce.
	maxOut := int(math.Ceil((float64(len(mono))-r.pos)/r.step)) + 1
	r.out = grow(r.out, maxOut)
	n := 0
	last := float64(len(mono) - 1)
	for r.pos <= last && n < maxOut {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		var a, b float32
		if i < 0 {
			a, b = r.prev, mono[0]
		} else {
			a = mono[i]
			if i+1 < len(mono) {
				b = mono[i+1]
			} else {
				// Needs the next block; stop here and resume with this
				// sample as prev.
				if frac > 0 {
					break
				}
				b = a
			}
		}
		r.out[n] = a + (b-a)*frac
		n++
		r.pos += r.step
	}
	r.prev = mono[len(mono)-1]
	r.pos -= float64(len(mono))
	return r.out[:n]
}

// Reset clears the carried interpolation state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.havePrev = false
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
