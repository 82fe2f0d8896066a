package capture

import "math"

const (
	agcPeakDecay  = 0.95
	agcMinPeak    = 0.01
	agcAttack     = 0.2  // weight of the target when reducing gain
	agcRelease    = 0.01 // weight of the target when raising gain
	agcMinGain    = 0.1
	agcMaxGain    = 10.0
	int16FullBase = 32768.0
)

// Gain converts float blocks to 16-bit PCM with a static gain followed by
// optional automatic gain control.
//
// AGC keeps a decaying peak estimate and moves the applied gain towards
// target/peak, quickly when the gain must drop and slowly when it may rise.
// The applied gain is clamped to [0.1, 10].
//
// Gain is not safe for concurrent use.
type Gain struct {
	static  float32
	agc     bool
	target  float32
	peak    float32
	current float32
}

// NewGain returns a Gain stage. agcTarget is ignored when agc is false.
func NewGain(static float32, agc bool, agcTarget float32) *Gain {
	return &Gain{static: static, agc: agc, target: agcTarget, current: 1.0}
}

// Process converts in and appends the result to out[:0], growing it if
// needed. The returned slice aliases out when it has enough capacity.
func (g *Gain) Process(in []float32, out []int16) []int16 {
	if cap(out) < len(in) {
		out = make([]int16, len(in))
	}
	out = out[:len(in)]

	var maxAbs int32
	for i, s := range in {
		v := s * g.static
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		q := int16(math.Round(float64(v) * 32767))
		out[i] = q
		a := int32(q)
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}

	if !g.agc {
		return out
	}

	blockPeak := float32(maxAbs) / int16FullBase
	g.peak = max(blockPeak, g.peak*agcPeakDecay)
	if g.peak <= agcMinPeak {
		return out
	}

	target := g.target / g.peak
	if target < g.current {
		g.current = g.current*(1-agcAttack) + target*agcAttack
	} else {
		g.current = g.current*(1-agcRelease) + target*agcRelease
	}
	g.current = min(max(g.current, agcMinGain), agcMaxGain)

	for i, s := range out {
		out[i] = saturate(math.Round(float64(s) * float64(g.current)))
	}
	return out
}

// CurrentGain returns the AGC gain applied to the last block.
func (g *Gain) CurrentGain() float32 { return g.current }

// Peak returns the running AGC peak estimate.
func (g *Gain) Peak() float32 { return g.peak }

func saturate(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
