package capture

import "sync/atomic"

// slotSize is the largest block a single ring slot holds. Longer callback
// blocks are split across consecutive slots.
const slotSize = 4096

// blockRing is a lock-free single-producer single-consumer queue of float32
// blocks. The producer is the audio callback; push never blocks or
// allocates. Block boundaries are preserved so that per-block processing
// downstream sees the same blocks the device delivered.
type blockRing struct {
	slots [][]float32
	lens  []int
	mask  uint64

	head atomic.Uint64 // next slot to write; producer-owned
	tail atomic.Uint64 // next slot to read; consumer-owned

	// notify wakes the consumer. Sends are non-blocking.
	notify chan struct{}

	overruns atomic.Uint64
}

// newBlockRing returns a ring able to hold at least capacity samples.
func newBlockRing(capacity int) *blockRing {
	n := 1
	for n*slotSize < capacity {
		n <<= 1
	}
	r := &blockRing{
		slots:  make([][]float32, n),
		lens:   make([]int, n),
		mask:   uint64(n - 1),
		notify: make(chan struct{}, 1),
	}
	for i := range r.slots {
		r.slots[i] = make([]float32, slotSize)
	}
	return r
}

// push copies p into the ring. If the ring cannot take all of p, nothing is
// written, the overrun counter is incremented and false is returned.
func (r *blockRing) push(p []float32) bool {
	if len(p) == 0 {
		return true
	}
	need := uint64((len(p) + slotSize - 1) / slotSize)
	h := r.head.Load()
	t := r.tail.Load()
	if h-t+need > uint64(len(r.slots)) {
		r.overruns.Add(1)
		return false
	}
	for i := range need {
		idx := (h + i) & r.mask
		r.lens[idx] = copy(r.slots[idx], p[i*slotSize:])
	}
	r.head.Store(h + need)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

// pop hands the oldest block to fn and releases its slot afterwards. It
// reports false when the ring is empty.
func (r *blockRing) pop(fn func(block []float32)) bool {
	t := r.tail.Load()
	if t == r.head.Load() {
		return false
	}
	idx := t & r.mask
	fn(r.slots[idx][:r.lens[idx]])
	r.tail.Store(t + 1)
	return true
}
