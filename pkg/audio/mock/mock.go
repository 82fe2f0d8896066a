// Package mock provides in-memory implementations of [audio.Backend] and
// [audio.Stream] for use in unit tests.
//
// A [Backend] replays a scripted sequence of [Block] values through the
// stream callback from a single goroutine, the way a real driver thread
// would. Tests wait on [Stream.Done] to know every block was delivered.
//
// Typical usage:
//
//	b := &mock.Backend{
//	    DevicesResult: []audio.DeviceInfo{{Name: "mic", IsDefault: true, SampleRate: 16000, Channels: 1}},
//	    Blocks:        mock.Split(samples, 480),
//	}
//	dev, _ := b.DefaultDevice()
//	s, _ := b.Open(dev, cb)
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/domainscribe/pkg/audio"
)

// Block is one scripted callback invocation.
type Block struct {
	Samples []float32
	Err     error
}

// Split cuts samples into blocks of n values each (the last may be shorter).
func Split(samples []float32, n int) []Block {
	var out []Block
	for off := 0; off < len(samples); off += n {
		end := min(off+n, len(samples))
		out = append(out, Block{Samples: samples[off:end]})
	}
	return out
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices. The first entry with IsDefault
	// set is returned by DefaultDevice.
	DevicesResult []audio.DeviceInfo

	// DevicesErr is returned by Devices and DefaultDevice.
	DevicesErr error

	// OpenErr is returned by Open.
	OpenErr error

	// StartErr is returned by the stream's Start.
	StartErr error

	// Blocks are delivered in order after Start.
	Blocks []Block

	// Interval is the pause between blocks. Zero delivers as fast as possible.
	Interval time.Duration

	// StopDelay makes the stream's Stop hang for this long before returning,
	// simulating a stalled driver.
	StopDelay time.Duration

	// Opened records every stream returned by Open.
	Opened []*Stream

	// OpenedDevices records the device passed to each Open call.
	OpenedDevices []audio.DeviceInfo
}

var _ audio.Backend = (*Backend)(nil)

// Devices implements [audio.Backend].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DevicesErr != nil {
		return nil, b.DevicesErr
	}
	return append([]audio.DeviceInfo(nil), b.DevicesResult...), nil
}

// DefaultDevice implements [audio.Backend].
func (b *Backend) DefaultDevice() (audio.DeviceInfo, error) {
	devs, err := b.Devices()
	if err != nil {
		return audio.DeviceInfo{}, err
	}
	for _, d := range devs {
		if d.IsDefault {
			return d, nil
		}
	}
	return audio.DeviceInfo{}, audio.ErrNoDevice
}

// Open implements [audio.Backend].
func (b *Backend) Open(dev audio.DeviceInfo, cb audio.Callback) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenedDevices = append(b.OpenedDevices, dev)
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	s := &Stream{
		cb:        cb,
		blocks:    b.Blocks,
		interval:  b.Interval,
		startErr:  b.StartErr,
		stopDelay: b.StopDelay,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	b.Opened = append(b.Opened, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (b *Backend) LastStream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Opened) == 0 {
		return nil
	}
	return b.Opened[len(b.Opened)-1]
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	cb        audio.Callback
	blocks    []Block
	interval  time.Duration
	startErr  error
	stopDelay time.Duration

	mu       sync.Mutex
	started  bool
	quitOnce sync.Once
	quit     chan struct{} // closed by Stop/Abort
	done     chan struct{} // closed once every block was delivered
	exited   chan struct{} // closed when the feeder goroutine returns

	// Call counters, read with the accessor methods.
	stops, aborts, closes int
}

var _ audio.Stream = (*Stream)(nil)

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	if s.started {
		return errors.New("mock: stream already started")
	}
	s.started = true
	go s.feed()
	return nil
}

func (s *Stream) feed() {
	defer close(s.exited)
	for _, blk := range s.blocks {
		select {
		case <-s.quit:
			return
		default:
		}
		s.cb(blk.Samples, blk.Err)
		if s.interval > 0 {
			select {
			case <-s.quit:
				return
			case <-time.After(s.interval):
			}
		}
	}
	close(s.done)
}

// Done is closed once every scripted block has been delivered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stop implements [audio.Stream]. It waits for the feeder goroutine, then
// sleeps for the configured StopDelay.
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.stops++
	started := s.started
	s.mu.Unlock()
	s.quitOnce.Do(func() { close(s.quit) })
	if started {
		<-s.exited
	}
	if s.stopDelay > 0 {
		time.Sleep(s.stopDelay)
	}
	return nil
}

// Abort implements [audio.Stream]. It does not wait.
func (s *Stream) Abort() error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	s.quitOnce.Do(func() { close(s.quit) })
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Stops returns how many times Stop was called.
func (s *Stream) Stops() int { s.mu.Lock(); defer s.mu.Unlock(); return s.stops }

// Aborts returns how many times Abort was called.
func (s *Stream) Aborts() int { s.mu.Lock(); defer s.mu.Unlock(); return s.aborts }

// Closes returns how many times Close was called.
func (s *Stream) Closes() int { s.mu.Lock(); defer s.mu.Unlock(); return s.closes }
