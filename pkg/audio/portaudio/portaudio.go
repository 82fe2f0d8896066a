// Package portaudio implements [audio.Backend] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// Streams are input-only and callback driven. Each device is opened at its
// default sample rate with at most two channels; the capture pipeline
// downmixes and resamples to 16 kHz mono itself.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/domainscribe/pkg/audio"
)

// maxChannels caps the number of channels requested from a device.
const maxChannels = 2

// Backend is a PortAudio-backed [audio.Backend]. Create one with [New] and
// release it with [Backend.Close].
type Backend struct {
	mu     sync.Mutex
	closed bool
}

var _ audio.Backend = (*Backend)(nil)

// New initialises PortAudio. Every successful call must be paired with
// [Backend.Close].
func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{}, nil
}

// Close terminates PortAudio. It is safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Devices implements [audio.Backend].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	out := make([]audio.DeviceInfo, 0, len(devs))
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, toDeviceInfo(d, def != nil && d.Index == def.Index))
	}
	return out, nil
}

// DefaultDevice implements [audio.Backend].
func (b *Backend) DefaultDevice() (audio.DeviceInfo, error) {
	d, err := pa.DefaultInputDevice()
	if err != nil {
		if errors.Is(err, pa.NoDefaultInputDevice) {
			return audio.DeviceInfo{}, audio.ErrNoDevice
		}
		return audio.DeviceInfo{}, fmt.Errorf("portaudio: default input device: %w", err)
	}
	return toDeviceInfo(d, true), nil
}

// Open implements [audio.Backend]. The device is looked up again by name so
// that a [audio.DeviceInfo] from an earlier listing stays usable.
func (b *Backend) Open(dev audio.DeviceInfo, cb audio.Callback) (audio.Stream, error) {
	d, err := lookup(dev.Name)
	if err != nil {
		return nil, err
	}

	params := pa.HighLatencyParameters(d, nil)
	params.Input.Channels = min(d.MaxInputChannels, maxChannels)
	params.Output.Channels = 0
	params.FramesPerBuffer = pa.FramesPerBufferUnspecified

	s, err := pa.OpenStream(params, func(in []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
		if flags&pa.InputOverflow != 0 {
			cb(nil, &audio.CallbackError{Status: "input overflow"})
			return
		}
		cb(in, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	return &stream{s: s}, nil
}

func lookup(name string) (*pa.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devs {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found", name)
}

func toDeviceInfo(d *pa.DeviceInfo, isDefault bool) audio.DeviceInfo {
	return audio.DeviceInfo{
		Name:       d.Name,
		IsDefault:  isDefault,
		SampleRate: int(d.DefaultSampleRate),
		Channels:   min(d.MaxInputChannels, maxChannels),
	}
}

// stream adapts *pa.Stream to [audio.Stream].
type stream struct {
	s *pa.Stream
}

func (s *stream) Start() error { return wrap("start", s.s.Start()) }
func (s *stream) Stop() error  { return wrap("stop", s.s.Stop()) }
func (s *stream) Abort() error { return wrap("abort", s.s.Abort()) }
func (s *stream) Close() error { return wrap("close", s.s.Close()) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("portaudio: %s stream: %w", op, err)
}
