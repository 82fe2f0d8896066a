// Package audio defines the interfaces and types for microphone capture.
//
// The two primary abstractions are:
//
//   - [Backend]: enumerates input devices and opens callback-driven streams.
//   - [Stream]: an opened input stream with an explicit start/stop lifecycle.
//
// Implementations live in sub-packages (audio/portaudio for real hardware,
// audio/mock for tests). The interfaces are intentionally narrow so that the
// capture pipeline stays decoupled from the host audio API.
package audio

import (
	"errors"
	"fmt"
)

// ErrNoDevice is returned by [Backend.DefaultDevice] when the host has no
// input device at all.
var ErrNoDevice = errors.New("audio: no input device available")

// Callback receives interleaved float32 samples in the device's native
// format. It is invoked on a real-time thread owned by the backend:
// implementations must not block, allocate, or log.
//
// When err is non-nil the block is unusable (for example an input overflow).
// Backends report such transient conditions as [*CallbackError].
type Callback func(in []float32, err error)

// Stream is an opened input stream.
//
// Start begins delivering blocks to the callback. Stop waits for pending
// callbacks to finish; Abort returns as soon as possible without waiting.
// Close releases the stream and must be called exactly once after Stop or
// Abort.
type Stream interface {
	Start() error
	Stop() error
	Abort() error
	Close() error
}

// Backend enumerates input devices and opens streams on them.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Devices lists every device that has at least one input channel.
	Devices() ([]DeviceInfo, error)

	// DefaultDevice returns the system default input device.
	DefaultDevice() (DeviceInfo, error)

	// Open prepares an input stream on dev at its native format. The stream
	// is not started.
	Open(dev DeviceInfo, cb Callback) (Stream, error)
}

// CallbackError is a transient error reported by the backend to the stream
// callback. It never ends capture by itself.
type CallbackError struct {
	// Status is the backend's description of the condition.
	Status string
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("audio: stream callback: %s", e.Status)
}

// FindDevice returns the device in devs whose name equals name exactly.
func FindDevice(devs []DeviceInfo, name string) (DeviceInfo, bool) {
	for _, d := range devs {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceInfo{}, false
}
