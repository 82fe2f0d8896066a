package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is wrapped by a [*DeviceError] when DeviceHint names
	// no available input device.
	ErrDeviceNotFound = errors.New("capture: input device not found")

	// ErrSessionUsed is returned by [Session.StartRecording] on a session
	// that has already recorded.
	ErrSessionUsed = errors.New("capture: session already started")
)

// DeviceError reports a failure to resolve, open or start the input device.
type DeviceError struct {
	Op     string // "resolve", "open", "start"
	Device string
	Err    error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("capture: %s default device: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("capture: %s device %q: %v", e.Op, e.Device, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// IOError reports a filesystem failure: creating the output directory or
// persisting an utterance.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("capture: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error { return e.Err }
