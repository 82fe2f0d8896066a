package recording

import (
	"errors"
	"fmt"
)

var (
	// ErrState is wrapped by every [StateError].
	ErrState = errors.New("recording: invalid state")

	// ErrAlreadyRecording is returned by StartRecording outside Idle.
	ErrAlreadyRecording = errors.New("recording: already recording")

	// ErrNotRecording is returned by StopRecording outside Recording.
	ErrNotRecording = errors.New("recording: not recording")

	// ErrBusy is returned by SetDevice outside Idle.
	ErrBusy = errors.New("recording: busy")
)

// StateError reports an operation attempted in the wrong state. It matches
// both [ErrState] and its specific sentinel with errors.Is.
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: cannot %s while %s", e.Err, e.Op, e.State)
}

// Unwrap returns the specific sentinel and [ErrState].
func (e *StateError) Unwrap() []error { return []error{e.Err, ErrState} }
