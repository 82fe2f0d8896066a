// Package mock provides test doubles for the vad package.
//
// Use [Classifier] to script verdicts or errors and inspect how often it was
// called. [Amplitude] is a convenience that labels frames by peak level,
// which is enough to drive the segmenter with synthetic tones.
//
// Example:
//
//	c := &mock.Classifier{Results: []bool{true, true, false}}
//	a := vad.NewAdapter(c)
package mock

import (
	"sync"

	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// Classifier is a mock implementation of [vad.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Fn, when set, decides every frame and takes precedence over Results.
	Fn func(frame []int16) (bool, error)

	// Results are returned in order. Once exhausted, Default is returned.
	Results []bool

	// Default is returned when neither Fn nor Results apply.
	Default bool

	// Err, if non-nil, is returned from every call.
	Err error

	calls      int
	concurrent int
	inFlight   bool
}

var _ vad.Classifier = (*Classifier)(nil)

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []int16) (bool, error) {
	c.mu.Lock()
	if c.inFlight {
		c.concurrent++
	}
	c.inFlight = true
	idx := c.calls
	c.calls++
	fn, err, results, def := c.Fn, c.Err, c.Results, c.Default
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if err != nil {
		return false, err
	}
	if fn != nil {
		return fn(frame)
	}
	if idx < len(results) {
		return results[idx], nil
	}
	return def, nil
}

// CallCount returns the number of Classify calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// ConcurrentCount returns how many calls entered Classify while another was
// still running.
func (c *Classifier) ConcurrentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concurrent
}

// Amplitude returns a Classifier that labels a frame as speech when its peak
// absolute sample exceeds threshold.
func Amplitude(threshold int16) *Classifier {
	return &Classifier{Fn: func(frame []int16) (bool, error) {
		for _, s := range frame {
			if s > threshold || s < -threshold {
				return true, nil
			}
		}
		return false, nil
	}}
}
