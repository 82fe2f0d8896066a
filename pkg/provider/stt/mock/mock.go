// Package mock provides a test double for stt.Transcriber.
//
// Replies are looked up by the base name of the transcribed file, so tests
// can script per-utterance text, latency, and failures:
//
//	tr := &mock.Transcriber{
//	    Replies: map[string]mock.Reply{
//	        "utterance_0001.wav": {Text: "first", Delay: 200 * time.Millisecond},
//	        "utterance_0002.wav": {Err: errors.New("boom")},
//	    },
//	}
package mock

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/domainscribe/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Reply scripts the outcome for one file.
type Reply struct {
	Text     string
	Language string
	Delay    time.Duration
	Err      error
}

// Call records a single invocation of Transcriber.Transcribe.
type Call struct {
	Path  string
	Start time.Time
	End   time.Time
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Replies maps file base names to scripted outcomes.
	Replies map[string]Reply

	// Default is used for files with no entry in Replies.
	Default Reply

	calls    []Call
	inFlight int
	maxConc  int
}

// Transcribe records the call, waits for the scripted delay (or ctx), and
// returns the scripted reply.
func (m *Transcriber) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	m.mu.Lock()
	r, ok := m.Replies[filepath.Base(path)]
	if !ok {
		r = m.Default
	}
	m.inFlight++
	m.maxConc = max(m.maxConc, m.inFlight)
	idx := len(m.calls)
	m.calls = append(m.calls, Call{Path: path, Start: time.Now()})
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.calls[idx].End = time.Now()
		m.mu.Unlock()
	}()

	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, &stt.TranscriptionError{Path: path, Err: r.Err}
	}
	res := &stt.Result{Text: r.Text, DurationMs: r.Delay.Milliseconds()}
	if r.Language != "" {
		lang := r.Language
		res.Language = &lang
	}
	return res, nil
}

// Calls returns a copy of every recorded call in invocation order.
func (m *Transcriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// MaxConcurrent returns the largest number of Transcribe calls that were in
// flight at the same time.
func (m *Transcriber) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConc
}
