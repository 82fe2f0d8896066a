package capture

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/pkg/audio/wav"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// Utterance is a persisted speech segment.
type Utterance struct {
	// ID is 1-based and strictly increasing within a session.
	ID int `json:"id"`

	// FilePath is the absolute path of the WAV file.
	FilePath string `json:"file_path"`

	// DurationMs is SampleCount·1000/16000, truncated.
	DurationMs int `json:"duration_ms"`

	// SampleCount is the number of 16 kHz samples in the file.
	SampleCount int `json:"sample_count"`
}

// FileName returns the file name used for utterance id.
func FileName(id int) string {
	return fmt.Sprintf("utterance_%04d.wav", id)
}

type persistJob struct {
	samples []int16
	mode    string
}

// persister writes utterances on its own goroutine so that file I/O never
// runs on the capture path. It owns the id counter: an id is consumed only
// by a successful write, which keeps the published ids gap-free.
type persister struct {
	dir     string
	jobs    chan persistJob
	done    chan struct{}
	metrics *observe.Metrics
	onErr   func(error)
	onUtt   func(Utterance)

	last int // last published id; writer goroutine only

	mu   sync.Mutex
	list []Utterance
}

func newPersister(dir string, queue int, m *observe.Metrics, onErr func(error), onUtt func(Utterance)) *persister {
	return &persister{
		dir:     dir,
		jobs:    make(chan persistJob, queue),
		done:    make(chan struct{}),
		metrics: m,
		onErr:   onErr,
		onUtt:   onUtt,
	}
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		p.write(job)
	}
}

func (p *persister) write(job persistJob) {
	ctx := context.Background()
	id := p.last + 1
	path := filepath.Join(p.dir, FileName(id))

	if err := wav.Write(path, job.samples, vad.SampleRate); err != nil {
		ioErr := &IOError{Op: "persist utterance", Path: path, Err: err}
		slog.Warn("capture: failed to save utterance", "id", id, "path", path, "err", err)
		if p.metrics != nil {
			p.metrics.PersistErrors.Add(ctx, 1)
		}
		if p.onErr != nil {
			p.onErr(ioErr)
		}
		return
	}

	p.last = id
	u := Utterance{
		ID:          id,
		FilePath:    path,
		DurationMs:  DurationMs(len(job.samples)),
		SampleCount: len(job.samples),
	}
	p.mu.Lock()
	p.list = append(p.list, u)
	p.mu.Unlock()

	slog.Info("capture: saved utterance", "id", id, "path", path, "duration_ms", u.DurationMs, "mode", job.mode)
	if p.metrics != nil {
		p.metrics.RecordUtterance(ctx, job.mode, float64(u.DurationMs)/1000)
	}
	if p.onUtt != nil {
		p.onUtt(u)
	}
}

// enqueue hands samples to the writer. It blocks only when the queue is
// full, which applies back-pressure to the consumer, never to the device.
func (p *persister) enqueue(samples []int16, mode string) {
	p.jobs <- persistJob{samples: samples, mode: mode}
}

// closeAndWait stops accepting jobs and waits for pending writes.
func (p *persister) closeAndWait() {
	close(p.jobs)
	<-p.done
}

func (p *persister) snapshot() []Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Utterance(nil), p.list...)
}
