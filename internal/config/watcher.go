package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// stamp is the cheap part of a file's identity, compared on every poll
// before the content is read and hashed.
type stamp struct {
	size  int64
	mtime time.Time
}

func stampOf(fi os.FileInfo) stamp { return stamp{size: fi.Size(), mtime: fi.ModTime()} }

func (s stamp) same(o stamp) bool { return s.size == o.size && s.mtime.Equal(o.mtime) }

// Watcher polls a config file and hands every valid content change to
// onChange as (previous, new). Edits that fail to parse or validate are
// logged and skipped; [Watcher.Current] keeps returning the last good config.
//
// Editors that save by rename make the file vanish briefly. A missing file
// is reported once and otherwise waited out.
type Watcher struct {
	path     string
	interval time.Duration
	getenv   func(string) string
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	stamp   stamp
	sum     [sha256.Size]byte
	missing bool

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period (default 5s).
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchEnv sets the environment lookup used for ${VAR} expansion on
// every reload (default [os.Getenv]).
func WithWatchEnv(getenv func(string) string) WatcherOption {
	return func(w *Watcher) { w.getenv = getenv }
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultWatchInterval, getenv: os.Getenv, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, sum, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp, w.sum = cfg, stampOf(fi), sum

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel, w.done = cancel, make(chan struct{})
	go w.run(ctx)
	return w, nil
}

// Current returns the last config that loaded and validated.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight onChange to return. It may
// be called more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	log := slog.With("path", w.path)

	fi, err := os.Stat(w.path)
	if err != nil {
		if !w.missing {
			log.Warn("config: file unavailable, keeping current config", "err", err)
			w.missing = true
		}
		return
	}
	if w.missing {
		log.Info("config: file is back")
		w.missing = false
	}

	st := stampOf(fi)
	if st.same(w.stamp) {
		return
	}
	cfg, sum, err := w.load()
	if err != nil {
		log.Warn("config: reload rejected, keeping current config", "err", err)
		// Retry only once the file changes again.
		w.stamp = st
		return
	}
	w.stamp = st
	if sum == w.sum {
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	log.Info("config: reloaded")
	if w.onChange != nil {
		w.onChange(prev, cfg)
	}
}

// load reads, expands, parses and validates the file.
func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data), WithEnv(w.getenv))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
