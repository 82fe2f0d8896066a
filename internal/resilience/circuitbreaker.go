// Package resilience protects the application from unhealthy speech and
// language model backends.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [Group] chains a primary backend with fallbacks, each behind its own
// breaker, and [STT] and [LLM] adapt a group to the provider interfaces so
// the recording manager and the model generator never see the failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until ResetTimeout has passed since the last
	// failure.
	StateOpen

	// StateHalfOpen lets a few probe calls through. One failure re-opens the
	// breaker; ProbeCalls successes close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker defaults.
const (
	DefaultMaxFailures  = 3
	DefaultResetTimeout = 30 * time.Second
	DefaultProbeCalls   = 1
)

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// ProbeCalls is the number of successful half-open calls needed to
	// close the breaker.
	ProbeCalls int
}

// Breaker is a circuit breaker. Errors caused by a cancelled context are
// not the backend's fault and are never counted as failures.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	probeOKs int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.ProbeCalls <= 0 {
		cfg.ProbeCalls = DefaultProbeCalls
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute calls fn unless the breaker is open. While half-open only
// ProbeCalls calls may be in flight; the rest get [ErrCircuitOpen].
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.succeeded(probe)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if probe {
			b.probes--
		}
	default:
		b.failed(probe)
	}
	return err
}

// admit decides whether a call may run and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.probeOKs = 0, 0
		slog.Info("circuit half-open, probing", "name", b.cfg.Name)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.ProbeCalls {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// succeeded must be called with b.mu held.
func (b *Breaker) succeeded(probe bool) {
	if !probe {
		b.failures = 0
		return
	}
	b.probeOKs++
	if b.probeOKs >= b.cfg.ProbeCalls {
		b.state = StateClosed
		b.failures, b.probes, b.probeOKs = 0, 0, 0
		slog.Info("circuit closed", "name", b.cfg.Name)
	}
}

// failed must be called with b.mu held.
func (b *Breaker) failed(probe bool) {
	if probe {
		b.trip()
		slog.Warn("circuit re-opened after failed probe", "name", b.cfg.Name)
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
		b.trip()
		slog.Warn("circuit opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
}

// State reports the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = StateClosed
	b.failures, b.probes, b.probeOKs = 0, 0, 0
	b.mu.Unlock()
}
