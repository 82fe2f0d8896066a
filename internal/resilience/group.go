package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/domainscribe/internal/observe"
)

// ErrAllFailed is returned when every backend in a [Group] failed or was
// skipped because its circuit was open.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable backends: a primary followed
// by fallbacks. Each member has its own [Breaker].
type Group[T any] struct {
	kind    string
	cfg     BreakerConfig
	members []member[T]
	metrics *observe.Metrics
}

// NewGroup returns a group of the given provider kind ("stt", "llm") with
// primary as its first member. cfg.Name is replaced by each member's name.
func NewGroup[T any](kind, name string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{kind: kind, cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback. Fallbacks are tried in the order they were added.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = g.kind + "/" + name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// WithMetrics records skipped and failed members as provider requests with
// status "circuit_open" or "failover".
func (g *Group[T]) WithMetrics(m *observe.Metrics) *Group[T] {
	g.metrics = m
	return g
}

// Len reports the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Breaker returns the breaker guarding the i-th member.
func (g *Group[T]) Breaker(i int) *Breaker { return g.members[i].breaker }

// Do calls fn on each member in order until one succeeds. Members with an
// open circuit are skipped. A cancelled ctx stops the walk and its error is
// returned unwrapped.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				observe.Logger(ctx).Info("served by fallback", "kind", g.kind, "provider", m.name)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}

		status := "failover"
		if errors.Is(err, ErrCircuitOpen) {
			status = "circuit_open"
			slog.Debug("skipping backend with open circuit", "kind", g.kind, "provider", m.name)
		} else {
			observe.Logger(ctx).Warn("backend failed, trying next", "kind", g.kind, "provider", m.name, "err", err)
		}
		if g.metrics != nil {
			g.metrics.RecordProviderRequest(ctx, m.name, g.kind, status)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
