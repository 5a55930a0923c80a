package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every backend of a [Chain] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the breaker created for every backend of a chain.
type FallbackConfig struct {
	Breaker BreakerConfig
}

type link[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable backends, primary first. Add
// backends before sharing the chain.
type Chain[T any] struct {
	cfg   FallbackConfig
	links []link[T]
}

// NewChain returns a chain holding only primary.
func NewChain[T any](primaryName string, primary T, cfg FallbackConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback backend.
func (c *Chain[T]) Add(name string, backend T) {
	c.links = append(c.links, link[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(name, c.cfg.Breaker),
	})
}

// Names returns the backend names in the order they are tried.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.name
	}
	return names
}

// States returns the breaker state of every backend by name.
func (c *Chain[T]) States() map[string]State {
	states := make(map[string]State, len(c.links))
	for _, l := range c.links {
		states[l.name] = l.breaker.State()
	}
	return states
}

// Primary returns the first backend.
func (c *Chain[T]) Primary() T { return c.links[0].backend }

// Call runs fn against each backend in order and returns the first success.
//
// Errors the breaker ignores are returned at once since another backend
// would not do better, and so is an expired or cancelled ctx. When every
// backend fails the result wraps [ErrAllFailed] and the last error.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, l := range c.links {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var out R
		err := l.breaker.Do(func() error {
			var err error
			out, err = fn(l.backend)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("resilience: served by fallback", "backend", l.name)
			}
			return out, nil
		case l.breaker.Ignores(err), errors.Is(err, context.DeadlineExceeded):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping backend", "backend", l.name, "reason", "circuit open")
		default:
			slog.Warn("resilience: backend failed", "backend", l.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
