// Package resilience keeps the bot answering when a model server goes away.
//
// A [Breaker] stops calls to a backend after repeated failures and lets a few
// probes through once a cooldown has passed. A [Chain] orders several
// backends of one kind, each behind its own breaker, and serves a request
// from the first one that succeeds. [LLMFallback], [STTFallback] and
// [TTSFallback] expose chains as the provider interfaces.
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

// ErrCircuitOpen is returned without calling the backend while a breaker is
// open or out of probes.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probes through.
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
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
	DefaultProbes    = 3
)

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults above.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// Cooldown is how long an open breaker rejects calls.
	Cooldown time.Duration

	// Probes is both the number of concurrent half-open calls allowed and the
	// number of successes needed to close again.
	Probes int

	// Ignore marks errors that say nothing about the backend, e.g. a bad
	// request. They count as neither success nor failure. context.Canceled is
	// always ignored. An expired deadline is a failure: a hung backend is
	// exactly what the breaker guards against.
	Ignore func(error) bool

	// OnStateChange observes transitions. It runs without the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker around one backend.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int // half-open probes running
	successes int // half-open probes that succeeded
}

// NewBreaker returns a closed [Breaker] labelled name in logs.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the label given to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker rejects the call with [ErrCircuitOpen], and
// records the outcome. fn's error is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	err = fn()
	b.report(probe, err)
	return err
}

// Ignores reports whether err leaves the breaker untouched.
func (b *Breaker) Ignores(err error) bool {
	return errors.Is(err, context.Canceled) || (b.cfg.Ignore != nil && b.cfg.Ignore(err))
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen] even before the next call moves it there.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.moveTo(StateClosed)
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) cooledDown() bool {
	return b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown
}

// allow decides whether a call may run and whether it is a half-open probe.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen {
		if !b.cooledDown() {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.moveTo(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.successes >= b.cfg.Probes {
			b.mu.Unlock()
			b.notify(from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.inFlight++
		probe = true
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return probe, nil
}

// report records the outcome of a call admitted by allow.
func (b *Breaker) report(probe bool, err error) {
	b.mu.Lock()
	from := b.state
	// A probe admitted before a Reset no longer belongs to this state.
	probe = probe && b.state == StateHalfOpen
	if probe {
		b.inFlight--
	}

	switch {
	case b.Ignores(err):
	case err == nil && probe:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.moveTo(StateClosed)
		}
	case err == nil:
		b.failures = 0
	case probe:
		b.moveTo(StateOpen)
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.Threshold {
			b.moveTo(StateOpen)
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// moveTo switches state and resets the counters of the new state. b.mu must
// be held.
func (b *Breaker) moveTo(s State) {
	b.state = s
	switch s {
	case StateClosed:
		b.failures = 0
	case StateOpen:
		b.openedAt = b.cfg.Now()
	}
	b.inFlight = 0
	b.successes = 0
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	switch to {
	case StateOpen:
		slog.Warn("resilience: breaker opened", "backend", b.name, "from", from.String(), "cooldown", b.cfg.Cooldown)
	default:
		slog.Info("resilience: breaker state changed", "backend", b.name, "from", from.String(), "to", to.String())
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
