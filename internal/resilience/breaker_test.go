package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type transition struct{ from, to State }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *clock, *[]transition) {
	clk := newClock()
	var seen []transition
	cfg.Now = clk.Now
	cfg.OnStateChange = func(_ string, from, to State) { seen = append(seen, transition{from, to}) }
	return NewBreaker("lmstudio", cfg), clk, &seen
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker("x", BreakerConfig{})
	if b.cfg.Threshold != DefaultThreshold || b.cfg.Cooldown != DefaultCooldown || b.cfg.Probes != DefaultProbes {
		t.Errorf("defaults = %d/%v/%d", b.cfg.Threshold, b.cfg.Cooldown, b.cfg.Probes)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
	if b.Name() != "x" {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _, seen := newTestBreaker(BreakerConfig{Threshold: 3})

	for i := range 3 {
		if err := b.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	if err := b.Do(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker must not call the backend")
	}
	if len(*seen) != 1 || (*seen)[0] != (transition{StateClosed, StateOpen}) {
		t.Errorf("transitions = %v", *seen)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBreaker(BreakerConfig{Threshold: 3})

	for _, fn := range []func() error{fail, fail, succeed, fail, fail} {
		_ = b.Do(fn)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed: failures were not consecutive", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func() error
		want   State
	}{
		{name: "all probes succeed", probes: []func() error{succeed, succeed}, want: StateClosed},
		{name: "first probe fails", probes: []func() error{fail}, want: StateOpen},
		{name: "second probe fails", probes: []func() error{succeed, fail}, want: StateOpen},
		{name: "one success is not enough", probes: []func() error{succeed}, want: StateHalfOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clk, _ := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute, Probes: 2})
			_ = b.Do(fail)

			clk.Advance(59 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("state before cooldown = %v, want open", b.State())
			}
			clk.Advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cooldown = %v, want half-open", b.State())
			}

			for _, probe := range tt.probes {
				_ = b.Do(probe)
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()
	b, clk, _ := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Probes: 1})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IgnoredErrors(t *testing.T) {
	t.Parallel()
	errBadRequest := errors.New("bad request")
	b, clk, _ := newTestBreaker(BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Second,
		Probes:    1,
		Ignore:    func(err error) bool { return errors.Is(err, errBadRequest) },
	})

	for _, err := range []error{context.Canceled, fmt.Errorf("wrapped: %w", errBadRequest)} {
		if got := b.Do(func() error { return err }); !errors.Is(got, err) {
			t.Errorf("Do returned %v, want %v", got, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("ignored errors tripped the breaker: %v", b.State())
	}

	// An ignored error in half-open gives the probe slot back.
	_ = b.Do(fail)
	clk.Advance(time.Second)
	_ = b.Do(func() error { return errBadRequest })
	if err := b.Do(succeed); err != nil {
		t.Errorf("probe after ignored error: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_DeadlineIsAFailure(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBreaker(BreakerConfig{Threshold: 1})
	_ = b.Do(func() error { return context.DeadlineExceeded })
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after a deadline", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _, seen := newTestBreaker(BreakerConfig{Threshold: 1})
	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Errorf("Do after reset: %v", err)
	}
	want := []transition{{StateClosed, StateOpen}, {StateOpen, StateClosed}}
	if len(*seen) != len(want) || (*seen)[0] != want[0] || (*seen)[1] != want[1] {
		t.Errorf("transitions = %v, want %v", *seen, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
