package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/murmur/pkg/memory"
	memorymock "github.com/MrWong99/murmur/pkg/memory/mock"
)

func TestGuard_Load(t *testing.T) {
	t.Parallel()

	t.Run("passes history through", func(t *testing.T) {
		t.Parallel()
		store := &memorymock.Store{}
		store.Seed("u1", []memory.Turn{{Role: "user", Content: "salut"}})
		g := memory.NewGuard(store)

		turns, err := g.Load(context.Background(), "u1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(turns) != 1 {
			t.Errorf("got %d turns, want 1", len(turns))
		}
		if g.IsDegraded() {
			t.Error("should not be degraded after a successful load")
		}
	})

	t.Run("failure yields empty history", func(t *testing.T) {
		t.Parallel()
		store := &memorymock.Store{LoadErr: errors.New("connection refused")}
		g := memory.NewGuard(store)

		turns, err := g.Load(context.Background(), "u1")
		if err != nil {
			t.Fatalf("expected swallowed error, got %v", err)
		}
		if turns == nil || len(turns) != 0 {
			t.Errorf("expected empty non-nil history, got %v", turns)
		}
		if !g.IsDegraded() {
			t.Error("should be degraded after a failed load")
		}
	})

	t.Run("cancellation is returned", func(t *testing.T) {
		t.Parallel()
		store := &memorymock.Store{LoadErr: context.Canceled}
		g := memory.NewGuard(store)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := g.Load(ctx, "u1"); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
		if g.IsDegraded() {
			t.Error("cancellation must not mark the store degraded")
		}
	})
}

func TestGuard_ReplaceRecovers(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{ReplaceErr: errors.New("disk full")}
	g := memory.NewGuard(store)
	turns := []memory.Turn{{Role: "user", Content: "q"}, {Role: "assistant", Content: "r"}}

	if err := g.Replace(context.Background(), "u1", turns); err != nil {
		t.Fatalf("expected swallowed error, got %v", err)
	}
	if !g.IsDegraded() {
		t.Error("should be degraded after a failed replace")
	}

	store.ReplaceErr = nil
	if err := g.Replace(context.Background(), "u1", turns); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.IsDegraded() {
		t.Error("should recover after a successful replace")
	}
	if got := len(store.History("u1")); got != 2 {
		t.Errorf("stored %d turns, want 2", got)
	}
}

func TestGuard_ClearReturnsErrors(t *testing.T) {
	t.Parallel()
	want := errors.New("timeout")
	g := memory.NewGuard(&memorymock.Store{ClearErr: want})

	if _, err := g.Clear(context.Background(), "u1"); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
	if !g.IsDegraded() {
		t.Error("should be degraded after a failed clear")
	}
}
