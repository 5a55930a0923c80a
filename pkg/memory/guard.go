package memory

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [HistoryStore] so a failing backend does not stop the
// assistant from answering. Load failures yield an empty history and Replace
// failures are logged and dropped; the question is then answered without
// context. Clear errors are still returned, since the user asked for the
// removal explicitly.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    HistoryStore
	degraded atomic.Bool
}

var _ HistoryStore = (*Guard)(nil)

// NewGuard creates a [Guard] around store.
func NewGuard(store HistoryStore) *Guard {
	return &Guard{store: store}
}

// Load returns userID's history, or an empty one if the store fails.
func (g *Guard) Load(ctx context.Context, userID string) ([]Turn, error) {
	turns, err := g.store.Load(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		g.degraded.Store(true)
		slog.Warn("memory guard: Load failed, answering without history", "user_id", userID, "err", err)
		return []Turn{}, nil
	}
	g.degraded.Store(false)
	return turns, nil
}

// Replace writes turns through. A store failure is logged and swallowed.
func (g *Guard) Replace(ctx context.Context, userID string, turns []Turn) error {
	if err := g.store.Replace(ctx, userID, turns); err != nil {
		if ctx.Err() != nil {
			return err
		}
		g.degraded.Store(true)
		slog.Warn("memory guard: Replace failed, history not saved", "user_id", userID, "turns", len(turns), "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Clear delegates to the store and returns its error.
func (g *Guard) Clear(ctx context.Context, userID string) (bool, error) {
	existed, err := g.store.Clear(ctx, userID)
	g.degraded.Store(err != nil && ctx.Err() == nil)
	return existed, err
}

// IsDegraded reports whether the most recent store operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
