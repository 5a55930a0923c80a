// Package memory persists the per-user conversation history the assistant
// sends along with every question.
//
// A history is an ordered list of [Turn] values, oldest first. The
// conversation manager loads it, trims it to its token budget and writes the
// whole list back after a successful answer, so stores only need whole-list
// semantics. [InMemoryStore] is the default; package postgres provides a
// durable implementation.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"slices"
	"sync"
)

// HistoryStore holds one conversation history per user.
type HistoryStore interface {
	// Load returns userID's history, oldest first. A user without history
	// yields an empty slice and no error.
	Load(ctx context.Context, userID string) ([]Turn, error)

	// Replace atomically overwrites userID's history with turns.
	Replace(ctx context.Context, userID string, turns []Turn) error

	// Clear removes userID's history. existed reports whether there was
	// anything to remove.
	Clear(ctx context.Context, userID string) (existed bool, err error)
}

// InMemoryStore is a process-local [HistoryStore]. Histories are lost on
// restart.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

var _ HistoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

// Load implements [HistoryStore]. The returned slice is a copy.
func (s *InMemoryStore) Load(_ context.Context, userID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.turns[userID]), nil
}

// Replace implements [HistoryStore]. An empty turns deletes the history.
func (s *InMemoryStore) Replace(_ context.Context, userID string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(turns) == 0 {
		delete(s.turns, userID)
		return nil
	}
	s.turns[userID] = slices.Clone(turns)
	return nil
}

// Clear implements [HistoryStore].
func (s *InMemoryStore) Clear(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.turns[userID]
	delete(s.turns, userID)
	return ok, nil
}

// Users returns the number of users with a stored history.
func (s *InMemoryStore) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
