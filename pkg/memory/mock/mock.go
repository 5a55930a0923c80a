// Package mock provides a test double for [memory.HistoryStore].
//
// Store keeps histories in a map like the in-memory store does, records every
// call and lets tests inject errors per method.
//
// Typical usage:
//
//	store := &mock.Store{ReplaceErr: errors.New("disk full")}
//	mgr := conversation.NewManager(store, llmProvider, 1800)
//	if got := store.CallCount("Replace"); got != 1 { … }
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/murmur/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// UserID is the user the call was made for.
	UserID string

	// Turns is a copy of the turns passed to Replace.
	Turns []memory.Turn
}

// Store is a configurable test double for [memory.HistoryStore].
type Store struct {
	mu    sync.Mutex
	calls []Call
	data  map[string][]memory.Turn

	// LoadErr is returned by Load when non-nil.
	LoadErr error

	// ReplaceErr is returned by Replace when non-nil; the history is left
	// unchanged.
	ReplaceErr error

	// ClearErr is returned by Clear when non-nil.
	ClearErr error
}

var _ memory.HistoryStore = (*Store)(nil)

// Seed sets userID's history without recording a call.
func (s *Store) Seed(userID string, turns []memory.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]memory.Turn)
	}
	s.data[userID] = slices.Clone(turns)
}

// History returns userID's stored history without recording a call.
func (s *Store) History(userID string) []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data[userID])
}

// Load implements [memory.HistoryStore].
func (s *Store) Load(_ context.Context, userID string) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Load", UserID: userID})
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return slices.Clone(s.data[userID]), nil
}

// Replace implements [memory.HistoryStore].
func (s *Store) Replace(_ context.Context, userID string, turns []memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Replace", UserID: userID, Turns: slices.Clone(turns)})
	if s.ReplaceErr != nil {
		return s.ReplaceErr
	}
	if s.data == nil {
		s.data = make(map[string][]memory.Turn)
	}
	s.data[userID] = slices.Clone(turns)
	return nil
}

// Clear implements [memory.HistoryStore].
func (s *Store) Clear(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Clear", UserID: userID})
	if s.ClearErr != nil {
		return false, s.ClearErr
	}
	_, ok := s.data[userID]
	delete(s.data, userID)
	return ok, nil
}

// Calls returns a copy of all recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
