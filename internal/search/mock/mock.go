// Package mock provides a test double for [search.Searcher].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/internal/search"
)

// Call records one Search invocation.
type Call struct {
	Query string
	Limit int
}

// Searcher is a mock implementation of [search.Searcher].
type Searcher struct {
	mu sync.Mutex

	// Results is returned by Search, truncated to the requested limit.
	Results []search.Result

	// Err, if non-nil, is returned instead of Results.
	Err error

	// Calls records every Search invocation in order.
	Calls []Call
}

var _ search.Searcher = (*Searcher)(nil)

// Search records the call and returns the configured results.
func (s *Searcher) Search(_ context.Context, query string, limit int) ([]search.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Query: query, Limit: limit})
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Results[:min(limit, len(s.Results))], nil
}

// CallCount returns the number of Search calls.
func (s *Searcher) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
