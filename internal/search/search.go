// Package search runs the web lookups behind /askweb.
//
// [DuckDuckGo] queries the JavaScript-free HTML front end of DuckDuckGo and
// scrapes the organic results; no API key is needed. Other engines can be
// plugged in through the [Searcher] interface.
package search

import (
	"context"
	"errors"
)

// ErrNoResults is returned when a query matched nothing.
var ErrNoResults = errors.New("search: no results")

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher runs a web search. Implementations must be safe for concurrent
// use.
type Searcher interface {
	// Search returns at most limit results for query, best first. It returns
	// [ErrNoResults] when nothing matched.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}
