// Package mock is a scriptable [llm.Provider] for tests.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Bonjour !"}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Reply is one scripted outcome of Complete.
type Reply struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider answers Complete from Script first, one entry per call, and then
// with CompleteResponse and CompleteErr. Configure it before use.
type Provider struct {
	Script           []Reply
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CountTokensFn replaces llm.EstimateMessages.
	CountTokensFn func(messages []llm.Message) (int, error)

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// Complete implements [llm.Provider]. ctx is ignored.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Messages = slices.Clone(req.Messages)
	p.requests = append(p.requests, req)
	if n := len(p.requests); n <= len(p.Script) {
		r := p.Script[n-1]
		return r.Response, r.Err
	}
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	if p.CountTokensFn != nil {
		return p.CountTokensFn(messages)
	}
	return llm.EstimateMessages(messages), nil
}

// CallCount returns how often Complete ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// LastRequest returns the latest request, with its messages copied.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.requests[len(p.requests)-1], true
}
