// Package mock provides a test double for the stt.Provider interface.
//
// Provider returns a canned Transcript (or error) and records every request,
// including whether the file existed at call time so tests can verify that
// callers transcribe before they clean up.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "bonjour"}}
//	t, _ := p.Transcribe(ctx, stt.Request{Path: "x.wav"})
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context

	// Req is the request passed to Transcribe.
	Req stt.Request

	// FileExisted reports whether Req.Path existed when Transcribe was called.
	FileExisted bool
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil and Fn is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Fn, if set, computes the result instead of Result/Err.
	Fn func(req stt.Request) (stt.Transcript, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	_, statErr := os.Stat(req.Path)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req, FileExisted: statErr == nil})
	if p.Fn != nil {
		return p.Fn(req)
	}
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call and true, or false if none.
func (p *Provider) LastCall() (TranscribeCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
