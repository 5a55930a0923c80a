// Package mock provides a test double for [vad.Classifier].
//
// Classifier answers from a scripted sequence of decisions (or a Decide
// callback) and records every frame it was shown, so tests can assert both
// how many frames were classified and exactly which bytes were passed in.
//
// Example:
//
//	c := &mock.Classifier{Decisions: []bool{false, true, true}}
//	seg, _ := segment.New(cfg, c)
package mock

import (
	"bytes"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// Call records a single invocation of Classifier.IsSpeech.
type Call struct {
	// Frame is a copy of the bytes passed to IsSpeech.
	Frame []byte

	// SampleRate is the rate passed to IsSpeech.
	SampleRate int
}

// Classifier is a mock implementation of [vad.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Decisions are returned in order, one per call. Once exhausted, Default
	// is returned.
	Decisions []bool

	// Default is returned when Decisions is exhausted and Decide is nil.
	Default bool

	// Decide, if set, takes precedence over Decisions and Default.
	Decide func(frame []byte, sampleRate int) bool

	// Err, if non-nil, is returned from the call with index ErrAt.
	Err error

	// ErrAt is the zero-based call index at which Err is returned.
	ErrAt int

	// Calls records every IsSpeech invocation in order.
	Calls []Call
}

var _ vad.Classifier = (*Classifier)(nil)

// IsSpeech records the call and returns the next scripted decision.
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.Calls)
	c.Calls = append(c.Calls, Call{Frame: bytes.Clone(frame), SampleRate: sampleRate})

	if c.Err != nil && idx == c.ErrAt {
		return false, c.Err
	}
	if c.Decide != nil {
		return c.Decide(frame, sampleRate), nil
	}
	if idx < len(c.Decisions) {
		return c.Decisions[idx], nil
	}
	return c.Default, nil
}

// CallCount returns the number of IsSpeech calls so far.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}
