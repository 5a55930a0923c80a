// Package mixer serialises the bot's spoken answers on one voice connection.
//
// A [Queue] plays [Clip] values one after another with a short pause between
// them, so two answers never talk over each other. Leaving a channel flushes
// whatever is still waiting.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// DefaultGap is the pause between consecutive clips.
const DefaultGap = 300 * time.Millisecond

// DefaultMaxPending bounds the clips waiting behind the one playing.
const DefaultMaxPending = 8

var (
	// ErrClosed is returned by [Queue.Enqueue] after Close.
	ErrClosed = errors.New("mixer: queue closed")

	// ErrFull is returned by [Queue.Enqueue] when too many clips wait.
	ErrFull = errors.New("mixer: queue full")
)

// Clip is one synthesized answer or music track split into playback frames.
type Clip struct {
	// Source labels the clip in logs, usually the guild or user ID.
	Source string

	// Title names a music track in [Queue.List]. Spoken answers leave it
	// empty.
	Title string

	Format audio.Format

	// Frames are 16-bit PCM chunks in Format, each delivered to the output
	// as one [audio.AudioFrame].
	Frames [][]byte
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bps := c.Format.SampleRate * c.Format.Channels * 2
	if bps <= 0 {
		return 0
	}
	var n int
	for _, f := range c.Frames {
		n += len(f)
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

func (c Clip) validate() error {
	if c.Format.SampleRate <= 0 || (c.Format.Channels != 1 && c.Format.Channels != 2) {
		return fmt.Errorf("mixer: clip %q has unusable format %s", c.Source, c.Format)
	}
	return nil
}

// Option configures a [Queue].
type Option func(*Queue)

// WithGap sets the pause between clips. Zero plays clips back to back.
func WithGap(d time.Duration) Option {
	return func(q *Queue) { q.gap = max(d, 0) }
}

// WithMaxPending sets how many clips may wait behind the one playing.
func WithMaxPending(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxPending = n
		}
	}
}

// Queue plays clips in FIFO order through an output callback. The output is
// called from a single goroutine and may block to pace playback.
type Queue struct {
	output     func(audio.AudioFrame)
	gap        time.Duration
	maxPending int

	mu      sync.Mutex
	pending []Clip
	playing bool
	current Clip // valid while playing
	skip    chan struct{} // closed to stop the clip playing
	idle    chan struct{} // closed once nothing plays or waits
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// New starts a Queue delivering frames to output. Call [Queue.Close] to stop
// it.
func New(output func(audio.AudioFrame), opts ...Option) *Queue {
	q := &Queue{
		output:     output,
		gap:        DefaultGap,
		maxPending: DefaultMaxPending,
		idle:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	close(q.idle)
	for _, o := range opts {
		o(q)
	}
	go q.run()
	return q
}

// Enqueue appends clip. Empty clips are accepted and skipped.
func (q *Queue) Enqueue(clip Clip) error {
	if err := clip.validate(); err != nil {
		return err
	}
	if len(clip.Frames) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.closed:
		return ErrClosed
	case len(q.pending) >= q.maxPending:
		return ErrFull
	}
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
	q.pending = append(q.pending, clip)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Skip stops the clip playing. It reports whether anything was playing.
func (q *Queue) Skip() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skipLocked()
}

// Flush stops the clip playing and drops the waiting ones. It returns the
// number of dropped clips, the interrupted one included.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	if q.skipLocked() {
		n++
	}
	q.settleLocked()
	return n
}

// Pending reports how many clips play or wait.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.playing {
		n++
	}
	return n
}

// Entry describes a clip in [Queue.List].
type Entry struct {
	Title    string
	Source   string
	Duration time.Duration
	Playing  bool
}

// List returns the clip playing, if any, followed by the waiting clips in
// play order.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.pending)+1)
	if q.playing {
		out = append(out, entry(q.current, true))
	}
	for _, c := range q.pending {
		out = append(out, entry(c, false))
	}
	return out
}

func entry(c Clip, playing bool) Entry {
	return Entry{Title: c.Title, Source: c.Source, Duration: c.Duration(), Playing: playing}
}

// Wait blocks until the queue has nothing left to play or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the queue and stops its goroutine. It is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.Flush()
	close(q.done)
	return nil
}

func (q *Queue) busyLocked() bool { return q.playing || len(q.pending) > 0 }

func (q *Queue) skipLocked() bool {
	if !q.playing {
		return false
	}
	close(q.skip)
	q.playing = false
	q.current = Clip{}
	return true
}

// settleLocked marks the queue idle if nothing is left.
func (q *Queue) settleLocked() {
	if q.busyLocked() {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *Queue) run() {
	var gap *time.Timer
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		played := false
		for {
			if played && q.gap > 0 {
				if gap == nil {
					gap = time.NewTimer(q.gap)
				} else {
					gap.Reset(q.gap)
				}
				select {
				case <-q.done:
					gap.Stop()
					return
				case <-gap.C:
				}
			}

			clip, skip, ok := q.next()
			if !ok {
				break
			}
			q.play(clip, skip)
			played = true

			q.mu.Lock()
			if q.skip == skip && q.playing {
				q.playing = false
				q.current = Clip{}
			}
			q.settleLocked()
			q.mu.Unlock()
		}
	}
}

// next pops the oldest clip and marks it playing.
func (q *Queue) next() (Clip, chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.settleLocked()
		return Clip{}, nil, false
	}
	clip := q.pending[0]
	q.pending = q.pending[1:]
	q.skip = make(chan struct{})
	q.playing = true
	q.current = clip
	return clip, q.skip, true
}

func (q *Queue) play(clip Clip, skip <-chan struct{}) {
	for _, data := range clip.Frames {
		select {
		case <-q.done:
			return
		case <-skip:
			return
		default:
		}
		q.output(audio.AudioFrame{
			Data:       data,
			SampleRate: clip.Format.SampleRate,
			Channels:   clip.Format.Channels,
		})
	}
}
