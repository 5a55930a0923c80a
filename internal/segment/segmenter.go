// Package segment trims a captured recording down to its spoken parts.
//
// A [Segmenter] walks a 16-bit PCM waveform in fixed-duration frames, asks a
// [vad.Classifier] whether each frame is speech and runs a two-state
// hysteresis machine over the answers:
//
//   - idle: silent frames are kept in a padding window of the last P frames.
//     The first speech frame flushes that window into the output (the
//     lead-in), appends itself and switches to active.
//   - active: every frame is appended to the output and pushed into the
//     window. When the voiced frames in the window fall below ratio*P the
//     segment ends and the machine goes back to idle. The share is always
//     taken against P, so right after a trigger the window has to refill
//     with speech to hold the segment open.
//
// Stereo input is classified on its left channel only; the output always
// keeps the input's original layout. Segmentation is synchronous, CPU bound
// and cannot be interrupted, so callers run it on their own goroutine.
package segment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/wav"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

const (
	stateIdle   = "idle"
	stateActive = "active"

	eventTrigger = "trigger"
	eventRelease = "release"

	// sampleWidth is the only sample width the segmenter accepts (16-bit).
	sampleWidth = 2

	// outputPrefix names trimmed files as vad_trimmed_<hex>.wav.
	outputPrefix = "vad_trimmed_"
)

// Stats summarises one segmentation run.
type Stats struct {
	// Frames is the number of complete frames classified.
	Frames int

	// Voiced is the number of frames classified as speech.
	Voiced int

	// Triggers counts idle→active transitions.
	Triggers int

	// Releases counts active→idle transitions.
	Releases int

	// DroppedBytes is the length of the discarded trailing partial frame.
	DroppedBytes int
}

// Option is a functional option for [New].
type Option func(*Segmenter)

// WithMetrics records every [Segmenter.SegmentFile] run on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) {
		s.metrics = m
	}
}

// WithNameFunc overrides how output file names are generated. fn must return
// a fresh name on every call.
func WithNameFunc(fn func() string) Option {
	return func(s *Segmenter) {
		s.newName = fn
	}
}

// Segmenter extracts padded speech regions from recordings. It holds no
// per-run state, so a single Segmenter may serve concurrent calls provided
// its classifier is safe for concurrent use.
type Segmenter struct {
	cfg        Config
	classifier vad.Classifier
	metrics    *observe.Metrics
	newName    func() string
}

// New creates a Segmenter. It fails if cfg is invalid or classifier is nil.
func New(cfg Config, classifier vad.Classifier, opts ...Option) (*Segmenter, error) {
	if classifier == nil {
		return nil, fmt.Errorf("segment: classifier must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Segmenter{
		cfg:        cfg,
		classifier: classifier,
		newName:    defaultName,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the segmenter's configuration.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Segment returns a new waveform holding only the padded speech regions of
// w. w is never modified.
//
// It returns a [*PreconditionError] if w's layout is unsupported, an error
// wrapping [ErrClassifier] if classification fails, and [ErrNoSpeech] if
// nothing was classified as speech. In every error case the returned
// waveform is empty.
func (s *Segmenter) Segment(ctx context.Context, w wav.Waveform) (wav.Waveform, Stats, error) {
	if err := s.check(w); err != nil {
		return wav.Waveform{}, Stats{}, err
	}

	frameSize := s.cfg.SamplesPerFrame() * w.SampleWidth * w.Channels
	r := newRun(s.cfg, len(w.Data))
	r.stats.DroppedBytes = len(w.Data) % frameSize

	// Cancellation must not abort a transition halfway.
	fctx := context.WithoutCancel(ctx)

	var scratch []byte
	for off := 0; off+frameSize <= len(w.Data); off += frameSize {
		frame := w.Data[off : off+frameSize : off+frameSize]

		// The classifier gets its own copy so the input stays untouched.
		var mono []byte
		if w.Channels == 2 {
			mono = audio.LeftChannel(frame, w.SampleWidth)
		} else {
			scratch = append(scratch[:0], frame...)
			mono = scratch
		}

		speech, err := s.classifier.IsSpeech(mono, w.SampleRate)
		if err != nil {
			return wav.Waveform{}, r.stats, fmt.Errorf("%w: frame %d: %w", ErrClassifier, r.stats.Frames, err)
		}
		if err := r.step(fctx, frame, speech); err != nil {
			return wav.Waveform{}, r.stats, fmt.Errorf("segment: frame %d: %w", r.stats.Frames, err)
		}
	}

	if len(r.acc) == 0 {
		return wav.Waveform{}, r.stats, ErrNoSpeech
	}
	return wav.Waveform{
		SampleRate:  w.SampleRate,
		SampleWidth: w.SampleWidth,
		Channels:    w.Channels,
		Data:        r.acc,
	}, r.stats, nil
}

// SegmentFile reads the recording at inPath, segments it and writes the
// result to a new vad_trimmed_<hex>.wav file in outDir. It returns the new
// file's path. The caller owns the file and must remove it after use.
//
// Error semantics follow [Segmenter.Segment]; an unreadable input is a
// [*PreconditionError] with Field "input". No file is left behind on error.
func (s *Segmenter) SegmentFile(ctx context.Context, inPath, outDir string) (path string, err error) {
	ctx, span := observe.StartSpan(ctx, "segment.SegmentFile")
	defer span.End()

	start := time.Now()
	var stats Stats
	defer func() {
		outcome := Outcome(err)
		if s.metrics != nil {
			s.metrics.RecordSegmentation(ctx, outcome, time.Since(start), stats.Frames, stats.Voiced)
		}
		observe.Logger(ctx).Debug("segmentation finished",
			"input", inPath,
			"outcome", outcome,
			"frames", stats.Frames,
			"voiced", stats.Voiced,
			"triggers", stats.Triggers,
			"dropped_bytes", stats.DroppedBytes,
			"duration", time.Since(start),
		)
	}()

	in, err := wav.Read(inPath)
	if err != nil {
		return "", &PreconditionError{Field: "input", Err: err}
	}

	out, stats, err := s.Segment(ctx, in)
	if err != nil {
		return "", err
	}

	path = filepath.Join(outDir, outputPrefix+s.newName()+".wav")
	if err := wav.Write(path, out); err != nil {
		return "", fmt.Errorf("segment: write output: %w", err)
	}
	return path, nil
}

// check enforces the layout preconditions before any frame is classified.
func (s *Segmenter) check(w wav.Waveform) error {
	switch {
	case w.SampleRate != s.cfg.SampleRate:
		return &PreconditionError{Field: "sample_rate", Got: w.SampleRate, Want: s.cfg.SampleRate}
	case w.SampleWidth != sampleWidth:
		return &PreconditionError{Field: "sample_width", Got: w.SampleWidth, Want: sampleWidth}
	case w.Channels != 1 && w.Channels != 2:
		return &PreconditionError{Field: "channels", Got: w.Channels}
	}
	return nil
}

// run is the mutable state of one segmentation pass.
type run struct {
	machine *fsm.FSM
	ring    *frameRing
	ratio   float64
	acc     []byte
	stats   Stats
}

func newRun(cfg Config, sizeHint int) *run {
	r := &run{
		ring:  newFrameRing(cfg.PaddingFrames()),
		ratio: cfg.VoicedRatio,
		acc:   make([]byte, 0, sizeHint),
	}
	r.machine = fsm.NewFSM(stateIdle,
		fsm.Events{
			{Name: eventTrigger, Src: []string{stateIdle}, Dst: stateActive},
			{Name: eventRelease, Src: []string{stateActive}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_" + stateActive: func(_ context.Context, e *fsm.Event) {
				r.ring.each(func(f []byte) { r.acc = append(r.acc, f...) })
				r.ring.reset()
				r.acc = append(r.acc, e.Args[0].([]byte)...)
				r.stats.Triggers++
			},
			"enter_" + stateIdle: func(context.Context, *fsm.Event) {
				// Frames in the window were already appended while active.
				r.ring.reset()
				r.stats.Releases++
			},
		},
	)
	return r
}

// step feeds one classified frame through the state machine.
func (r *run) step(ctx context.Context, frame []byte, speech bool) error {
	r.stats.Frames++
	if speech {
		r.stats.Voiced++
	}

	if r.machine.Is(stateIdle) {
		if speech {
			return r.machine.Event(ctx, eventTrigger, frame)
		}
		r.ring.push(frame, false)
		return nil
	}

	r.acc = append(r.acc, frame...)
	r.ring.push(frame, speech)
	if float64(r.ring.voicedCount()) < r.ratio*float64(r.ring.capacity()) {
		return r.machine.Event(ctx, eventRelease)
	}
	return nil
}

func defaultName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
