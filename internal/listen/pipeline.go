package listen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/segment"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// ErrBusy is returned when the user already has a capture in progress.
var ErrBusy = errors.New("listen: already listening to this user")

// DefaultDuration is the fixed listening window.
const DefaultDuration = 12 * time.Second

// FileSegmenter trims a recording to its spoken parts. [*segment.Segmenter]
// implements it.
type FileSegmenter interface {
	SegmentFile(ctx context.Context, inPath, outDir string) (string, error)
}

// Step identifies a progress notification emitted by [Pipeline.Run].
type Step int

const (
	// StepListening is emitted before the capture starts.
	StepListening Step = iota

	// StepAnalyzing is emitted once the raw recording is saved.
	StepAnalyzing

	// StepTrimmed is emitted when the trimmed recording will be transcribed.
	StepTrimmed

	// StepRawFallback is emitted when the raw recording will be transcribed
	// because segmentation found no speech or refused the input.
	StepRawFallback
)

// Event is a progress notification. Err is set on [StepRawFallback] when
// segmentation failed rather than finding silence.
type Event struct {
	Step     Step
	Duration time.Duration
	Err      error
}

// Result is the outcome of one capture.
type Result struct {
	// Text is the transcription. Empty if nothing was understood.
	Text string

	// Trimmed reports whether the VAD-trimmed recording was transcribed.
	Trimmed bool

	// Language reported by the STT backend.
	Language string
}

// Label tags a transcription with its source: "(nettoyé VAD)" or "(brut)".
func (r Result) Label() string {
	if r.Trimmed {
		return "(nettoyé VAD)"
	}
	return "(brut)"
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithDuration sets the listening window. Default: [DefaultDuration].
func WithDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.duration = d
		}
	}
}

// WithLanguage sets the transcription language hint. Default: "fr".
func WithLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// WithMetrics records STT calls on m under the given provider name.
func WithMetrics(m *observe.Metrics, sttName string) Option {
	return func(p *Pipeline) {
		p.metrics = m
		p.sttName = sttName
	}
}

// Pipeline records, trims and transcribes a user's speech.
type Pipeline struct {
	recorder  *Recorder
	segmenter FileSegmenter
	stt       stt.Provider
	duration  time.Duration
	language  string
	metrics   *observe.Metrics
	sttName   string

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPipeline wires a recorder, a segmenter and an STT provider together.
func NewPipeline(rec *Recorder, seg FileSegmenter, provider stt.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		recorder:  rec,
		segmenter: seg,
		stt:       provider,
		duration:  DefaultDuration,
		language:  "fr",
		active:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Duration returns the listening window.
func (p *Pipeline) Duration() time.Duration { return p.duration }

// Run captures userID on conn, trims the recording and transcribes it.
// notify, if non-nil, receives progress events synchronously.
//
// Segmentation runs on its own goroutine because it cannot be interrupted;
// if ctx ends first Run returns ctx.Err() and the goroutine cleans up after
// itself. Both temporary files are removed before Run returns.
func (p *Pipeline) Run(ctx context.Context, conn audio.Connection, userID string, notify func(Event)) (Result, error) {
	if notify == nil {
		notify = func(Event) {}
	}
	if !p.acquire(userID) {
		return Result{}, ErrBusy
	}
	defer p.release(userID)

	ctx, span := observe.StartSpan(ctx, "listen.Run")
	defer span.End()
	log := observe.Logger(ctx).With("user_id", userID)

	notify(Event{Step: StepListening, Duration: p.duration})
	rawPath, err := p.recorder.Record(ctx, conn, userID, p.duration)
	if err != nil {
		return Result{}, err
	}
	defer removeFile(ctx, rawPath)

	notify(Event{Step: StepAnalyzing})
	trimmedPath, segErr := p.segment(ctx, rawPath)
	if trimmedPath != "" {
		defer removeFile(ctx, trimmedPath)
	}

	target := rawPath
	res := Result{}
	switch {
	case segErr == nil:
		target = trimmedPath
		res.Trimmed = true
		notify(Event{Step: StepTrimmed})
	case errors.Is(segErr, segment.ErrNoSpeech):
		notify(Event{Step: StepRawFallback})
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	default:
		log.Warn("segmentation failed, using raw recording", "error", segErr)
		notify(Event{Step: StepRawFallback, Err: segErr})
	}

	start := time.Now()
	tr, err := p.stt.Transcribe(ctx, stt.Request{Path: target, Language: p.language})
	if p.metrics != nil {
		p.metrics.RecordProviderCall(ctx, p.sttName, "stt", time.Since(start), err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("listen: transcribe: %w", err)
	}

	res.Text = tr.Text
	res.Language = tr.Language
	log.Info("capture transcribed", "trimmed", res.Trimmed, "chars", len(res.Text))
	return res, nil
}

type segmentResult struct {
	path string
	err  error
}

// segment runs the segmenter on a goroutine and waits for it or ctx. A result
// that arrives after ctx ended is removed by the goroutine.
func (p *Pipeline) segment(ctx context.Context, rawPath string) (string, error) {
	done := make(chan segmentResult, 1)
	var abandoned sync.Mutex
	gaveUp := false

	go func() {
		path, err := p.segmenter.SegmentFile(ctx, rawPath, p.recorder.Dir())
		abandoned.Lock()
		defer abandoned.Unlock()
		if gaveUp {
			if path != "" {
				removeFile(context.WithoutCancel(ctx), path)
			}
			return
		}
		done <- segmentResult{path: path, err: err}
	}()

	select {
	case r := <-done:
		return r.path, r.err
	case <-ctx.Done():
		abandoned.Lock()
		defer abandoned.Unlock()
		select {
		case r := <-done:
			// Finished while we were giving up.
			if r.path != "" {
				removeFile(context.WithoutCancel(ctx), r.path)
			}
		default:
			gaveUp = true
		}
		return "", ctx.Err()
	}
}

func (p *Pipeline) acquire(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.active[userID]; busy {
		return false
	}
	p.active[userID] = struct{}{}
	return true
}

func (p *Pipeline) release(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, userID)
}

func removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		observe.Logger(ctx).Warn("failed to remove temporary recording", "path", path, "error", err)
	}
}
