package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider transcribes in-process with the whisper.cpp bindings. Build
// with libwhisper.a and whisper.h reachable through LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model is loaded once. Each call gets its own inference context, and at
// most maxParallel inferences run at a time since each one saturates
// its threads.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  int
	slots    *semaphore.Weighted
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*nativeConfig)

type nativeConfig struct {
	language    string
	threads     int
	maxParallel int64
}

// WithNativeLanguage sets the language used when a request names none.
// Defaults to "fr".
func WithNativeLanguage(lang string) NativeOption {
	return func(c *nativeConfig) { c.language = lang }
}

// WithNativeThreads sets the CPU threads of one inference. Defaults to
// GOMAXPROCS.
func WithNativeThreads(n int) NativeOption {
	return func(c *nativeConfig) {
		if n > 0 {
			c.threads = n
		}
	}
}

// WithNativeParallel sets how many inferences may run at once. Defaults to 1.
func WithNativeParallel(n int) NativeOption {
	return func(c *nativeConfig) {
		if n > 0 {
			c.maxParallel = int64(n)
		}
	}
}

// NewNative loads the model file at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	cfg := nativeConfig{
		language:    defaultLanguage,
		threads:     runtime.GOMAXPROCS(0),
		maxParallel: 1,
	}
	for _, o := range opts {
		o(&cfg)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %s: %w", modelPath, err)
	}
	return &NativeProvider{
		model:    model,
		language: cfg.language,
		threads:  cfg.threads,
		slots:    semaphore.NewWeighted(cfg.maxParallel),
	}, nil
}

// Close frees the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements [stt.Provider]. ctx bounds the wait for a free
// inference slot; a running inference cannot be interrupted.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	w, dur, err := loadForWhisper(req.Path)
	if err != nil {
		return stt.Transcript{}, err
	}
	if len(w.Data) == 0 {
		return stt.Transcript{}, stt.ErrNoAudio
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: wait for inference slot: %w", err)
	}
	defer p.slots.Release(1)

	start := time.Now()
	text, err := p.infer(pcmToFloat32(w.Data), lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	slog.Debug("whisper: native inference done", "audio", dur, "took", time.Since(start), "language", lang)
	return stt.Transcript{Text: text, Language: lang, AudioDuration: dur}, nil
}

func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language rejected, model default applies", "language", lang, "error", err)
	}
	wctx.SetThreads(uint(p.threads))
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
