package resilience

import (
	"context"
	"errors"
	"io/fs"

	"github.com/MrWong99/murmur/pkg/audio/wav"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var (
	_ llm.Provider = (*LLMFallback)(nil)
	_ stt.Provider = (*STTFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
)

// ignoring extends cfg's Ignore with callerErr.
func ignoring(cfg FallbackConfig, callerErr func(error) bool) FallbackConfig {
	prev := cfg.Breaker.Ignore
	cfg.Breaker.Ignore = func(err error) bool {
		return callerErr(err) || (prev != nil && prev(err))
	}
	return cfg
}

// LLMFallback is an [llm.Provider] over a chain of LLM backends, typically
// the local LM Studio server first and a hosted API after it.
type LLMFallback struct {
	*Chain[llm.Provider]
}

// NewLLMFallback creates an [LLMFallback] with primary tried first.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewChain(primaryName, primary, cfg)}
}

// AddFallback appends an LLM backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.Add(name, p) }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.Chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens asks the primary only, so that history budgets stay stable
// whichever backend answers.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.Primary().CountTokens(messages)
}

// STTFallback is an [stt.Provider] over a chain of transcription backends.
type STTFallback struct {
	*Chain[stt.Provider]
}

// NewSTTFallback creates an [STTFallback] with primary tried first. A missing
// or unreadable recording is not the backend's fault and is returned as is.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg = ignoring(cfg, func(err error) bool {
		return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
	})
	return &STTFallback{NewChain(primaryName, primary, cfg)}
}

// AddFallback appends a transcription backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.Add(name, p) }

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return Call(ctx, f.Chain, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// TTSFallback is a [tts.Provider] over a chain of synthesis backends.
type TTSFallback struct {
	*Chain[tts.Provider]
}

// NewTTSFallback creates a [TTSFallback] with primary tried first.
// [tts.ErrEmptyText] is returned as is.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	cfg = ignoring(cfg, func(err error) bool { return errors.Is(err, tts.ErrEmptyText) })
	return &TTSFallback{NewChain(primaryName, primary, cfg)}
}

// AddFallback appends a synthesis backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.Add(name, p) }

// Synthesize implements [tts.Provider]. Voice IDs are backend specific, so a
// fallback may ignore voice.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (wav.Waveform, error) {
	return Call(ctx, f.Chain, func(p tts.Provider) (wav.Waveform, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices implements [tts.Provider].
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Call(ctx, f.Chain, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
