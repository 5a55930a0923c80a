// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Coqui server)
// and turns an assistant answer into a PCM waveform that the voice manager can
// resample and play into a Discord channel. Synthesis is batch: the bot speaks
// complete answers, never partial LLM output.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/murmur/pkg/audio/wav"
)

// ErrEmptyText is returned by Synthesize when there is nothing to say.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. An empty voice ID selects
	// the backend's default voice. The returned waveform is 16-bit PCM at the
	// backend's native rate and channel count.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (wav.Waveform, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceProfile names a voice of one backend. The zero value selects the
// backend's default voice.
type VoiceProfile struct {
	ID   string
	Name string

	// Provider is the backend the voice belongs to, e.g. "coqui".
	Provider string

	// Metadata carries backend details such as the voice type or model.
	Metadata map[string]string
}
