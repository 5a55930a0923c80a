// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider transcribes one complete recording stored as a WAVE file. Voice
// captures are short (a fixed listening window, usually trimmed to its
// spoken parts first), so batch transcription is all the bot needs.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when the recording holds no samples at all.
var ErrNoAudio = errors.New("stt: recording holds no audio")

// Request describes a single transcription.
type Request struct {
	// Path is the WAVE file to transcribe. Any 16-bit PCM layout is accepted;
	// providers convert to whatever their backend expects.
	Path string

	// Language is the ISO 639-1 language hint (e.g. "fr"). Empty uses the
	// provider's default.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req.Path. A recording without
	// recognisable speech yields an empty Transcript and a nil error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
