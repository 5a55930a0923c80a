package stt

import (
	"strings"
	"time"
)

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognised speech, trimmed of surrounding whitespace.
	Text string

	// Language is the language the backend transcribed in.
	Language string

	// AudioDuration is the length of the transcribed recording.
	AudioDuration time.Duration
}

// Empty reports whether nothing was recognised.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}
