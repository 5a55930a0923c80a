package audio

import "time"

// AudioFrame is one chunk of 16-bit little-endian PCM travelling between a
// voice connection and the rest of the bot. Discord delivers 20 ms frames at
// 48 kHz stereo.
type AudioFrame struct {
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 (mono) or 2 (interleaved stereo).
	Channels int

	// Timestamp is the capture time relative to the start of the stream.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}
