package segment

import (
	"errors"
	"fmt"

	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// Defaults match the 20 ms Opus frames Discord delivers at 48 kHz.
const (
	DefaultSampleRate        = 48000
	DefaultFrameDurationMs   = 20
	DefaultPaddingDurationMs = 300
	DefaultVoicedRatio       = 0.3
)

// Config parameterises a [Segmenter].
type Config struct {
	// SampleRate is the rate (Hz) every input waveform must have.
	SampleRate int

	// FrameDurationMs is the classification unit. Must be a duration the
	// classifier accepts (10, 20 or 30 ms).
	FrameDurationMs int

	// PaddingDurationMs sizes the padding window. The window holds
	// PaddingDurationMs/FrameDurationMs frames.
	PaddingDurationMs int

	// VoicedRatio ends an active segment once the voiced frames in the
	// padding window number fewer than VoicedRatio times its capacity.
	VoicedRatio float64
}

// DefaultConfig returns the configuration used by the bot.
func DefaultConfig() Config {
	return Config{
		SampleRate:        DefaultSampleRate,
		FrameDurationMs:   DefaultFrameDurationMs,
		PaddingDurationMs: DefaultPaddingDurationMs,
		VoicedRatio:       DefaultVoicedRatio,
	}
}

// Validate checks that c describes frames a classifier accepts and a
// non-empty padding window.
func (c Config) Validate() error {
	var errs []error
	if err := vad.CheckFormat(c.SampleRate, c.FrameDurationMs); err != nil {
		errs = append(errs, err)
	}
	if c.FrameDurationMs > 0 && c.PaddingFrames() < 1 {
		errs = append(errs, fmt.Errorf("segment: padding %d ms is shorter than one %d ms frame", c.PaddingDurationMs, c.FrameDurationMs))
	}
	if c.VoicedRatio <= 0 || c.VoicedRatio > 1 {
		errs = append(errs, fmt.Errorf("segment: voiced ratio %v out of range (0,1]", c.VoicedRatio))
	}
	return errors.Join(errs...)
}

// SamplesPerFrame returns the number of samples per channel in one frame.
func (c Config) SamplesPerFrame() int {
	return c.SampleRate * c.FrameDurationMs / 1000
}

// PaddingFrames returns the capacity of the padding window in frames.
func (c Config) PaddingFrames() int {
	if c.FrameDurationMs <= 0 {
		return 0
	}
	return c.PaddingDurationMs / c.FrameDurationMs
}
