// Package energy implements a [vad.Classifier] that marks a frame as speech
// when its RMS energy reaches a threshold.
//
// It needs no model files or cgo and is the default classifier. The
// threshold is derived from the configured aggressiveness: higher values
// demand louder frames before they count as speech.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// thresholds maps aggressiveness 0..3 to an RMS level in PCM units (0-32767).
var thresholds = [4]float64{150, 300, 600, 1000}

// Option is a functional option for [New].
type Option func(*Classifier)

// WithThreshold overrides the RMS threshold derived from aggressiveness.
func WithThreshold(rms float64) Option {
	return func(c *Classifier) {
		c.threshold = rms
	}
}

// Classifier is an RMS energy classifier. It is stateless and safe for
// concurrent use.
type Classifier struct {
	threshold float64
}

var _ vad.Classifier = (*Classifier)(nil)

// New returns a Classifier for cfg.
func New(cfg vad.Config, opts ...Option) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{threshold: thresholds[cfg.Aggressiveness]}
	for _, o := range opts {
		o(c)
	}
	if c.threshold <= 0 {
		return nil, fmt.Errorf("energy: threshold must be positive, got %v", c.threshold)
	}
	return c, nil
}

// Threshold returns the RMS level at or above which a frame is speech.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// IsSpeech reports whether the RMS energy of frame reaches the threshold.
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if !validFrame(len(frame), sampleRate) {
		return false, fmt.Errorf("%w: %d bytes at %d Hz", vad.ErrUnsupportedFrame, len(frame), sampleRate)
	}
	return RMS(frame) >= c.threshold, nil
}

// RMS returns the root-mean-square of 16-bit little-endian PCM, in sample
// units. It returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func validFrame(size, sampleRate int) bool {
	for _, ms := range vad.SupportedFrameDurations {
		if vad.CheckFormat(sampleRate, ms) == nil && vad.FrameBytes(sampleRate, ms) == size {
			return true
		}
	}
	return false
}
