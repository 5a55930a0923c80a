// Package silero implements a [vad.Classifier] with the Silero VAD ONNX model
// through github.com/streamer45/silero-vad-go.
//
// Building this package needs cgo with the ONNX Runtime headers and shared
// library reachable through C_INCLUDE_PATH and LD_LIBRARY_PATH. The model
// file (silero_vad.onnx) is loaded once by [New].
package silero

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// The model runs at 16 kHz on windows of 512 samples. A frame is at most
// 30 ms (480 samples at 16 kHz), so it is repeated to fill detectWindows
// windows before inference.
const (
	modelRate     = 16000
	windowSamples = 512
	detectWindows = 2
)

// ErrClosed is returned by [Classifier.IsSpeech] after [Classifier.Close].
var ErrClosed = errors.New("silero: classifier closed")

// thresholds maps aggressiveness 0..3 to a speech probability.
var thresholds = [4]float32{0.3, 0.5, 0.65, 0.8}

// Option configures a [Classifier].
type Option func(*speech.DetectorConfig)

// WithThreshold overrides the speech probability derived from
// aggressiveness. It must lie in (0, 1).
func WithThreshold(p float64) Option {
	return func(c *speech.DetectorConfig) { c.Threshold = float32(p) }
}

// Classifier asks the Silero model whether a frame is speech. The detector is
// reset before every frame so no state carries over between calls. Calls are
// serialised on one detector.
type Classifier struct {
	mu        sync.Mutex
	det       *speech.Detector
	threshold float32
}

var _ vad.Classifier = (*Classifier)(nil)

// New loads the model at modelPath. Call [Classifier.Close] to release it.
func New(modelPath string, cfg vad.Config, opts ...Option) (*Classifier, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dc := speech.DetectorConfig{
		ModelPath:  modelPath,
		SampleRate: modelRate,
		Threshold:  thresholds[cfg.Aggressiveness],
	}
	for _, o := range opts {
		o(&dc)
	}
	det, err := speech.NewDetector(dc)
	if err != nil {
		return nil, fmt.Errorf("silero: load %s: %w", modelPath, err)
	}
	return &Classifier{det: det, threshold: dc.Threshold}, nil
}

// Threshold returns the speech probability at or above which a frame is speech.
func (c *Classifier) Threshold() float64 { return float64(c.threshold) }

// IsSpeech resamples frame to 16 kHz and reports whether the model detects
// the start of speech in it.
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if err := checkFrame(len(frame), sampleRate); err != nil {
		return false, err
	}
	samples := window(audio.ResampleMono16(frame, sampleRate, modelRate))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.det == nil {
		return false, ErrClosed
	}
	if err := c.det.Reset(); err != nil {
		return false, fmt.Errorf("silero: reset: %w", err)
	}
	segments, err := c.det.Detect(samples)
	if err != nil {
		return false, fmt.Errorf("silero: detect: %w", err)
	}
	return len(segments) > 0, nil
}

// Close releases the ONNX session.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.det == nil {
		return nil
	}
	err := c.det.Destroy()
	c.det = nil
	return err
}

func checkFrame(size, sampleRate int) error {
	for _, ms := range vad.SupportedFrameDurations {
		if vad.CheckFormat(sampleRate, ms) == nil && vad.FrameBytes(sampleRate, ms) == size {
			return nil
		}
	}
	return fmt.Errorf("%w: %d bytes at %d Hz", vad.ErrUnsupportedFrame, size, sampleRate)
}

// window converts 16-bit PCM to float samples in [-1, 1) and repeats them
// until detectWindows model windows are filled.
func window(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, detectWindows*windowSamples)
	if n == 0 {
		return out
	}
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[2*(i%n):]))
		out[i] = float32(s) / 32768
	}
	return out
}
