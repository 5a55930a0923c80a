// Package vad defines the Classifier interface for per-frame voice activity
// detection.
//
// A Classifier answers a single question: does this frame of mono 16-bit PCM
// contain speech? It holds no state between calls, which lets the segmenter
// replay frames in any order and lets several segmentations share one
// classifier concurrently. Smoothing across frames is the caller's job.
//
// Classifiers only accept the frame durations and sample rates listed in
// [SupportedFrameDurations] and [SupportedRates]. Callers validate their
// configuration once with [CheckFormat] instead of relying on per-call errors.
package vad

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnsupportedRate is returned for sample rates not in [SupportedRates].
	ErrUnsupportedRate = errors.New("vad: unsupported sample rate")

	// ErrUnsupportedFrame is returned for frames whose duration is not in
	// [SupportedFrameDurations].
	ErrUnsupportedFrame = errors.New("vad: unsupported frame duration")
)

// SupportedRates lists the sample rates (Hz) every classifier must accept.
var SupportedRates = []int{8000, 16000, 32000, 48000}

// SupportedFrameDurations lists the frame durations (ms) every classifier
// must accept.
var SupportedFrameDurations = []int{10, 20, 30}

// Classifier decides whether one frame of mono 16-bit little-endian PCM is
// speech. Implementations must be safe for concurrent use.
type Classifier interface {
	// IsSpeech classifies frame, sampled at sampleRate. frame must hold exactly
	// one frame of a supported duration. An error means the classifier could
	// not decide; it is never used to signal silence.
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// ClassifierFunc adapts an ordinary function to the [Classifier] interface.
type ClassifierFunc func(frame []byte, sampleRate int) (bool, error)

// IsSpeech calls f(frame, sampleRate).
func (f ClassifierFunc) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	return f(frame, sampleRate)
}

// Config holds construction parameters shared by classifier backends.
type Config struct {
	// Aggressiveness ranges from 0 (least aggressive about filtering out
	// non-speech) to 3 (most aggressive).
	Aggressiveness int
}

// Validate reports whether c is usable.
func (c Config) Validate() error {
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness %d out of range [0,3]", c.Aggressiveness)
	}
	return nil
}

// CheckFormat verifies that frames of frameMs milliseconds at sampleRate are
// accepted by classifiers.
func CheckFormat(sampleRate, frameMs int) error {
	if !slices.Contains(SupportedRates, sampleRate) {
		return fmt.Errorf("%w: %d Hz", ErrUnsupportedRate, sampleRate)
	}
	if !slices.Contains(SupportedFrameDurations, frameMs) {
		return fmt.Errorf("%w: %d ms", ErrUnsupportedFrame, frameMs)
	}
	return nil
}

// FrameBytes returns the byte length of one mono 16-bit frame of frameMs
// milliseconds at sampleRate.
func FrameBytes(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000 * 2
}
