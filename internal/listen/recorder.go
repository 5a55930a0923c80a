// Package listen captures one user's voice from a voice connection, trims the
// recording to its spoken parts and transcribes it.
//
// A [Recorder] buffers a fixed listening window into a WAVE file. A [Pipeline]
// chains recording, VAD segmentation and speech-to-text, falling back to the
// raw recording whenever segmentation finds nothing usable.
package listen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/wav"
)

// ErrNoAudio is returned when the listening window ended without a single
// frame from the user.
var ErrNoAudio = errors.New("listen: no audio captured")

// Capture format. Discord delivers 48 kHz stereo 16-bit PCM.
const (
	captureRate     = 48000
	captureChannels = 2
	captureWidth    = 2
	rawPrefix       = "raw_ecoute_"
)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithRecorderClock overrides the clock used to name files.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithRecorderMetrics tracks captures in progress on m.
func WithRecorderMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder captures a user's audio into WAVE files under a directory.
type Recorder struct {
	dir     string
	now     func() time.Time
	metrics *observe.Metrics
}

// NewRecorder creates a Recorder writing into dir. The directory is created
// on first use.
func NewRecorder(dir string, opts ...RecorderOption) *Recorder {
	r := &Recorder{dir: dir, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dir returns the directory recordings are written to.
func (r *Recorder) Dir() string { return r.dir }

// Record listens to userID on conn for d and writes what it heard to
// raw_ecoute_<userID>_<unix>.wav (48 kHz, stereo, 16-bit). The buffer holds at
// most d of audio; if more arrives, the oldest audio is dropped. Recording
// also stops when the user's stream closes.
//
// It returns [ErrNoAudio] if nothing was heard and ctx.Err() if ctx ended
// first. The caller owns the returned file.
func (r *Recorder) Record(ctx context.Context, conn audio.Connection, userID string, d time.Duration) (string, error) {
	if d <= 0 {
		return "", fmt.Errorf("listen: recording duration must be positive, got %v", d)
	}
	ctx, span := observe.StartSpan(ctx, "listen.Record")
	defer span.End()

	if r.metrics != nil {
		r.metrics.ActiveRecordings.Add(ctx, 1)
		defer r.metrics.ActiveRecordings.Add(context.WithoutCancel(ctx), -1)
	}

	frames, cancel := conn.Subscribe(userID)
	defer cancel()

	const bytesPerSecond = captureRate * captureChannels * captureWidth
	capacity := int(d.Seconds() * bytesPerSecond)
	capacity -= capacity % (captureChannels * captureWidth)
	rb := ringbuffer.New(capacity).SetBlocking(false)

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: captureRate, Channels: captureChannels}}
	timer := time.NewTimer(d)
	defer timer.Stop()

	started := r.now()
	dropped := 0
loop:
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			break loop
		case f, ok := <-frames:
			if !ok {
				break loop
			}
			dropped += appendOverwriting(rb, conv.Convert(f).Data)
		}
	}

	if rb.IsEmpty() {
		return "", ErrNoAudio
	}
	data := make([]byte, rb.Length())
	if _, err := rb.Read(data); err != nil {
		return "", fmt.Errorf("listen: read capture buffer: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("listen: create %s: %w", r.dir, err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s%s_%d.wav", rawPrefix, userID, started.Unix()))
	if err := wav.Write(path, wav.Waveform{
		SampleRate:  captureRate,
		SampleWidth: captureWidth,
		Channels:    captureChannels,
		Data:        data,
	}); err != nil {
		return "", fmt.Errorf("listen: save raw recording: %w", err)
	}

	observe.Logger(ctx).Debug("recording saved",
		"user_id", userID,
		"path", path,
		"bytes", len(data),
		"dropped_bytes", dropped,
	)
	return path, nil
}

// appendOverwriting writes p into rb, discarding the oldest bytes when rb is
// full. Only the newest Capacity bytes of p survive if p alone exceeds it.
// It returns the number of bytes discarded.
func appendOverwriting(rb *ringbuffer.RingBuffer, p []byte) int {
	dropped := 0
	if over := len(p) - rb.Capacity(); over > 0 {
		p = p[over:]
		dropped += over
	}
	if need := len(p) - rb.Free(); need > 0 {
		discard := make([]byte, need)
		n, _ := rb.Read(discard)
		dropped += n
	}
	_, _ = rb.Write(p)
	return dropped
}
