package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts frames to a target format. Create one per stream;
// it is not meant to be shared between goroutines.
type FormatConverter struct {
	Target Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Convert resamples and then remixes frame so that it matches c.Target.
// Frames that already match are returned unchanged. Frames with an odd byte
// count cannot be 16-bit PCM and come back with nil Data.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnOdd.Do(func() {
			slog.Warn("audio: odd byte count in 16-bit frame, dropping", "bytes", len(frame.Data), "format", frame.Format())
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.Format() == c.Target {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Debug("audio: converting stream", "from", frame.Format(), "to", c.Target)
	})

	pcm := frame.Data
	if frame.SampleRate != c.Target.SampleRate {
		if frame.Channels == 2 {
			pcm = ResampleStereo16(pcm, frame.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
		}
	}
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case frame.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Split cuts pcm into frames of ms milliseconds in format f. The last frame
// is zero-padded to full length so that Opus encoders always see whole frames.
func Split(pcm []byte, f Format, ms int) []AudioFrame {
	size := f.SampleRate * ms / 1000 * f.Channels * 2
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := make([]AudioFrame, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		chunk := make([]byte, size)
		copy(chunk, pcm[off:min(off+size, len(pcm))])
		frames = append(frames, AudioFrame{Data: chunk, SampleRate: f.SampleRate, Channels: f.Channels})
	}
	return frames
}

// LeftChannel extracts the first channel of interleaved stereo PCM whose
// samples are width bytes wide. The samples are copied, never averaged.
func LeftChannel(pcm []byte, width int) []byte {
	stride := width * 2
	n := len(pcm) / stride
	out := make([]byte, n*width)
	for i := range n {
		copy(out[i*width:(i+1)*width], pcm[i*stride:i*stride+width])
	}
	return out
}

// MonoToStereo duplicates every 16-bit sample into an L/R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		copy(out[i*4:], pcm[i*2:i*2+2])
		copy(out[i*4+2:], pcm[i*2:i*2+2])
	}
	return out
}

// StereoToMono averages L and R of 16-bit stereo PCM.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		l := int32(sample16(pcm, i*2))
		r := int32(sample16(pcm, i*2+1))
		putSample16(out, i, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM with linear interpolation.
// Invalid or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM with linear
// interpolation. Invalid or equal rates return pcm unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sample16(pcm, idx*channels+ch))
			s1 := float64(sample16(pcm, next*channels+ch))
			putSample16(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// sample16 returns the i-th little-endian int16 sample of pcm.
func sample16(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func putSample16(pcm []byte, i int, s int16) {
	pcm[2*i] = byte(s)
	pcm[2*i+1] = byte(uint16(s) >> 8)
}
