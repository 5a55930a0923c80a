// Package wav reads and writes linear PCM waveforms stored in RIFF/WAVE
// containers.
//
// A [Waveform] keeps its samples as raw little-endian bytes, the layout that
// the segmenter slices into frames and that Discord voice produces after Opus
// decoding. Conversion to and from the container is delegated to go-audio.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// ErrInvalidFile is returned by [Read] when the input is not a readable WAVE file.
var ErrInvalidFile = errors.New("wav: not a valid wave file")

// pcmFormat is the WAVE format tag for uncompressed integer PCM.
const pcmFormat = 1

// extensibleFormat tags WAVE_FORMAT_EXTENSIBLE files, which still carry
// integer PCM for the layouts read here.
const extensibleFormat = 0xFFFE

// Waveform is an in-memory PCM recording.
type Waveform struct {
	// SampleRate in Hz.
	SampleRate int

	// SampleWidth is the size of one sample in bytes (2 for signed 16-bit).
	SampleWidth int

	// Channels is the number of interleaved channels.
	Channels int

	// Data holds interleaved little-endian samples.
	Data []byte
}

// FrameSize returns the number of bytes per sample frame (one sample for
// every channel).
func (w Waveform) FrameSize() int {
	return w.SampleWidth * w.Channels
}

// Duration returns the length of the recording in seconds.
func (w Waveform) Duration() float64 {
	fs := w.FrameSize()
	if fs == 0 || w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Data)/fs) / float64(w.SampleRate)
}

// Read loads the WAVE file at path into memory.
func Read(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("wav: open %s: %w", path, err)
	}
	defer f.Close()

	w, err := Decode(f)
	if err != nil {
		return Waveform{}, fmt.Errorf("%w (%s)", err, path)
	}
	return w, nil
}

// Decode parses a complete WAVE stream from rs.
func Decode(rs io.ReadSeeker) (Waveform, error) {
	// IsValidFile rejects recordings of zero length, which are legal here.
	dec := gowav.NewDecoder(rs)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if dec.NumChans < 1 || dec.BitDepth < 8 || (dec.WavAudioFormat != pcmFormat && dec.WavAudioFormat != extensibleFormat) {
		return Waveform{}, ErrInvalidFile
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("wav: read samples: %w", err)
	}

	width := int(dec.BitDepth) / 8
	return Waveform{
		SampleRate:  int(dec.SampleRate),
		SampleWidth: width,
		Channels:    int(dec.NumChans),
		Data:        intsToBytes(buf.Data, width),
	}, nil
}

// Write stores w as a new WAVE file at path. A file that could not be written
// completely is removed before the error is returned.
func Write(path string, w Waveform) (err error) {
	if err := w.validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	if err = Encode(f, w); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("wav: close %s: %w", path, err)
	}
	return nil
}

// Encode writes w as a complete WAVE stream to ws. The header sizes are
// patched on completion, which is why a seeker is required.
func Encode(ws io.WriteSeeker, w Waveform) error {
	if err := w.validate(); err != nil {
		return err
	}
	enc := gowav.NewEncoder(ws, w.SampleRate, w.SampleWidth*8, w.Channels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: w.Channels,
			SampleRate:  w.SampleRate,
		},
		Data:           bytesToInts(w.Data, w.SampleWidth),
		SourceBitDepth: w.SampleWidth * 8,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav: finalize: %w", err)
	}
	return nil
}

func (w Waveform) validate() error {
	if w.SampleWidth < 1 || w.SampleWidth > 4 {
		return fmt.Errorf("wav: unsupported sample width %d", w.SampleWidth)
	}
	if w.Channels < 1 {
		return fmt.Errorf("wav: unsupported channel count %d", w.Channels)
	}
	return nil
}

// bytesToInts decodes little-endian samples of the given width. 8-bit WAVE
// samples are unsigned and are passed through as-is.
func bytesToInts(data []byte, width int) []int {
	n := len(data) / width
	out := make([]int, n)
	for i := range n {
		b := data[i*width : i*width+width]
		switch width {
		case 1:
			out[i] = int(b[0])
		case 2:
			out[i] = int(int16(uint16(b[0]) | uint16(b[1])<<8))
		case 3:
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = int(v)
		case 4:
			out[i] = int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
		}
	}
	return out
}

// intsToBytes is the inverse of bytesToInts.
func intsToBytes(samples []int, width int) []byte {
	if width < 1 || width > 4 {
		return nil
	}
	out := make([]byte, len(samples)*width)
	for i, s := range samples {
		v := uint32(int32(s))
		for j := range width {
			out[i*width+j] = byte(v >> (8 * j))
		}
	}
	return out
}
