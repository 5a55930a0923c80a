package whisper

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/wav"
)

// whisperFormat is the only input layout whisper.cpp accepts.
var whisperFormat = audio.Format{SampleRate: 16000, Channels: 1}

// loadForWhisper reads the recording at path and converts it to 16 kHz mono.
func loadForWhisper(path string) (wav.Waveform, time.Duration, error) {
	w, err := wav.Read(path)
	if err != nil {
		return wav.Waveform{}, 0, fmt.Errorf("whisper: %w", err)
	}
	if w.SampleWidth != 2 {
		return wav.Waveform{}, 0, fmt.Errorf("whisper: unsupported sample width %d in %s", w.SampleWidth, path)
	}
	dur := time.Duration(w.Duration() * float64(time.Second))

	conv := audio.FormatConverter{Target: whisperFormat}
	out := conv.Convert(audio.AudioFrame{
		Data:       w.Data,
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
	})
	return wav.Waveform{
		SampleRate:  whisperFormat.SampleRate,
		SampleWidth: 2,
		Channels:    whisperFormat.Channels,
		Data:        out.Data,
	}, dur, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
