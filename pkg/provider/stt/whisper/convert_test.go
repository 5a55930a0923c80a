package whisper

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/audio/wav"
)

func TestPcmToFloat32(t *testing.T) {
	tests := []struct {
		name  string
		value int16
		want  float32
	}{
		{"max positive", 32767, 32767.0 / 32768.0},
		{"max negative", -32768, -1.0},
		{"zero", 0, 0.0},
		{"mid positive", 16384, 0.5},
		{"mid negative", -16384, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, 2)
			binary.LittleEndian.PutUint16(pcm, uint16(tt.value))
			out := pcmToFloat32(pcm)
			if len(out) != 1 {
				t.Fatalf("expected 1 sample, got %d", len(out))
			}
			if math.Abs(float64(out[0]-tt.want)) > 1e-6 {
				t.Errorf("pcmToFloat32(%d) = %f; want %f", tt.value, out[0], tt.want)
			}
		})
	}
}

func TestPcmToFloat32_OddByteIgnored(t *testing.T) {
	if out := pcmToFloat32([]byte{1, 2, 3}); len(out) != 1 {
		t.Errorf("expected 1 sample, got %d", len(out))
	}
	if out := pcmToFloat32(nil); len(out) != 0 {
		t.Errorf("expected 0 samples, got %d", len(out))
	}
}

func TestLoadForWhisper_ConvertsDiscordLayout(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.wav")
	// One second of 48 kHz stereo.
	in := wav.Waveform{SampleRate: 48000, SampleWidth: 2, Channels: 2, Data: make([]byte, 48000*4)}
	if err := wav.Write(path, in); err != nil {
		t.Fatal(err)
	}

	out, dur, err := loadForWhisper(path)
	if err != nil {
		t.Fatalf("loadForWhisper: %v", err)
	}
	if out.SampleRate != 16000 || out.Channels != 1 || out.SampleWidth != 2 {
		t.Errorf("layout = %d Hz / %d ch / %d B", out.SampleRate, out.Channels, out.SampleWidth)
	}
	if len(out.Data) != 16000*2 {
		t.Errorf("len = %d, want %d", len(out.Data), 16000*2)
	}
	if dur != time.Second {
		t.Errorf("duration = %v, want 1s", dur)
	}
}

func TestLoadForWhisper_RejectsWidth(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := wav.Write(path, wav.Waveform{SampleRate: 16000, SampleWidth: 1, Channels: 1, Data: make([]byte, 160)}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadForWhisper(path); err == nil {
		t.Error("expected error for 8-bit input")
	}
}
