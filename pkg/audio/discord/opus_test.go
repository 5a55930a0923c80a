package discord

import (
	"slices"
	"testing"
)

func TestPacketizer_Push(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		chunks      []int // PCM bytes per push
		wantPackets []int // packets returned by each push
		wantPending int
	}{
		{name: "exact frame", chunks: []int{opusFrameBytes}, wantPackets: []int{1}},
		{name: "short frame buffered", chunks: []int{opusFrameBytes / 2}, wantPackets: []int{0}, wantPending: opusFrameBytes / 2},
		{name: "halves join", chunks: []int{opusFrameBytes / 2, opusFrameBytes / 2}, wantPackets: []int{0, 1}},
		{name: "several frames", chunks: []int{3*opusFrameBytes + 10}, wantPackets: []int{3}, wantPending: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pk, err := newPacketizer()
			if err != nil {
				t.Fatalf("newPacketizer: %v", err)
			}
			for i, n := range tt.chunks {
				packets, err := pk.push(make([]byte, n))
				if err != nil {
					t.Fatalf("push %d: %v", i, err)
				}
				if len(packets) != tt.wantPackets[i] {
					t.Errorf("push %d: %d packets, want %d", i, len(packets), tt.wantPackets[i])
				}
			}
			if len(pk.pending) != tt.wantPending {
				t.Errorf("pending = %d bytes, want %d", len(pk.pending), tt.wantPending)
			}
		})
	}
}

func TestPacketizer_Reset(t *testing.T) {
	t.Parallel()
	pk, err := newPacketizer()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pk.push(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	pk.reset()
	packets, err := pk.push(make([]byte, opusFrameBytes-100))
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 0 {
		t.Errorf("reset should drop buffered PCM, got %d packets", len(packets))
	}
}

func TestDecoderPool_RoundTrip(t *testing.T) {
	t.Parallel()
	pk, err := newPacketizer()
	if err != nil {
		t.Fatal(err)
	}
	packets, err := pk.push(make([]byte, opusFrameBytes))
	if err != nil || len(packets) != 1 {
		t.Fatalf("push: %d packets, err %v", len(packets), err)
	}

	pool := newDecoderPool()
	pcm, err := pool.decode(42, packets[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != opusFrameBytes {
		t.Errorf("decoded %d bytes, want %d", len(pcm), opusFrameBytes)
	}
	if len(pool.decoders) != 1 {
		t.Errorf("pool holds %d decoders, want 1", len(pool.decoders))
	}
	pool.forget(42)
	if len(pool.decoders) != 0 {
		t.Error("forget should drop the decoder")
	}
}

func TestPCMConversion(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	if got := pcmSamples(pcmBytes(in)); !slices.Equal(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
	if got := pcmBytes([]int16{0x0102}); !slices.Equal(got, []byte{0x02, 0x01}) {
		t.Errorf("pcmBytes not little-endian: %v", got)
	}
}
