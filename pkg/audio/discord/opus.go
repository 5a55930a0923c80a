package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Discord voice is 48 kHz stereo Opus in 20 ms packets.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20

	// opusFrameSize is samples per channel in one packet (960).
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000

	// opusFrameBytes is the PCM size of one packet: 960 × 2 ch × 2 bytes.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// decoderPool holds one Opus decoder per SSRC. Opus decoding is stateful so
// packets of different speakers must never share a decoder. Only recvLoop
// touches the pool.
type decoderPool struct {
	decoders map[uint32]*gopus.Decoder
}

func newDecoderPool() *decoderPool {
	return &decoderPool{decoders: make(map[uint32]*gopus.Decoder)}
}

// decode turns one Opus packet from ssrc into little-endian int16 PCM.
func (p *decoderPool) decode(ssrc uint32, packet []byte) ([]byte, error) {
	dec, ok := p.decoders[ssrc]
	if !ok {
		var err error
		dec, err = gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			return nil, fmt.Errorf("discord: opus decoder for ssrc %d: %w", ssrc, err)
		}
		p.decoders[ssrc] = dec
	}
	samples, err := dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode ssrc %d: %w", ssrc, err)
	}
	return pcmBytes(samples), nil
}

// forget drops the decoder state of ssrc, e.g. when it changes owner.
func (p *decoderPool) forget(ssrc uint32) { delete(p.decoders, ssrc) }

// packetizer accumulates 48 kHz stereo PCM and cuts it into Opus packets of
// exactly one frame each. Leftover PCM waits for the next push.
type packetizer struct {
	enc     *gopus.Encoder
	pending []byte
}

func newPacketizer() (*packetizer, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}
	return &packetizer{enc: enc}, nil
}

// push appends pcm and returns every complete packet. A packet that fails to
// encode is skipped and the first error is returned alongside the others.
func (p *packetizer) push(pcm []byte) ([][]byte, error) {
	p.pending = append(p.pending, pcm...)

	var (
		packets  [][]byte
		firstErr error
	)
	for len(p.pending) >= opusFrameBytes {
		frame := pcmSamples(p.pending[:opusFrameBytes])
		p.pending = p.pending[opusFrameBytes:]

		packet, err := p.enc.Encode(frame, opusFrameSize, opusFrameBytes)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("discord: opus encode: %w", err)
			}
			continue
		}
		packets = append(packets, packet)
	}
	return packets, firstErr
}

// reset discards buffered PCM shorter than one frame.
func (p *packetizer) reset() { p.pending = p.pending[:0] }

func pcmBytes(samples []int16) []byte {
	b := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint16(b, uint16(s))
	}
	return b
}

func pcmSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return samples
}
