// Package opus wraps layeh.com/gopus for transports that exchange Opus
// packets instead of raw PCM.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/talkinghead/pkg/audio"
)

// FrameMs is the only packet duration supported by Codec.
const FrameMs = 20

// Codec encodes and decodes 20 ms Opus packets for one stream direction pair.
// A Codec keeps encoder and decoder state and must not be shared between
// streams or used from multiple goroutines at once.
type Codec struct {
	sampleRate int
	channels   int
	frameSize  int
	enc        *gopus.Encoder
	dec        *gopus.Decoder
}

// NewCodec creates a Codec for the given sample rate (8000, 12000, 16000,
// 24000 or 48000) and channel count.
func NewCodec(sampleRate, channels int) (*Codec, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Codec{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * FrameMs / 1000,
		enc:        enc,
		dec:        dec,
	}, nil
}

// FrameBytes is the PCM byte length of one 20 ms packet.
func (c *Codec) FrameBytes() int {
	return c.frameSize * c.channels * 2
}

// Encode encodes exactly one 20 ms frame of PCM into an Opus packet.
func (c *Codec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != c.FrameBytes() {
		return nil, fmt.Errorf("opus: encode: got %d bytes, want %d", len(pcm), c.FrameBytes())
	}
	pkt, err := c.enc.Encode(audio.BytesToInt16s(pcm), c.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Decode decodes an Opus packet into little-endian PCM.
func (c *Codec) Decode(pkt []byte) ([]byte, error) {
	pcm, err := c.dec.Decode(pkt, c.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}
