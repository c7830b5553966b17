// Package audio holds the PCM frame type shared by transports, providers and
// pipeline stages, plus small helpers for 16-bit little-endian PCM.
package audio

import "time"

// AudioFrame is one chunk of raw PCM audio. Data is always little-endian
// signed 16-bit samples, interleaved when Channels > 1.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for room input, 24000 for synthesis output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. Frames with an unknown
// format report zero.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
