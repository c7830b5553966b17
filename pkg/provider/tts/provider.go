// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Cartesia or
// ElevenLabs) and presents a uniform streaming interface. SynthesizeStream
// accepts a channel of text fragments and returns a channel of raw PCM audio
// as it becomes available, so synthesis can start before the language model
// has finished its reply.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile selects the voice and speaking style for a synthesis stream.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Speed is a named speaking rate ("slowest", "slow", "normal", "fast",
	// "fastest"). Empty means provider default.
	Speed string

	// Emotion lists style controls such as "positivity:high" or "curiosity".
	// Providers without emotion support ignore it.
	Emotion []string

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// Chunk is one piece of synthesized audio. A chunk with a non-nil Err is
// always the last value on the channel and carries no audio.
type Chunk struct {
	// Audio is raw little-endian 16-bit mono PCM at the provider's SampleRate.
	Audio []byte

	// Err reports a failure after the stream was opened.
	Err error
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a channel
	// of audio chunks. The returned channel is closed once all text has been
	// synthesised (the text channel was closed and the backend flushed) or ctx
	// is cancelled. Callers must drain it.
	//
	// The error return is non-nil only if the stream cannot be started.
	// Failures after that arrive as a final Chunk with Err set.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan Chunk, error)

	// SampleRate is the rate in Hz of every Chunk the provider emits.
	SampleRate() int
}
