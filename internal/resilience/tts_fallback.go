package resilience

import (
	"context"

	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
)

// ttsEntry is a TTS backend plus the voice it should use in place of the
// caller's. Voice identifiers are not portable between vendors.
type ttsEntry struct {
	provider tts.Provider
	voiceID  string
}

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends. Audio from a fallback with a different sample rate is resampled
// to the primary's rate so callers see a single format.
type TTSFallback struct {
	group *FallbackGroup[ttsEntry]
	rate  int
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(ttsEntry{provider: primary}, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional TTS provider. A non-empty voiceID
// replaces the requested voice ID when this provider is used.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider, voiceID string) {
	f.group.AddFallback(name, ttsEntry{provider: provider, voiceID: voiceID})
}

// SampleRate returns the primary provider's sample rate.
func (f *TTSFallback) SampleRate() int { return f.rate }

// SynthesizeStream opens a stream on the first healthy provider. Only stream
// setup fails over; text already consumed by a failed stream is not replayed.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan tts.Chunk, error) {
	return ExecuteWithResult(f.group, func(e ttsEntry) (<-chan tts.Chunk, error) {
		v := voice
		if e.voiceID != "" {
			v.ID = e.voiceID
		}
		ch, err := e.provider.SynthesizeStream(ctx, text, v)
		if err != nil {
			return nil, err
		}
		if src := e.provider.SampleRate(); src != f.rate {
			return resample(ch, src, f.rate), nil
		}
		return ch, nil
	})
}

func resample(in <-chan tts.Chunk, src, dst int) <-chan tts.Chunk {
	out := make(chan tts.Chunk, cap(in))
	go func() {
		defer close(out)
		for c := range in {
			if len(c.Audio) > 0 {
				c.Audio = audio.ResampleMono16(c.Audio, src, dst)
			}
			out <- c
		}
	}()
	return out
}
