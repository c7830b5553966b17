// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkinghead/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile
	// Text is filled with every fragment read from the text channel.
	Text []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted after the text channel has been closed.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// FailFirst limits SynthesizeErr to the first FailFirst calls. Zero means
	// every call fails.
	FailFirst int

	// StreamErr, if non-nil, is delivered as the final chunk of every stream.
	StreamErr error

	// Hold, if non-nil, delays audio until closed or the context ends.
	Hold chan struct{}

	// Rate is returned by SampleRate. Zero means 24000.
	Rate int

	calls []*SynthesizeStreamCall
}

// SynthesizeStream records the call, drains text and then emits the
// configured chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan tts.Chunk, error) {
	p.mu.Lock()
	call := &SynthesizeStreamCall{Ctx: ctx, Voice: voice}
	idx := len(p.calls)
	p.calls = append(p.calls, call)
	if p.SynthesizeErr != nil && (p.FailFirst == 0 || idx < p.FailFirst) {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	streamErr := p.StreamErr
	hold := p.Hold
	p.mu.Unlock()

	ch := make(chan tts.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
	read:
		for {
			select {
			case s, ok := <-text:
				if !ok {
					break read
				}
				p.mu.Lock()
				call.Text = append(call.Text, s)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, a := range chunks {
			select {
			case ch <- tts.Chunk{Audio: a}:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			select {
			case ch <- tts.Chunk{Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 24000
	}
	return p.Rate
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.calls))
	for i, c := range p.calls {
		out[i] = *c
		out[i].Text = append([]string(nil), c.Text...)
	}
	return out
}

var _ tts.Provider = (*Provider)(nil)
