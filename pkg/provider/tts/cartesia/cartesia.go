// Package cartesia provides a Cartesia-backed TTS provider using the Cartesia
// streaming WebSocket API. Text fragments of one stream share a Cartesia
// context so prosody carries across sentences.
package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/talkinghead/pkg/provider/tts"
)

const (
	defaultEndpoint   = "wss://api.cartesia.ai/tts/websocket"
	apiVersion        = "2025-04-16"
	DefaultModel      = "sonic-2"
	DefaultSampleRate = 24000
)

// errNothingToSay ends a stream whose text channel closed without content.
var errNothingToSay = errors.New("cartesia: empty transcript")

// ProviderError is an error reported by Cartesia for a context.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string { return "cartesia: " + e.Message }

// Option is a functional option for configuring the Cartesia Provider.
type Option func(*Provider)

// WithModel sets the Cartesia model ID.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the PCM output sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithLanguage sets the transcript language (e.g., "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used against self-hosted
// gateways and in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements tts.Provider backed by the Cartesia streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	endpoint   string
}

// New creates a new Cartesia Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      DefaultModel,
		language:   "en",
		sampleRate: DefaultSampleRate,
		endpoint:   defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type controls struct {
	Speed   string   `json:"speed,omitempty"`
	Emotion []string `json:"emotion,omitempty"`
}

// request is one generation request on a Cartesia context.
type request struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
	ContextID    string       `json:"context_id"`
	Continue     bool         `json:"continue"`
	Controls     *controls    `json:"__experimental_controls,omitempty"`
}

// response is any message Cartesia sends back over the socket.
type response struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"` // base64 PCM
	Done      bool   `json:"done"`
	ContextID string `json:"context_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (p *Provider) request(contextID, transcript string, more bool, voice tts.VoiceProfile) request {
	req := request{
		ModelID:    p.model,
		Transcript: transcript,
		Voice:      voiceSpec{Mode: "id", ID: voice.ID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: p.sampleRate,
		},
		Language:  p.language,
		ContextID: contextID,
		Continue:  more,
	}
	if voice.Speed != "" || len(voice.Emotion) > 0 {
		req.Controls = &controls{Speed: voice.Speed, Emotion: voice.Emotion}
	}
	return req
}

func (p *Provider) dialURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("cartesia: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", p.apiKey)
	q.Set("cartesia_version", apiVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SynthesizeStream opens a WebSocket to Cartesia, sends every text fragment
// as a continuation of one context, and returns a channel emitting raw PCM.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan tts.Chunk, error) {
	if voice.ID == "" {
		return nil, errors.New("cartesia: voice.ID must not be empty")
	}
	wsURL, err := p.dialURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cartesia: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	contextID := uuid.NewString()
	out := make(chan tts.Chunk, 64)

	go func() {
		defer close(out)
		defer conn.CloseNow()

		streamCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		go func() {
			n, err := p.writeTranscripts(streamCtx, conn, contextID, text, voice)
			switch {
			case err != nil:
				cancel(err)
			case n == 0:
				cancel(errNothingToSay)
			}
		}()

		err := readAudio(streamCtx, conn, contextID, out)
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
		if ctx.Err() != nil {
			return
		}
		var perr *ProviderError
		if cause := context.Cause(streamCtx); cause != nil && !errors.As(err, &perr) {
			if errors.Is(cause, errNothingToSay) {
				return
			}
			err = cause
		}
		select {
		case out <- tts.Chunk{Err: err}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// writeTranscripts forwards text fragments until text is closed and then
// finalises the context. It returns how many fragments were sent.
func (p *Provider) writeTranscripts(ctx context.Context, conn *websocket.Conn, contextID string, text <-chan string, voice tts.VoiceProfile) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, nil
		case s, ok := <-text:
			if !ok {
				if n == 0 {
					return 0, nil
				}
				return n, send(ctx, conn, p.request(contextID, "", false, voice))
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			// Cartesia concatenates continuations verbatim.
			if !strings.HasSuffix(s, " ") {
				s += " "
			}
			if err := send(ctx, conn, p.request(contextID, s, true, voice)); err != nil {
				return n, err
			}
			n++
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, req request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cartesia: marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("cartesia: write: %w", err)
	}
	return nil
}

// readAudio forwards decoded audio until the context reports done.
func readAudio(ctx context.Context, conn *websocket.Conn, contextID string, out chan<- tts.Chunk) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("cartesia: read: %w", err)
		}
		var resp response
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("cartesia: decode response: %w", err)
		}
		if resp.ContextID != "" && resp.ContextID != contextID {
			continue
		}
		switch resp.Type {
		case "chunk":
			pcm, err := base64.StdEncoding.DecodeString(resp.Data)
			if err != nil {
				return fmt.Errorf("cartesia: decode audio: %w", err)
			}
			select {
			case out <- tts.Chunk{Audio: pcm}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if resp.Done {
				return nil
			}
		case "done":
			return nil
		case "error":
			return &ProviderError{Message: resp.Error}
		}
	}
}

var _ tts.Provider = (*Provider)(nil)
