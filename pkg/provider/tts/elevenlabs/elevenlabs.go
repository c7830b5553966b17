// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It is wired as the fallback voice
// when Cartesia is unavailable.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkinghead/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// speeds maps named speaking rates onto the ElevenLabs speed range.
var speeds = map[string]float64{
	"slowest": 0.7,
	"slow":    0.85,
	"normal":  1.0,
	"fast":    1.1,
	"fastest": 1.2,
}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithEndpoint overrides the WebSocket base endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	endpoint     string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := sampleRateOf(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	rate, _ := sampleRateOf(p.outputFormat)
	return rate
}

func sampleRateOf(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw pcm", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
	}
	return n, nil
}

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func settingsFor(voice tts.VoiceProfile) *voiceSettings {
	return &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: speeds[voice.Speed]}
}

// SynthesizeStream opens a WebSocket to ElevenLabs, pipes text fragments from
// the text channel, and returns a channel emitting raw PCM audio chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan tts.Chunk, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.buildURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	// The first message authenticates and must carry non-empty text.
	boi, _ := json.Marshal(textMessage{Text: " ", VoiceSettings: settingsFor(voice), XiAPIKey: p.apiKey})
	if err := conn.Write(ctx, websocket.MessageText, boi); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	out := make(chan tts.Chunk, 64)
	go func() {
		defer close(out)
		defer conn.CloseNow()

		streamCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		go func() {
			if err := writeText(streamCtx, conn, text); err != nil {
				cancel(err)
			}
		}()

		err := readAudio(streamCtx, conn, out)
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if cause := context.Cause(streamCtx); cause != nil {
			err = cause
		}
		select {
		case out <- tts.Chunk{Err: err}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func writeText(ctx context.Context, conn *websocket.Conn, text <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-text:
			if !ok {
				// An empty text closes the input and flushes remaining audio.
				return write(ctx, conn, textMessage{Text: ""})
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			if !strings.HasSuffix(s, " ") {
				s += " "
			}
			if err := write(ctx, conn, textMessage{Text: s}); err != nil {
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg textMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("elevenlabs: write: %w", err)
	}
	return nil
}

func readAudio(ctx context.Context, conn *websocket.Conn, out chan<- tts.Chunk) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("elevenlabs: decode response: %w", err)
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: %s", resp.Error)
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			select {
			case out <- tts.Chunk{Audio: pcm}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

// buildURL constructs the stream-input URL for a given voice.
func (p *Provider) buildURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return strings.TrimSuffix(p.endpoint, "/") + "/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

var _ tts.Provider = (*Provider)(nil)
