// Package wsroom is a [transport.Transport] for rooms reachable over a
// WebSocket media gateway.
//
// The gateway speaks a JSON envelope protocol: the bot sends a "join"
// message carrying its token and presentation, then exchanges "audio",
// "image", "sprites" and "capture_transcription" messages, and receives
// "audio", "transcription", "participant_joined", "participant_left" and
// "error" messages. Audio is raw 16-bit PCM unless the gateway negotiated
// Opus, in which case every audio payload is one 20 ms Opus packet.
package wsroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/transport"
	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/audio/opus"
)

// Codec names accepted by [WithCodec].
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

const (
	defaultInputRate = 16000
	eventBuffer      = 256
	readLimit        = 1 << 24
)

// envelope is every message exchanged with the gateway.
type envelope struct {
	Type        string    `json:"type"`
	Participant string    `json:"participant,omitempty"`
	Data        []byte    `json:"data,omitempty"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	Channels    int       `json:"channels,omitempty"`
	Text        string    `json:"text,omitempty"`
	Final       bool      `json:"final,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Format      string    `json:"format,omitempty"`
	Frames      [][]byte  `json:"frames,omitempty"`
	Join        *join     `json:"join,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type join struct {
	Token         string `json:"token"`
	BotName       string `json:"bot_name"`
	CameraWidth   int    `json:"camera_width"`
	CameraHeight  int    `json:"camera_height"`
	AudioOut      bool   `json:"audio_out"`
	Transcription bool   `json:"transcription"`
	Codec         string `json:"codec"`
	SampleRate    int    `json:"sample_rate"`
}

// Option configures a [Transport].
type Option func(*Transport)

// WithParams sets the bot presentation. Defaults to [transport.DefaultParams].
func WithParams(p transport.Params) Option {
	return func(t *Transport) { t.params = p }
}

// WithCodec selects the audio encoding, [CodecPCM] (default) or [CodecOpus].
func WithCodec(codec string) Option {
	return func(t *Transport) { t.codec = codec }
}

// WithInputSampleRate sets the rate of participant audio. Defaults to 16 kHz.
func WithInputSampleRate(rate int) Option {
	return func(t *Transport) { t.inputRate = rate }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// Transport implements transport.Transport over a WebSocket gateway.
type Transport struct {
	params    transport.Params
	codec     string
	inputRate int
	logger    *slog.Logger

	events chan transport.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	decoder *opus.Codec
	encoder map[int]*opus.Codec
	pending map[int][]byte
}

// New creates a Transport. Join must be called before any other method.
func New(opts ...Option) (*Transport, error) {
	t := &Transport{
		params:    transport.DefaultParams(),
		codec:     CodecPCM,
		inputRate: defaultInputRate,
		events:    make(chan transport.Event, eventBuffer),
		done:      make(chan struct{}),
		encoder:   make(map[int]*opus.Codec),
		pending:   make(map[int][]byte),
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	switch t.codec {
	case CodecPCM:
	case CodecOpus:
		dec, err := opus.NewCodec(t.inputRate, 1)
		if err != nil {
			return nil, fmt.Errorf("wsroom: %w", err)
		}
		t.decoder = dec
	default:
		return nil, fmt.Errorf("wsroom: unsupported codec %q", t.codec)
	}
	return t, nil
}

// Join dials roomURL, authenticates with token and starts reading events.
func (t *Transport) Join(ctx context.Context, roomURL, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.conn != nil {
		return errors.New("wsroom: already joined")
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, roomURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return fmt.Errorf("wsroom: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	hello := envelope{Type: "join", Join: &join{
		Token:         token,
		BotName:       t.params.BotName,
		CameraWidth:   t.params.CameraWidth,
		CameraHeight:  t.params.CameraHeight,
		AudioOut:      t.params.AudioOut,
		Transcription: t.params.Transcription,
		Codec:         t.codec,
		SampleRate:    t.inputRate,
	}}
	if err := write(ctx, conn, hello); err != nil {
		conn.CloseNow()
		return err
	}
	t.conn = conn

	readCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.readLoop(readCtx, conn)

	t.logger.Info("joined room", "room_url", roomURL, "bot_name", t.params.BotName, "codec", t.codec)
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(t.done)
	defer close(t.events)
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.logger.Warn("room connection lost", "err", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.logger.Warn("dropping malformed room message", "err", err)
			continue
		}
		ev, ok := t.toEvent(env)
		if !ok {
			continue
		}
		select {
		case t.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) toEvent(env envelope) (transport.Event, bool) {
	ev := transport.Event{Participant: env.Participant}
	switch env.Type {
	case "audio":
		ev.Kind = transport.EventAudio
		pcm, rate := env.Data, env.SampleRate
		if t.decoder != nil {
			var err error
			if pcm, err = t.decodeOpus(env.Data); err != nil {
				t.logger.Warn("dropping undecodable audio", "participant", env.Participant, "err", err)
				return ev, false
			}
			rate = t.inputRate
		}
		if rate == 0 {
			rate = t.inputRate
		}
		channels := env.Channels
		if channels == 0 {
			channels = 1
		}
		ev.Audio = audio.AudioFrame{Data: pcm, SampleRate: rate, Channels: channels}
	case "transcription":
		ev.Kind = transport.EventTranscription
		ev.Text, ev.Final, ev.Timestamp = env.Text, env.Final, env.Timestamp
	case "participant_joined":
		ev.Kind = transport.EventParticipantJoined
	case "participant_left":
		ev.Kind = transport.EventParticipantLeft
	case "error":
		t.logger.Error("room reported error", "error", env.Error)
		return ev, false
	default:
		return ev, false
	}
	return ev, true
}

func (t *Transport) decodeOpus(pkt []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decoder.Decode(pkt)
}

// SendAudio implements transport.Transport. With Opus, audio is cut into
// 20 ms packets and a partial tail is held back for the next call.
func (t *Transport) SendAudio(ctx context.Context, a audio.AudioFrame) error {
	if t.codec != CodecOpus {
		return t.send(ctx, envelope{Type: "audio", Data: a.Data, SampleRate: a.SampleRate, Channels: a.Channels})
	}

	packets, err := t.encodeOpus(a)
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := t.send(ctx, envelope{Type: "audio", Data: pkt, SampleRate: a.SampleRate, Channels: a.Channels}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) encodeOpus(a audio.AudioFrame) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	enc, ok := t.encoder[a.SampleRate]
	if !ok {
		var err error
		if enc, err = opus.NewCodec(a.SampleRate, 1); err != nil {
			return nil, fmt.Errorf("wsroom: %w", err)
		}
		t.encoder[a.SampleRate] = enc
	}
	buf := append(t.pending[a.SampleRate], a.Data...)
	n := enc.FrameBytes()
	var packets [][]byte
	for len(buf) >= n {
		pkt, err := enc.Encode(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("wsroom: %w", err)
		}
		packets = append(packets, pkt)
		buf = buf[n:]
	}
	t.pending[a.SampleRate] = append([]byte(nil), buf...)
	return packets, nil
}

// SendImage implements transport.Transport.
func (t *Transport) SendImage(ctx context.Context, img frame.Image) error {
	return t.send(ctx, envelope{Type: "image", Data: img.Pixels, Width: img.Width, Height: img.Height, Format: img.Format})
}

// SendSprites implements transport.Transport.
func (t *Transport) SendSprites(ctx context.Context, images []frame.Image) error {
	if len(images) == 0 {
		return nil
	}
	env := envelope{Type: "sprites", Width: images[0].Width, Height: images[0].Height, Format: images[0].Format}
	env.Frames = make([][]byte, len(images))
	for i, img := range images {
		env.Frames[i] = img.Pixels
	}
	return t.send(ctx, env)
}

// CaptureTranscription implements transport.Transport.
func (t *Transport) CaptureTranscription(ctx context.Context, participant string) error {
	return t.send(ctx, envelope{Type: "capture_transcription", Participant: participant})
}

func (t *Transport) send(ctx context.Context, env envelope) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if conn == nil {
		return errors.New("wsroom: not joined")
	}
	return write(ctx, conn, env)
}

func write(ctx context.Context, conn *websocket.Conn, env envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsroom: marshal %s: %w", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("wsroom: write %s: %w", env.Type, err)
	}
	return nil
}

// Close sends "leave", closes the socket and waits for the read loop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		close(t.events)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = write(ctx, conn, envelope{Type: "leave"})
	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.logger.Debug("room close handshake failed", "err", err)
	}
	t.cancel()
	<-t.done
	return nil
}

var _ transport.Transport = (*Transport)(nil)
