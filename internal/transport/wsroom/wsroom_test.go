package wsroom

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/transport"
	"github.com/MrWong99/talkinghead/pkg/audio"
)

// gateway is a scripted room gateway. After the join message it sends
// script, then records everything the bot sends until "leave".
type gateway struct {
	script []envelope

	mu       sync.Mutex
	auth     string
	received []envelope
	left     chan struct{}
}

func newGateway(script ...envelope) *gateway {
	return &gateway{script: script, left: make(chan struct{})}
}

func (g *gateway) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.auth = r.Header.Get("Authorization")
		g.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		for {
			_, b, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(b, &env); err != nil {
				t.Errorf("unmarshal: %v", err)
				return
			}
			g.mu.Lock()
			g.received = append(g.received, env)
			g.mu.Unlock()

			switch env.Type {
			case "join":
				for _, s := range g.script {
					b, _ := json.Marshal(s)
					if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
						return
					}
				}
			case "leave":
				close(g.left)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func (g *gateway) messages() []envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]envelope(nil), g.received...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, ch <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transport.Event{}
}

func TestNew_RejectsUnknownCodec(t *testing.T) {
	t.Parallel()
	if _, err := New(WithCodec("flac")); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestTransport_Events(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gw := newGateway(
		envelope{Type: "participant_joined", Participant: "p1"},
		envelope{Type: "audio", Participant: "p1", Data: []byte{1, 0, 2, 0}},
		envelope{Type: "error", Error: "ignored"},
		envelope{Type: "transcription", Participant: "p1", Text: "hello", Final: true, Timestamp: ts},
		envelope{Type: "participant_left", Participant: "p1"},
	)
	srv := httptest.NewServer(gw.handler(t))
	defer srv.Close()

	tr, err := New(WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Join(ctx, wsURL(srv), "tok"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer tr.Close()

	ev := nextEvent(t, tr.Events())
	if ev.Kind != transport.EventParticipantJoined || ev.Participant != "p1" {
		t.Errorf("event 0 = %+v", ev)
	}
	ev = nextEvent(t, tr.Events())
	if ev.Kind != transport.EventAudio || ev.Audio.SampleRate != 16000 || ev.Audio.Channels != 1 || len(ev.Audio.Data) != 4 {
		t.Errorf("event 1 = %+v", ev)
	}
	ev = nextEvent(t, tr.Events())
	if ev.Kind != transport.EventTranscription || ev.Text != "hello" || !ev.Final || !ev.Timestamp.Equal(ts) {
		t.Errorf("event 2 = %+v", ev)
	}
	ev = nextEvent(t, tr.Events())
	if ev.Kind != transport.EventParticipantLeft {
		t.Errorf("event 3 = %+v", ev)
	}

	gw.mu.Lock()
	auth := gw.auth
	gw.mu.Unlock()
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	join := gw.messages()[0]
	if join.Type != "join" || join.Join == nil {
		t.Fatalf("first message = %+v", join)
	}
	if join.Join.BotName != "Voice Agent" || join.Join.CameraWidth != 1024 || join.Join.CameraHeight != 576 || !join.Join.Transcription {
		t.Errorf("join = %+v", *join.Join)
	}
}

func TestTransport_Send(t *testing.T) {
	t.Parallel()

	gw := newGateway()
	srv := httptest.NewServer(gw.handler(t))
	defer srv.Close()

	tr, _ := New(WithLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Join(ctx, wsURL(srv), "tok"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	img := frame.Image{Pixels: []byte{1, 2, 3, 4}, Width: 1, Height: 1, Format: "RGBA"}
	if err := tr.SendImage(ctx, img); err != nil {
		t.Fatalf("SendImage: %v", err)
	}
	if err := tr.SendSprites(ctx, []frame.Image{img, img}); err != nil {
		t.Fatalf("SendSprites: %v", err)
	}
	if err := tr.SendAudio(ctx, audio.AudioFrame{Data: []byte{9, 9}, SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := tr.CaptureTranscription(ctx, "p1"); err != nil {
		t.Fatalf("CaptureTranscription: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-gw.left:
	case <-time.After(5 * time.Second):
		t.Fatal("gateway never saw leave")
	}

	var types []string
	for _, m := range gw.messages() {
		types = append(types, m.Type)
	}
	want := "join,image,sprites,audio,capture_transcription,leave"
	if got := strings.Join(types, ","); got != want {
		t.Fatalf("messages = %s, want %s", got, want)
	}
	msgs := gw.messages()
	if len(msgs[2].Frames) != 2 || msgs[2].Width != 1 {
		t.Errorf("sprites = %+v", msgs[2])
	}
	if msgs[3].SampleRate != 24000 || len(msgs[3].Data) != 2 {
		t.Errorf("audio = %+v", msgs[3])
	}
	if msgs[4].Participant != "p1" {
		t.Errorf("capture = %+v", msgs[4])
	}

	if _, ok := <-tr.Events(); ok {
		t.Error("Events() still open after Close")
	}
	if err := tr.SendImage(ctx, img); err == nil {
		t.Error("SendImage after Close succeeded")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestTransport_SendBeforeJoin(t *testing.T) {
	t.Parallel()
	tr, _ := New()
	if err := tr.CaptureTranscription(context.Background(), "p1"); err == nil {
		t.Fatal("expected error before Join")
	}
}
