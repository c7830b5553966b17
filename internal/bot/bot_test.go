package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/talkinghead/internal/avatar"
	"github.com/MrWong99/talkinghead/internal/botconfig"
	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/pipeline"
	"github.com/MrWong99/talkinghead/internal/transport"
	trmock "github.com/MrWong99/talkinghead/internal/transport/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkinghead/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/talkinghead/pkg/provider/tts/mock"
)

func testAssets() avatar.Assets {
	img := func(v byte) frame.Image {
		return frame.Image{Pixels: []byte{v, v, v, 255}, Width: 1, Height: 1, Format: avatar.FormatRGBA}
	}
	return avatar.Assets{Sprites: []frame.Image{img(1), img(2), img(2), img(1)}}
}

func testBot() botconfig.Config {
	c := botconfig.Default()
	c.Prompt = "You are a friendly robot."
	c.VoiceID = "voice-1"
	c.SessionTime = 60
	return c
}

type fixture struct {
	tr  *trmock.Transport
	llm *llmmock.Provider
	tts *ttsmock.Provider
	cfg Config
}

func newFixture() *fixture {
	f := &fixture{
		tr: trmock.New(),
		llm: &llmmock.Provider{
			StreamChunks: []llm.Chunk{{Text: "Hello there."}, {FinishReason: "stop"}},
		},
		tts: &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 320)}},
	}
	f.cfg = Config{
		RoomURL:            "https://example.daily.co/room-1",
		Token:              "token-room-1",
		Bot:                testBot(),
		Transport:          f.tr,
		LLM:                f.llm,
		TTS:                f.tts,
		Assets:             testAssets(),
		AllowInterruptions: true,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

func start(t *testing.T, w *Worker, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish in time")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing room", mutate: func(c *Config) { c.RoomURL = "" }},
		{name: "missing transport", mutate: func(c *Config) { c.Transport = nil }},
		{name: "missing llm", mutate: func(c *Config) { c.LLM = nil }},
		{name: "missing tts", mutate: func(c *Config) { c.TTS = nil }},
		{name: "invalid bot config", mutate: func(c *Config) { c.Bot.Prompt = "" }},
		{name: "no sprites", mutate: func(c *Config) { c.Assets = avatar.Assets{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.mutate(&f.cfg)
			if _, err := New(f.cfg); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNew_StageOrder(t *testing.T) {
	t.Parallel()
	w, err := New(newFixture().cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var names []string
	for _, p := range w.pipe.Processors() {
		names = append(names, p.Name())
	}
	want := []string{
		"input_transport", "user_aggregator", "llm", "tts", "animation",
		"transcript_collector", "output_transport", "assistant_aggregator",
	}
	if !slices.Equal(names, want) {
		t.Errorf("stages = %v, want %v", names, want)
	}
}

func TestWorker_Session(t *testing.T) {
	t.Parallel()
	f := newFixture()
	w, err := New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := start(t, w, context.Background())

	eventually(t, "join", func() bool { return len(f.tr.Joined()) == 1 })
	f.tr.Emit(transport.Event{Kind: transport.EventParticipantJoined, Participant: "alice"})

	// The greeting is generated from the system prompt alone and spoken.
	eventually(t, "greeting audio", func() bool { return len(f.tr.Audio()) > 0 })
	calls := f.llm.Calls()
	if len(calls) == 0 {
		t.Fatal("llm was not called")
	}
	first := calls[0].Req.Messages
	if len(first) != 1 || first[0].Role != llm.RoleSystem || first[0].Content != "You are a friendly robot." {
		t.Errorf("greeting messages = %+v", first)
	}
	if got := f.tr.Captured(); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("captured = %v, want [alice]", got)
	}

	f.tr.Emit(transport.Event{Kind: transport.EventTranscription, Participant: "alice", Text: "How are you?", Final: true, Timestamp: time.Now()})
	eventually(t, "second reply", func() bool { return len(f.llm.Calls()) >= 2 })

	f.tr.Emit(transport.Event{Kind: transport.EventParticipantLeft, Participant: "alice"})
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := w.Transcripts(); !slices.Equal(got, []string{"How are you?"}) {
		t.Errorf("transcripts = %v", got)
	}
	second := f.llm.Calls()[1].Req.Messages
	if last := second[len(second)-1]; last.Role != llm.RoleUser || last.Content != "How are you?" {
		t.Errorf("last message of second request = %+v", last)
	}
	images := f.tr.Images()
	if len(images) == 0 || images[0].Pixels[0] != 1 {
		t.Errorf("first image should be the quiet sprite, got %d images", len(images))
	}
	if len(f.tr.Sprites()) == 0 {
		t.Error("talking animation was never sent")
	}
	if f.tr.CloseCalls() == 0 {
		t.Error("transport was not closed")
	}
	if calls := f.tts.Calls(); len(calls) == 0 || calls[0].Voice.ID != "voice-1" || calls[0].Voice.Speed != "normal" {
		t.Errorf("tts calls = %+v", calls)
	}
}

func TestWorker_SessionTimeEndsRun(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Bot.SessionTime = 0.05
	w, err := New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wait(t, start(t, w, context.Background())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(f.llm.Calls()); n != 0 {
		t.Errorf("llm calls = %d, want 0 without participants", n)
	}
	if err := w.Stop(); !errors.Is(err, pipeline.ErrStopped) {
		t.Errorf("Stop after end = %v, want ErrStopped", err)
	}
}

func TestWorker_Stop(t *testing.T) {
	t.Parallel()
	f := newFixture()
	w, err := New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := start(t, w, context.Background())
	eventually(t, "join", func() bool { return len(f.tr.Joined()) == 1 })
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWorker_JoinError(t *testing.T) {
	t.Parallel()
	f := newFixture()
	boom := errors.New("room full")
	f.tr.JoinErr = boom
	w, err := New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want join error", err)
	}
}

func TestWorker_ContextCancel(t *testing.T) {
	t.Parallel()
	f := newFixture()
	w, err := New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, w, ctx)
	eventually(t, "join", func() bool { return len(f.tr.Joined()) == 1 })
	cancel()
	if err := wait(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
