package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/talkinghead/internal/frame"
	trmock "github.com/MrWong99/talkinghead/internal/transport/mock"
	"github.com/MrWong99/talkinghead/pkg/audio"
)

func speech(b byte) frame.SynthesizedAudio {
	return frame.SynthesizedAudio{Audio: audio.AudioFrame{Data: []byte{b, b}, SampleRate: 24000, Channels: 1}}
}

func TestOutputTransport_PlaysAndTracksSpeaking(t *testing.T) {
	t.Parallel()

	tr := trmock.New()
	s := NewOutputTransport(tr, discard(), nil)
	out := &capture{}
	feed(t, s, out,
		frame.Start{AllowInterruptions: true},
		frame.SynthesisStarted{},
		speech(1),
		speech(2),
		frame.SynthesisStopped{},
	)

	want := "start,synthesis_started,^bot_started_speaking,synthesized_audio,synthesized_audio,^bot_stopped_speaking,synthesis_stopped"
	if got := joined(out.names()); got != want {
		t.Errorf("frames = %s, want %s", got, want)
	}
	if n := len(tr.Audio()); n != 2 {
		t.Errorf("sent audio = %d, want 2", n)
	}
}

func TestOutputTransport_SendsCameraFrames(t *testing.T) {
	t.Parallel()

	tr := trmock.New()
	s := NewOutputTransport(tr, discard(), nil)
	img := frame.Image{Pixels: []byte{1, 2, 3, 4}, Width: 1, Height: 1}
	feed(t, s, &capture{}, img, frame.SpriteSequence{Images: []frame.Image{img, img}})

	if n := len(tr.Images()); n != 1 {
		t.Errorf("images = %d, want 1", n)
	}
	if sp := tr.Sprites(); len(sp) != 1 || len(sp[0]) != 2 {
		t.Errorf("sprites = %v", sp)
	}
}

func TestOutputTransport_Interruption(t *testing.T) {
	t.Parallel()

	tr := trmock.New()
	s := NewOutputTransport(tr, discard(), nil)
	out := &capture{}
	feed(t, s, out, frame.Start{AllowInterruptions: true}, speech(1))
	out.reset()

	// Unvoiced audio never interrupts.
	feed(t, s, out, frame.AudioIn{Voiced: false})
	if len(out.names()) != 0 {
		t.Fatalf("unvoiced audio produced %v", out.names())
	}

	feed(t, s, out, frame.AudioIn{Voiced: true, UserID: "p1"})
	if got := joined(out.names()); got != "^interruption,^bot_stopped_speaking" {
		t.Fatalf("frames = %s", got)
	}

	// Stale audio and a stale stop are dropped until the interrupted stop.
	out.reset()
	feed(t, s, out, speech(2), frame.SynthesisStopped{}, frame.SynthesisStopped{Interrupted: true}, speech(3))
	want := "synthesis_stopped,synthesis_stopped,^bot_started_speaking,synthesized_audio"
	if got := joined(out.names()); got != want {
		t.Errorf("frames = %s, want %s", got, want)
	}
	sent := tr.Audio()
	if len(sent) != 2 || sent[1].Data[0] != 3 {
		t.Errorf("sent audio = %v, want chunks 1 and 3", sent)
	}
}

func TestOutputTransport_InterruptionsDisabled(t *testing.T) {
	t.Parallel()

	s := NewOutputTransport(trmock.New(), discard(), nil)
	out := &capture{}
	feed(t, s, out, frame.Start{AllowInterruptions: false}, speech(1), frame.AudioIn{Voiced: true})
	if out.has("^interruption") {
		t.Errorf("interrupted with interruptions disabled: %v", out.names())
	}
}

func TestOutputTransport_SendError(t *testing.T) {
	t.Parallel()

	tr := trmock.New()
	tr.SendErr = errors.New("gone")
	s := NewOutputTransport(tr, discard(), nil)
	if err := s.Process(context.Background(), speech(1), frame.Downstream, &capture{}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestOutputTransport_ForwardsUpstream(t *testing.T) {
	t.Parallel()

	s := NewOutputTransport(trmock.New(), discard(), nil)
	out := &capture{}
	if err := s.Process(context.Background(), frame.Interruption{}, frame.Upstream, out); err != nil {
		t.Fatal(err)
	}
	if got := joined(out.names()); got != "^interruption" {
		t.Errorf("frames = %s", got)
	}
}
