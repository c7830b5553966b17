package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/pipeline"
	"github.com/MrWong99/talkinghead/internal/transport"
	"github.com/MrWong99/talkinghead/pkg/provider/vad"
)

// InputConfig configures an [InputTransport].
type InputConfig struct {
	// VAD classifies participant audio. Nil leaves every AudioIn unvoiced,
	// which disables barge-in detection.
	VAD vad.Engine

	// VADConfig is passed to VAD.NewSession.
	VADConfig vad.Config

	// OnFirstParticipant runs once, on the producer goroutine, when the
	// first remote participant joins.
	OnFirstParticipant func(ctx context.Context, participant string)

	Logger *slog.Logger
}

// InputTransport is the head of the pipeline. It produces frames from room
// events and marks voiced audio.
type InputTransport struct {
	tr     transport.Transport
	cfg    InputConfig
	logger *slog.Logger

	// owned by the Process goroutine
	session  vad.SessionHandle
	speaking bool
}

// NewInputTransport creates the input stage for tr.
func NewInputTransport(tr transport.Transport, cfg InputConfig) *InputTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InputTransport{tr: tr, cfg: cfg, logger: logger}
}

// Name implements pipeline.Processor.
func (s *InputTransport) Name() string { return "input_transport" }

// Produce implements pipeline.Source. A participant leaving or the room
// connection closing ends the session.
func (s *InputTransport) Produce(ctx context.Context, emit func(frame.Frame)) error {
	joined := false
	events := s.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("room connection closed")
				emit(frame.End{})
				return nil
			}
			switch ev.Kind {
			case transport.EventAudio:
				emit(frame.AudioIn{Audio: ev.Audio, UserID: ev.Participant})
			case transport.EventTranscription:
				emit(frame.Transcription{Text: ev.Text, UserID: ev.Participant, Final: ev.Final, Timestamp: ev.Timestamp})
			case transport.EventParticipantJoined:
				s.logger.Info("participant joined", "participant", ev.Participant)
				if !joined {
					joined = true
					if s.cfg.OnFirstParticipant != nil {
						s.cfg.OnFirstParticipant(ctx, ev.Participant)
					}
				}
			case transport.EventParticipantLeft:
				s.logger.Info("participant left", "participant", ev.Participant)
				emit(frame.End{})
				return nil
			}
		}
	}
}

// Process implements pipeline.Processor.
func (s *InputTransport) Process(_ context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	switch f := f.(type) {
	case frame.Start:
		if s.cfg.VAD != nil && s.session == nil {
			sess, err := s.cfg.VAD.NewSession(s.cfg.VADConfig)
			if err != nil {
				return fmt.Errorf("input: create vad session: %w", err)
			}
			s.session = sess
		}
	case frame.AudioIn:
		if dir == frame.Downstream && s.session != nil {
			s.classify(f, out)
			return nil
		}
	}
	out.Push(f, dir)
	return nil
}

func (s *InputTransport) classify(f frame.AudioIn, out pipeline.Pusher) {
	ev, err := s.session.ProcessFrame(f.Audio.Data)
	if err != nil {
		s.logger.Warn("vad failed, forwarding audio unclassified", "err", err)
		out.Push(f, frame.Downstream)
		return
	}
	f.Voiced = ev.Voiced()
	switch {
	case ev.Type == vad.SpeechStart && !s.speaking:
		s.speaking = true
		out.Push(frame.UserStartedSpeaking{}, frame.Downstream)
		out.Push(f, frame.Downstream)
	case ev.Type == vad.SpeechEnd && s.speaking:
		s.speaking = false
		out.Push(f, frame.Downstream)
		out.Push(frame.UserStoppedSpeaking{}, frame.Downstream)
	default:
		out.Push(f, frame.Downstream)
	}
}

// Close releases the VAD session.
func (s *InputTransport) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}

var (
	_ pipeline.Source = (*InputTransport)(nil)
	_ pipeline.Closer = (*InputTransport)(nil)
)
