package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/pipeline"
	"github.com/MrWong99/talkinghead/internal/transport"
)

// OutputTransport plays synthesized audio and camera frames into the room
// and detects barge-in.
//
// The bot counts as speaking from the first audio it plays until the
// matching SynthesisStopped. Voiced participant audio during that time, with
// interruptions allowed, pushes an [frame.Interruption] upstream; audio is
// then dropped until the synthesis stage confirms with a SynthesisStopped
// marked Interrupted.
type OutputTransport struct {
	tr      transport.Transport
	logger  *slog.Logger
	metrics *observe.Metrics

	allowInterruptions bool
	speaking           bool
	dropping           bool
}

// NewOutputTransport creates the output stage for tr. Nil logger or metrics
// select the defaults.
func NewOutputTransport(tr transport.Transport, logger *slog.Logger, metrics *observe.Metrics) *OutputTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &OutputTransport{tr: tr, logger: logger, metrics: metrics}
}

// Name implements pipeline.Processor.
func (s *OutputTransport) Name() string { return "output_transport" }

// Process implements pipeline.Processor.
func (s *OutputTransport) Process(ctx context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	if dir == frame.Upstream {
		out.Push(f, dir)
		return nil
	}

	switch f := f.(type) {
	case frame.Start:
		s.allowInterruptions = f.AllowInterruptions
	case frame.SynthesizedAudio:
		if s.dropping {
			return nil
		}
		if !s.speaking {
			s.speaking = true
			out.Push(frame.BotStartedSpeaking{}, frame.Upstream)
		}
		if err := s.tr.SendAudio(ctx, f.Audio); err != nil {
			return fmt.Errorf("output: send audio: %w", err)
		}
	case frame.SynthesisStopped:
		if f.Interrupted {
			s.dropping = false
		} else if s.dropping {
			break
		}
		s.stopSpeaking(out)
	case frame.Image:
		if err := s.tr.SendImage(ctx, f); err != nil {
			return fmt.Errorf("output: send image: %w", err)
		}
	case frame.SpriteSequence:
		if err := s.tr.SendSprites(ctx, f.Images); err != nil {
			return fmt.Errorf("output: send sprites: %w", err)
		}
	case frame.AudioIn:
		if f.Voiced && s.speaking && s.allowInterruptions {
			s.logger.Info("participant interrupted the bot", "participant", f.UserID)
			s.metrics.RecordInterruption(ctx)
			s.dropping = true
			out.Push(frame.Interruption{}, frame.Upstream)
			s.stopSpeaking(out)
		}
		// Participant audio ends here.
		return nil
	}
	out.Push(f, dir)
	return nil
}

func (s *OutputTransport) stopSpeaking(out pipeline.Pusher) {
	if s.speaking {
		s.speaking = false
		out.Push(frame.BotStoppedSpeaking{}, frame.Upstream)
	}
}
