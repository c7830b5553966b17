package stage

import (
	"context"

	"github.com/MrWong99/talkinghead/internal/avatar"
	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/pipeline"
)

// Animation switches the camera between the quiet image and the talking
// loop. It starts quiet; the first synthesized audio of a reply starts the
// loop and the end of synthesis shows the quiet image again.
type Animation struct {
	assets  avatar.Assets
	talking bool
}

// NewAnimation creates the animation stage. assets must pass
// [avatar.Assets.Validate].
func NewAnimation(assets avatar.Assets) *Animation {
	return &Animation{assets: assets}
}

// Name implements pipeline.Processor.
func (s *Animation) Name() string { return "animation" }

// Talking reports the current state. It must only be called while the stage
// is not running.
func (s *Animation) Talking() bool { return s.talking }

// Process implements pipeline.Processor.
func (s *Animation) Process(_ context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	switch f.(type) {
	case frame.SynthesizedAudio:
		if !s.talking {
			s.talking = true
			out.Push(s.assets.Talking(), frame.Downstream)
		}
	case frame.SynthesisStopped:
		if s.talking {
			s.talking = false
			out.Push(s.assets.Quiet(), frame.Downstream)
		}
	}
	out.Push(f, dir)
	return nil
}
