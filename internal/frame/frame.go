// Package frame defines the units of data that flow through a pipeline.
//
// Frame is a closed sum type: only this package declares variants, so a type
// switch over the variants listed here is exhaustive. Frames are immutable
// once pushed; stages must copy a payload before changing it.
package frame

import (
	"time"

	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
)

// Direction is the way a frame travels through the pipeline.
type Direction int

const (
	// Downstream flows from the input transport toward the output transport.
	Downstream Direction = iota

	// Upstream flows back toward the input transport.
	Upstream
)

// String returns "downstream" or "upstream".
func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Frame is any value that can travel through a pipeline.
type Frame interface {
	frame()
}

type sealed struct{}

func (sealed) frame() {}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Start is the first frame every stage sees.
type Start struct {
	sealed
	AllowInterruptions bool
}

// End finishes the session once it leaves the last stage.
type End struct{ sealed }

// Error reports a stage failure. A fatal error leaving the first stage
// terminates the run.
type Error struct {
	sealed
	Err   error
	Fatal bool
}

// ─── Input ────────────────────────────────────────────────────────────────────

// AudioIn is a chunk of audio captured from a remote participant.
type AudioIn struct {
	sealed
	Audio  audio.AudioFrame
	UserID string

	// Voiced is set when voice activity detection classified the chunk as
	// speech.
	Voiced bool
}

// UserStartedSpeaking marks the start of a voiced segment.
type UserStartedSpeaking struct{ sealed }

// UserStoppedSpeaking marks the end of a voiced segment.
type UserStoppedSpeaking struct{ sealed }

// Transcription is recognised participant speech.
type Transcription struct {
	sealed
	Text      string
	UserID    string
	Final     bool
	Timestamp time.Time
}

// ─── Language model ───────────────────────────────────────────────────────────

// LLMContextUpdate carries the full message list the language model stage
// should answer.
type LLMContextUpdate struct {
	sealed
	Messages []llm.Message
}

// LLMResponseStart opens a streamed model response.
type LLMResponseStart struct{ sealed }

// LLMText is a fragment of streamed model output.
type LLMText struct {
	sealed
	Text string
}

// LLMResponseEnd closes a model response that completed without interruption.
type LLMResponseEnd struct{ sealed }

// ─── Speech output ────────────────────────────────────────────────────────────

// SynthesisStarted precedes the first audio of a synthesised response.
type SynthesisStarted struct{ sealed }

// SynthesizedAudio is speech produced by the synthesis stage.
type SynthesizedAudio struct {
	sealed
	Audio audio.AudioFrame
}

// SynthesisStopped follows the last audio of a response. Interrupted is set
// on the single SynthesisStopped the synthesis stage sends in answer to an
// [Interruption]; audio queued ahead of it is stale.
type SynthesisStopped struct {
	sealed
	Interrupted bool
}

// BotStartedSpeaking travels upstream when output audio begins.
type BotStartedSpeaking struct{ sealed }

// BotStoppedSpeaking travels upstream when output audio ends.
type BotStoppedSpeaking struct{ sealed }

// Interruption travels upstream when a participant barges in. Stages with
// in-flight generation abandon it.
type Interruption struct{ sealed }

// ─── Video ────────────────────────────────────────────────────────────────────

// Image is a single raw video frame.
type Image struct {
	sealed
	// Pixels holds Width*Height RGBA samples.
	Pixels []byte
	Width  int
	Height int
	Format string
}

// SpriteSequence is an animation played in a loop by the output transport.
type SpriteSequence struct {
	sealed
	Images []Image
}

// Name returns a short, stable name for f's variant, used for logging and
// metric labels.
func Name(f Frame) string {
	switch f.(type) {
	case Start:
		return "start"
	case End:
		return "end"
	case Error:
		return "error"
	case AudioIn:
		return "audio_in"
	case UserStartedSpeaking:
		return "user_started_speaking"
	case UserStoppedSpeaking:
		return "user_stopped_speaking"
	case Transcription:
		return "transcription"
	case LLMContextUpdate:
		return "llm_context_update"
	case LLMResponseStart:
		return "llm_response_start"
	case LLMText:
		return "llm_text"
	case LLMResponseEnd:
		return "llm_response_end"
	case SynthesisStarted:
		return "synthesis_started"
	case SynthesizedAudio:
		return "synthesized_audio"
	case SynthesisStopped:
		return "synthesis_stopped"
	case BotStartedSpeaking:
		return "bot_started_speaking"
	case BotStoppedSpeaking:
		return "bot_stopped_speaking"
	case Interruption:
		return "interruption"
	case Image:
		return "image"
	case SpriteSequence:
		return "sprite_sequence"
	default:
		return "unknown"
	}
}
