// Package transport defines the boundary between a session pipeline and the
// real-time room it joins.
//
// A [Transport] delivers participant audio, transcriptions and presence
// changes as [Event] values and accepts the bot's audio and camera output.
// The pipeline's input and output stages are the only consumers; concrete
// adapters (see the wsroom subpackage) own the wire protocol.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/pkg/audio"
)

// ErrClosed is returned by operations on a transport that has left its room.
var ErrClosed = errors.New("transport: closed")

// EventKind identifies the payload of an [Event].
type EventKind int

const (
	// EventAudio carries a chunk of participant audio.
	EventAudio EventKind = iota

	// EventTranscription carries recognised participant speech.
	EventTranscription

	// EventParticipantJoined reports a remote participant entering the room.
	EventParticipantJoined

	// EventParticipantLeft reports a remote participant leaving the room.
	EventParticipantLeft
)

// String returns a readable name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscription:
		return "transcription"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	default:
		return "unknown"
	}
}

// Event is something that happened in the room.
type Event struct {
	Kind        EventKind
	Participant string

	// Audio is set for EventAudio.
	Audio audio.AudioFrame

	// Text, Final and Timestamp are set for EventTranscription.
	Text      string
	Final     bool
	Timestamp time.Time
}

// Params describes how the bot presents itself in the room.
type Params struct {
	// BotName is the display name of the bot participant.
	BotName string

	// CameraWidth and CameraHeight size the outgoing video track.
	CameraWidth  int
	CameraHeight int

	// AudioOut enables the outgoing audio track.
	AudioOut bool

	// Transcription asks the room to transcribe participants it is told to
	// capture.
	Transcription bool
}

// DefaultParams returns the presentation used by the worker.
func DefaultParams() Params {
	return Params{
		BotName:       "Voice Agent",
		CameraWidth:   1024,
		CameraHeight:  576,
		AudioOut:      true,
		Transcription: true,
	}
}

// Transport is a joined room connection.
//
// Implementations must be safe for concurrent use: the input stage reads
// Events while the output stage sends.
type Transport interface {
	// Join connects to the room with the issued token.
	Join(ctx context.Context, roomURL, token string) error

	// Events returns the channel of room events. It is closed when the
	// connection ends.
	Events() <-chan Event

	// SendAudio plays a chunk of bot speech.
	SendAudio(ctx context.Context, a audio.AudioFrame) error

	// SendImage shows a static camera frame.
	SendImage(ctx context.Context, img frame.Image) error

	// SendSprites loops a sequence of camera frames until the next image or
	// sequence is sent.
	SendSprites(ctx context.Context, images []frame.Image) error

	// CaptureTranscription starts transcribing participant.
	CaptureTranscription(ctx context.Context, participant string) error

	// Close leaves the room. It is safe to call more than once.
	Close() error
}
