package vad

// Event is the detection result for a single audio frame.
type Event struct {
	Type EventType

	// Probability is the speech probability score in [0.0, 1.0].
	Probability float64
}

// EventType enumerates detection states.
type EventType int

const (
	// Silence means no speech is active.
	Silence EventType = iota

	// SpeechStart marks the first frame of a speech segment.
	SpeechStart

	// SpeechContinue marks a frame inside an active segment.
	SpeechContinue

	// SpeechEnd marks the frame that closed a segment.
	SpeechEnd
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Voiced reports whether the frame belongs to a speech segment.
func (e Event) Voiced() bool {
	return e.Type == SpeechStart || e.Type == SpeechContinue
}
