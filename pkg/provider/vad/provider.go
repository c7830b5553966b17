// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine surfaces a frame-level speech detector as a stateful, per-stream
// session. Each session keeps its own smoothing history so several audio
// streams can be processed independently.
//
// ProcessFrame is synchronous and returns immediately, which lets the input
// stage of a pipeline classify audio inline.
//
// Engines must be safe for concurrent use. A single SessionHandle must not be
// shared across goroutines.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the nominal frame duration in milliseconds. Engines with
	// fixed-size models reject other sizes.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame counts as
	// speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts as
	// silence. Must be <= SpeechThreshold.
	SilenceThreshold float64

	// HangoverMs is how long the probability must stay below
	// SilenceThreshold before an active segment ends. Zero ends it on the
	// first silent frame.
	HangoverMs int
}

// Validate reports whether the thresholds and rates are usable.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, errors.New("vad: speech threshold must be within [0, 1]"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must be within [0, speech threshold]"))
	}
	if c.HangoverMs < 0 {
		errs = append(errs, errors.New("vad: hangover must not be negative"))
	}
	return errors.Join(errs...)
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian 16-bit mono PCM.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. It fails if
	// the configuration is invalid for this engine.
	NewSession(cfg Config) (SessionHandle, error)
}
