// Package energy implements a VAD engine that classifies frames by their RMS
// level. It needs no model files and accepts frames of any length, which
// suits rooms that deliver irregular packet sizes.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/provider/vad"
)

// DefaultGain scales RMS into a probability. Conversational speech picked up
// by a headset sits around 0.05 RMS, which maps to 0.6.
const DefaultGain = 12.0

// Engine creates energy-based sessions.
type Engine struct {
	gain float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithGain sets the RMS multiplier used to derive the speech probability.
func WithGain(g float64) Option {
	return func(e *Engine) {
		e.gain = g
	}
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{gain: DefaultGain}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return &session{cfg: cfg, gain: e.gain}, nil
}

type session struct {
	mu      sync.Mutex
	cfg     vad.Config
	gain    float64
	active  bool
	silence int // consecutive silent samples while active
	closed  bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, vad.ErrClosed
	}
	p := math.Min(1, audio.RMS(frame)*s.gain)
	ev := vad.Event{Probability: p}

	switch {
	case !s.active && p >= s.cfg.SpeechThreshold && p > 0:
		s.active = true
		s.silence = 0
		ev.Type = vad.SpeechStart
	case !s.active:
		ev.Type = vad.Silence
	case p >= s.cfg.SilenceThreshold:
		s.silence = 0
		ev.Type = vad.SpeechContinue
	default:
		s.silence += len(frame) / 2
		if s.silence*1000 >= s.cfg.HangoverMs*s.cfg.SampleRate {
			s.active = false
			s.silence = 0
			ev.Type = vad.SpeechEnd
		} else {
			ev.Type = vad.SpeechContinue
		}
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.silence = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
