// Package botconfig defines the per-session bot configuration that the control
// plane hands to a worker process, and its transport-safe encoding.
//
// The encoded form is base64 (standard alphabet) over a JSON object. A worker
// decodes it exactly once at startup; decoding is strict and never yields a
// partially populated value.
package botconfig

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// ErrInvalid is the sentinel wrapped by every decoding and validation failure.
var ErrInvalid = errors.New("botconfig: invalid configuration")

// Defaults applied to a start request before it is decoded.
const (
	DefaultSpeed       = "normal"
	DefaultSessionTime = 3600

	// MaxSessionTime caps session_time at one week, well inside the range
	// of [time.Duration] and of a room expiry timestamp.
	MaxSessionTime = 7 * 24 * 3600
)

// DefaultEmotion is the emotion list used when a request omits one.
var DefaultEmotion = []string{"positivity:high", "curiosity"}

// Speeds lists the accepted named speaking rates.
var Speeds = []string{"slowest", "slow", "normal", "fast", "fastest"}

// Config is the immutable configuration of one bot session.
type Config struct {
	// Speed is a named speaking rate, one of [Speeds].
	Speed string `json:"speed"`

	// Emotion holds TTS emotion controls such as "positivity:high".
	Emotion []string `json:"emotion"`

	// Prompt is the system prompt. Required.
	Prompt string `json:"prompt"`

	// VoiceID selects the TTS voice. Required.
	VoiceID string `json:"voice_id"`

	// SessionTime is the session lifetime in seconds. It bounds the room and
	// token expiry and the worker's own run time.
	SessionTime float64 `json:"session_time"`
}

// Default returns a Config with every optional field set. Prompt and VoiceID
// are left empty.
func Default() Config {
	return Config{
		Speed:       DefaultSpeed,
		Emotion:     slices.Clone(DefaultEmotion),
		SessionTime: DefaultSessionTime,
	}
}

// SessionDuration returns SessionTime as a [time.Duration].
func (c Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionTime * float64(time.Second))
}

// Validate reports every problem with c. All returned errors match
// [ErrInvalid].
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Prompt) == "" {
		errs = append(errs, fmt.Errorf("%w: prompt is required", ErrInvalid))
	}
	if strings.TrimSpace(c.VoiceID) == "" {
		errs = append(errs, fmt.Errorf("%w: voice_id is required", ErrInvalid))
	}
	if !slices.Contains(Speeds, c.Speed) {
		errs = append(errs, fmt.Errorf("%w: speed %q is not one of %s", ErrInvalid, c.Speed, strings.Join(Speeds, ", ")))
	}
	for i, e := range c.Emotion {
		if strings.TrimSpace(e) == "" {
			errs = append(errs, fmt.Errorf("%w: emotion[%d] is empty", ErrInvalid, i))
		}
	}
	switch {
	case !(c.SessionTime > 0):
		errs = append(errs, fmt.Errorf("%w: session_time must be positive, got %v", ErrInvalid, c.SessionTime))
	case c.SessionTime > MaxSessionTime:
		errs = append(errs, fmt.Errorf("%w: session_time %v exceeds the maximum of %d seconds", ErrInvalid, c.SessionTime, MaxSessionTime))
	}
	return errors.Join(errs...)
}

// Encode validates c and returns its base64 JSON form.
func Encode(c Config) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("botconfig: marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode parses a payload produced by [Encode]. Unknown fields, trailing data
// and invalid values are rejected. On failure the zero Config is returned.
func Decode(payload string) (Config, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Config{}, fmt.Errorf("%w: base64: %v", ErrInvalid, err)
	}
	var c Config
	if err := decodeJSON(bytes.NewReader(raw), &c, true); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// DecodeJSON decodes a single JSON object from r into c, as sent by API
// clients. Unknown fields are ignored. Fields absent from the input keep
// their current values in c, which lets callers start from [Default].
func DecodeJSON(r io.Reader, c *Config) error {
	return decodeJSON(r, c, false)
}

// decodeJSON leaves c untouched on failure. strict rejects unknown fields.
func decodeJSON(r io.Reader, c *Config, strict bool) error {
	dec := json.NewDecoder(r)
	if strict {
		dec.DisallowUnknownFields()
	}
	tmp := *c
	tmp.Emotion = slices.Clone(c.Emotion)
	if err := dec.Decode(&tmp); err != nil {
		return fmt.Errorf("%w: json: %v", ErrInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: json: trailing data", ErrInvalid)
	}
	*c = tmp
	return nil
}
