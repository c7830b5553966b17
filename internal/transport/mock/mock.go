// Package mock provides a test double for the transport.Transport interface.
//
// Tests feed room events with Emit and inspect what the pipeline sent via the
// recorded slices:
//
//	tr := mock.New()
//	tr.Emit(transport.Event{Kind: transport.EventParticipantJoined, Participant: "p1"})
//	...
//	audio := tr.Audio()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/transport"
	"github.com/MrWong99/talkinghead/pkg/audio"
)

// Transport is a mock implementation of transport.Transport.
type Transport struct {
	// JoinErr, if non-nil, is returned from Join.
	JoinErr error

	// SendErr, if non-nil, is returned from every Send method.
	SendErr error

	events chan transport.Event

	mu        sync.Mutex
	closed    bool
	joined    []string
	audio     []audio.AudioFrame
	images    []frame.Image
	sprites   [][]frame.Image
	captured  []string
	closeCall int
}

// New returns a Transport with a buffered event channel.
func New() *Transport {
	return &Transport{events: make(chan transport.Event, 256)}
}

// Emit delivers ev on the Events channel. It is a no-op after Close.
func (t *Transport) Emit(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events <- ev
}

// Join records the room URL.
func (t *Transport) Join(_ context.Context, roomURL, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.JoinErr != nil {
		return t.JoinErr
	}
	t.joined = append(t.joined, roomURL)
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.events }

// SendAudio records a.
func (t *Transport) SendAudio(_ context.Context, a audio.AudioFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.audio = append(t.audio, a)
	return nil
}

// SendImage records img.
func (t *Transport) SendImage(_ context.Context, img frame.Image) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.images = append(t.images, img)
	return nil
}

// SendSprites records images.
func (t *Transport) SendSprites(_ context.Context, images []frame.Image) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.sprites = append(t.sprites, images)
	return nil
}

// CaptureTranscription records participant.
func (t *Transport) CaptureTranscription(_ context.Context, participant string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captured = append(t.captured, participant)
	return nil
}

// Close closes the event channel once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCall++
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

// Joined returns the room URLs passed to Join.
func (t *Transport) Joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.joined...)
}

// Audio returns every frame passed to SendAudio.
func (t *Transport) Audio() []audio.AudioFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]audio.AudioFrame(nil), t.audio...)
}

// Images returns every image passed to SendImage.
func (t *Transport) Images() []frame.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frame.Image(nil), t.images...)
}

// Sprites returns every sequence passed to SendSprites.
func (t *Transport) Sprites() [][]frame.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]frame.Image(nil), t.sprites...)
}

// Captured returns the participants passed to CaptureTranscription.
func (t *Transport) Captured() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.captured...)
}

// CloseCalls returns how often Close was called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCall
}

var _ transport.Transport = (*Transport)(nil)
