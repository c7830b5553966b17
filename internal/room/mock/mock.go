// Package mock provides a test double for the room.Provisioner interface.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/talkinghead/internal/room"
)

// TokenCall records a single GetToken invocation.
type TokenCall struct {
	Room room.Room
	TTL  time.Duration
}

// Provisioner is a mock implementation of room.Provisioner. Rooms are named
// room-1, room-2, ... unless FixedRoom is set.
type Provisioner struct {
	mu sync.Mutex

	// FixedRoom, if non-zero, is returned by every CreateRoom call.
	FixedRoom room.Room

	// CreateErr, if non-nil, is returned by CreateRoom.
	CreateErr error

	// TokenErr, if non-nil, is returned by GetToken.
	TokenErr error

	// Token is returned by GetToken. Empty means "token-<room name>".
	Token string

	created []room.Params
	tokens  []TokenCall
}

// CreateRoom records the call and returns a fresh or fixed room.
func (p *Provisioner) CreateRoom(_ context.Context, params room.Params) (room.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, params)
	if p.CreateErr != nil {
		return room.Room{}, p.CreateErr
	}
	if p.FixedRoom != (room.Room{}) {
		return p.FixedRoom, nil
	}
	name := fmt.Sprintf("room-%d", len(p.created))
	return room.Room{Name: name, URL: "https://example.daily.co/" + name}, nil
}

// GetToken records the call and returns the configured token.
func (p *Provisioner) GetToken(_ context.Context, r room.Room, ttl time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, TokenCall{Room: r, TTL: ttl})
	if p.TokenErr != nil {
		return "", p.TokenErr
	}
	if p.Token != "" {
		return p.Token, nil
	}
	return "token-" + r.Name, nil
}

// CreateCalls returns the params of every CreateRoom call.
func (p *Provisioner) CreateCalls() []room.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]room.Params, len(p.created))
	copy(out, p.created)
	return out
}

// TokenCalls returns every GetToken call.
func (p *Provisioner) TokenCalls() []TokenCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TokenCall, len(p.tokens))
	copy(out, p.tokens)
	return out
}

var _ room.Provisioner = (*Provisioner)(nil)
