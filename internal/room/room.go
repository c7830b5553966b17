// Package room defines the provisioning boundary the control plane uses to
// obtain an isolated meeting room and a credential for a worker to join it.
//
// The Daily REST implementation lives in the daily subpackage; a test double
// lives in mock.
package room

import (
	"context"
	"time"
)

// Room is a provisioned meeting room.
type Room struct {
	// Name is the provider's room identifier.
	Name string

	// URL is the address a participant joins.
	URL string

	// Expires is when the provider deletes the room. Zero means never.
	Expires time.Time
}

// Params tunes room creation.
type Params struct {
	// Name requests a specific room name. Empty lets the provider choose.
	Name string

	// TTL bounds the room's lifetime. Zero uses the provider default.
	TTL time.Duration
}

// Provisioner creates rooms and issues access tokens for them.
//
// Implementations must be safe for concurrent use.
type Provisioner interface {
	// CreateRoom provisions a new room.
	CreateRoom(ctx context.Context, p Params) (Room, error)

	// GetToken issues a credential scoped to r that expires after ttl.
	GetToken(ctx context.Context, r Room, ttl time.Duration) (string, error)
}
