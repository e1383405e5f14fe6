package session

import (
	"context"
	"net"
	"time"
)

// Device describes the client device presenting a session.
// DeviceID is a client-generated stable identifier (UUID) sent on every
// request via the X-Device-Id header.
type Device struct {
	DeviceID string
	Name     string
	OS       string
	Browser  string
	Location string
	IP       net.IP
}

// Row mirrors the streamx.sessions row. The table is keyed
// (user_id, device_id): one live session per device, at most.
type Row struct {
	UserID           string
	DeviceID         string
	DeviceName       string
	OS               string
	Browser          string
	Location         string
	IP               *net.IP
	RefreshTokenHash string
	SignedInAt       time.Time
	LastActiveAt     time.Time
}

// Store abstracts persistence for device session state.
//
// Implementations must make Rotate a single atomic compare-and-swap on
// the stored refresh hash; concurrent refreshes for one device must
// produce exactly one winner.
type Store interface {
	// Upsert creates the session row for (userID, dev.DeviceID) or, when
	// the device signed in before, replaces its refresh hash and metadata
	// in place. A repeated login never yields a second row.
	Upsert(ctx context.Context, now time.Time, userID string, dev Device, refreshHash string) error

	// Get loads the session row for a (user, device) pair.
	Get(ctx context.Context, userID, deviceID string) (Row, error)

	// Rotate swaps oldHash for newHash on the device's row, but only when
	// oldHash is still the live digest. Returns ErrSessionRevoked when the
	// row is gone or the digest already moved on (replay or lost race).
	Rotate(ctx context.Context, now time.Time, userID, deviceID, oldHash, newHash string) error

	// List returns all of a user's device sessions, most recently active first.
	List(ctx context.Context, userID string) ([]Row, error)

	// Touch bumps last_active_at (best effort).
	Touch(ctx context.Context, now time.Time, userID, deviceID string) error

	// Delete removes the device's session row. Returns ErrSessionNotFound
	// when no row existed for the pair.
	Delete(ctx context.Context, userID, deviceID string) error

	// DeleteByHash removes the session row holding refreshHash, if any,
	// and returns its (userID, deviceID). Zero values mean nothing
	// matched; that is not an error.
	DeleteByHash(ctx context.Context, refreshHash string) (userID, deviceID string, err error)

	// DeleteAll removes every session row of the user (idempotent).
	DeleteAll(ctx context.Context, userID string) error
}
