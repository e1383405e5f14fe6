package session

import "errors"

var (
	// ErrInvalidToken is returned when a token fails signature or expiry validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when no session exists for a (user, device) pair.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRevoked is returned when a device's session is gone or its
	// refresh hash no longer matches the presented token. A rotated token
	// presented again lands here too.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
