// Package session implements streamx's multi-device session model.
//
// Each (user, device) pair owns at most one session row carrying device
// metadata and the hash of the device's current refresh token. Refresh
// tokens are single-use: every refresh atomically swaps the stored hash,
// so a replayed or raced token loses and the device is treated as
// revoked.
//
// Access tokens are short-lived HS256 JWTs; refresh tokens are
// long-lived HS256 JWTs whose digests are stored per device
// (HMAC-SHA256 when STREAMX_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev).
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
