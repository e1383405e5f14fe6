// Package token provides hashing primitives for opaque secrets in streamx.
//
// Refresh tokens, signup OTPs and password-reset tokens are never stored
// in clear; this package is the single source of truth for how their
// server-side digests are computed and compared.
//
// Design goals:
// - Default dev mode: SHA-256(secret) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(secret, key) when policy requires it.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - STREAMX_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
