// Package identity implements streamx's credential store.
//
// It owns user accounts (password and Google-backed), pending signups
// awaiting OTP verification, and password-reset tokens. Device sessions
// live in cmd/internal/auth/session; this package never stores refresh
// tokens.
//
// This package is intentionally dependency-light and security-first.
package identity
