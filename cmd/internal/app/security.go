package app

import (
	"errors"

	"streamx/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast: silently falling back to weaker crypto in production is
// not acceptable, so HMAC enforcement is validated against the same
// module that performs the hashing.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: STREAMX_REQUIRE_TOKEN_HMAC=true but STREAMX_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: STREAMX_REQUIRE_TOKEN_HMAC=true but STREAMX_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: STREAMX_REQUIRE_TOKEN_HMAC=true but the secret hasher is not in HMAC mode")
	}

	return nil
}
