package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"streamx/cmd/security/token"
)

// Secret hashing:
// - identity delegates digest computation to cmd/security/token as the
//   single source of truth. Output is always a 64-char hex string.
// - Prod deployments should set STREAMX_TOKEN_HMAC_KEY to a long random
//   secret (>= 32 bytes).

// NewOpaqueToken returns a cryptographically random token suitable for
// password-reset links. It is URL-safe (base64url) and SHOULD be stored
// only on the client. The server stores only a hash (see HashSecretHex).
func NewOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewOTP returns a random numeric one-time password of the given length.
// Leading zeros are preserved.
func NewOTP(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// HashSecretHex returns the server-stored digest for OTPs, reset tokens
// and refresh tokens. HMAC-SHA256 when STREAMX_TOKEN_HMAC_KEY is set,
// SHA-256 otherwise.
func HashSecretHex(secret string) string { return token.HashSecretHex(secret) }

// SecretHashEqual compares two secret digests in constant time.
func SecretHashEqual(a, b string) bool { return token.EqualHex(a, b) }
