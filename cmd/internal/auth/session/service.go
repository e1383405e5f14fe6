package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"streamx/cmd/security/token"
)

// Service implements the high-level session operations for streamx.
//
// It issues token pairs bound to a device session row, validates access
// tokens, performs refresh rotation with single-use enforcement, and
// supports per-device and per-user revocation. Credential flows (login,
// signup, password reset) live one layer up, in the HTTP API.
type Service struct {
	cfg    Config
	tokens TokenManager
	store  Store
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service with the provided configuration, store, and token manager.
func NewService(cfg Config, store Store, tokens TokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

// IssueSession mints a fresh token pair and upserts the device's session
// row with the new refresh hash. A device that signs in again replaces
// its previous session instead of growing a second one.
//
// Refresh tokens are never persisted in plaintext; only the 64-char hex
// digest is stored.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID, email string, dev Device) (Issued, error) {
	accessToken, accessExp, err := s.tokens.IssueAccess(userID, email, now)
	if err != nil {
		return Issued{}, err
	}

	refreshToken, refreshExp, err := s.tokens.IssueRefresh(userID, now)
	if err != nil {
		return Issued{}, err
	}

	if err := s.store.Upsert(ctx, now, userID, dev, token.HashSecretHex(refreshToken)); err != nil {
		return Issued{}, err
	}

	return Issued{
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshToken,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyAccessToken checks signature, expiry and issuer of an access token.
// It does not consult the store; pair it with CheckDevice to honor
// revocations.
func (s *Service) VerifyAccessToken(accessToken string, now time.Time) (AccessClaims, error) {
	return s.tokens.VerifyAccess(accessToken, now)
}

// CheckDevice is the server-authoritative half of request authentication:
// a valid token is worthless once the device's session row is gone.
// A found row gets a best-effort last-active bump.
func (s *Service) CheckDevice(ctx context.Context, now time.Time, userID, deviceID string) error {
	if _, err := s.store.Get(ctx, userID, deviceID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionRevoked
		}
		return err
	}
	_ = s.store.Touch(ctx, now, userID, deviceID)
	return nil
}

// RotateRefresh performs single-use refresh rotation.
//
// Security model:
//   - The caller has already verified the refresh JWT (VerifyRefreshToken)
//     and resolved the account.
//   - Both tokens are reissued; the store swap is one conditional UPDATE
//     scoped to (user, device) and the old digest.
//   - A zero-row swap means the presented token already rotated, the
//     device was logged out, or a concurrent refresh won. All of them
//     surface as ErrSessionRevoked; the client must sign in again.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, userID, email, deviceID, refreshTokenPlain string) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrSessionRevoked
	}

	oldHash := token.HashSecretHex(refreshTokenPlain)

	accessToken, accessExp, err := s.tokens.IssueAccess(userID, email, now)
	if err != nil {
		return Issued{}, err
	}
	newRefresh, refreshExp, err := s.tokens.IssueRefresh(userID, now)
	if err != nil {
		return Issued{}, err
	}

	if err := s.store.Rotate(ctx, now, userID, deviceID, oldHash, token.HashSecretHex(newRefresh)); err != nil {
		return Issued{}, err
	}

	return Issued{
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newRefresh,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyRefreshToken checks signature, expiry and issuer of a refresh token.
func (s *Service) VerifyRefreshToken(refreshToken string, now time.Time) (RefreshClaims, error) {
	return s.tokens.VerifyRefresh(refreshToken, now)
}

// Logout removes the device's session row. Returns ErrSessionNotFound
// when the user has no session for that device, so remote logout of a
// never-seen device can be reported as such.
func (s *Service) Logout(ctx context.Context, userID, deviceID string) error {
	return s.store.Delete(ctx, userID, deviceID)
}

// LogoutCurrent tears down the session holding the presented refresh
// token. The token is only hashed, never verified, so an expired or
// malformed token still removes its row when one exists. A missing
// match is not an error; the caller reports success either way.
func (s *Service) LogoutCurrent(ctx context.Context, refreshTokenPlain string) (userID, deviceID string, err error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return "", "", nil
	}
	return s.store.DeleteByHash(ctx, token.HashSecretHex(refreshTokenPlain))
}

// LogoutAll removes every session row of the user (password reset,
// account deletion, "sign out everywhere").
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.store.DeleteAll(ctx, userID)
}

// ListDevices returns the user's device sessions, most recently active first.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]Row, error) {
	return s.store.List(ctx, userID)
}
