package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims is the identity envelope propagated across HTTP/WS.
type AccessClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims carries only the user id; device binding lives in the
// session row, not in the token.
type RefreshClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies the access/refresh token pair.
type TokenManager interface {
	IssueAccess(userID, email string, now time.Time) (token string, exp time.Time, err error)
	IssueRefresh(userID string, now time.Time) (token string, exp time.Time, err error)
	VerifyAccess(token string, now time.Time) (AccessClaims, error)
	VerifyRefresh(token string, now time.Time) (RefreshClaims, error)
}

type hs256Manager struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clockSkew  time.Duration

	accessKey  []byte
	refreshKey []byte
}

// NewHS256Manager builds a TokenManager over HMAC-SHA256 JWTs.
//
// Access and refresh tokens are signed with distinct secrets so neither
// kind can be replayed as the other. Clock skew is tolerated during
// verification via jwt.WithLeeway.
func NewHS256Manager(cfg Config) (TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" || cfg.AccessSecret == cfg.RefreshSecret {
		return nil, ErrConfig
	}
	return &hs256Manager{
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		clockSkew:  cfg.ClockSkew,
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
	}, nil
}

func (m *hs256Manager) IssueAccess(userID, email string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.accessTTL)

	claims := AccessClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *hs256Manager) IssueRefresh(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.refreshTTL)

	claims := RefreshClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// A fresh jti per issue keeps every rotation's digest unique
			// even within the same second.
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *hs256Manager) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	var claims AccessClaims
	if err := m.verify(token, now, &claims, m.accessKey); err != nil {
		return AccessClaims{}, err
	}
	if claims.UserID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (m *hs256Manager) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.verify(token, now, &claims, m.refreshKey); err != nil {
		return RefreshClaims{}, err
	}
	if claims.UserID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (m *hs256Manager) verify(token string, now time.Time, claims jwt.Claims, key []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
