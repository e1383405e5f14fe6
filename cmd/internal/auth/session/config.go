package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, OTP policy, and the
// HS256 signing secrets for access and refresh tokens.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of access JWTs.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defines the lifetime of refresh JWTs.
	RefreshTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// OTP policy for email signup verification.
	OTPDigits         int
	OTPTTL            time.Duration
	OTPResendCooldown time.Duration

	// ResetTokenTTL defines the lifetime of password-reset tokens.
	ResetTokenTTL time.Duration

	// AccessSecret and RefreshSecret are the HS256 signing keys.
	// They must differ so an access token can never pass as a refresh token.
	AccessSecret  string
	RefreshSecret string
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "streamx",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		OTPDigits:         6,
		OTPTTL:            10 * time.Minute,
		OTPResendCooldown: 30 * time.Second,
		ResetTokenTTL:     15 * time.Minute,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - STREAMX_AUTH_ACCESS_SECRET
//   - STREAMX_AUTH_REFRESH_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - STREAMX_AUTH_ISSUER
//   - STREAMX_AUTH_ACCESS_TTL
//   - STREAMX_AUTH_REFRESH_TTL
//   - STREAMX_AUTH_CLOCK_SKEW
//   - STREAMX_AUTH_OTP_DIGITS
//   - STREAMX_AUTH_OTP_TTL
//   - STREAMX_AUTH_OTP_RESEND_COOLDOWN
//   - STREAMX_AUTH_RESET_TOKEN_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("STREAMX_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("STREAMX_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("STREAMX_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("STREAMX_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("STREAMX_AUTH_OTP_DIGITS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 || n > 10 {
			return Config{}, ErrConfig
		}
		cfg.OTPDigits = n
	}

	if v := os.Getenv("STREAMX_AUTH_OTP_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.OTPTTL = d
	}

	if v := os.Getenv("STREAMX_AUTH_OTP_RESEND_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.OTPResendCooldown = d
	}

	if v := os.Getenv("STREAMX_AUTH_RESET_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ResetTokenTTL = d
	}

	cfg.AccessSecret = os.Getenv("STREAMX_AUTH_ACCESS_SECRET")
	cfg.RefreshSecret = os.Getenv("STREAMX_AUTH_REFRESH_SECRET")
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, ErrConfig
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return Config{}, ErrConfig
	}

	// Invariants: the refresh window must outlive a single access token.
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
