package session

import (
	"testing"
	"time"
)

func setValidSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("STREAMX_AUTH_ACCESS_SECRET", "test-access-secret-0123456789abcdef")
	t.Setenv("STREAMX_AUTH_REFRESH_SECRET", "test-refresh-secret-0123456789abcdef")
}

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("STREAMX_AUTH_ACCESS_SECRET", "")
	t.Setenv("STREAMX_AUTH_REFRESH_SECRET", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_SharedSecretRejected(t *testing.T) {
	t.Setenv("STREAMX_AUTH_ACCESS_SECRET", "same-secret")
	t.Setenv("STREAMX_AUTH_REFRESH_SECRET", "same-secret")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for shared secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	setValidSecrets(t)
	t.Setenv("STREAMX_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidOTPDigits(t *testing.T) {
	setValidSecrets(t)
	t.Setenv("STREAMX_AUTH_OTP_DIGITS", "2")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for tiny otp, got %v", err)
	}
}

func TestLoadConfigFromEnv_RefreshMustOutliveAccess(t *testing.T) {
	setValidSecrets(t)
	t.Setenv("STREAMX_AUTH_ACCESS_TTL", "48h")
	t.Setenv("STREAMX_AUTH_REFRESH_TTL", "24h")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	setValidSecrets(t)
	t.Setenv("STREAMX_AUTH_ISSUER", "streamx-test")
	t.Setenv("STREAMX_AUTH_ACCESS_TTL", "10m")
	t.Setenv("STREAMX_AUTH_REFRESH_TTL", "720h")
	t.Setenv("STREAMX_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("STREAMX_AUTH_OTP_DIGITS", "6")
	t.Setenv("STREAMX_AUTH_OTP_TTL", "5m")
	t.Setenv("STREAMX_AUTH_OTP_RESEND_COOLDOWN", "45s")
	t.Setenv("STREAMX_AUTH_RESET_TOKEN_TTL", "30m")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "streamx-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 720*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if cfg.OTPDigits != 6 {
		t.Fatalf("otp digits mismatch: %d", cfg.OTPDigits)
	}
	if cfg.OTPTTL != 5*time.Minute {
		t.Fatalf("otp ttl mismatch: %v", cfg.OTPTTL)
	}
	if cfg.OTPResendCooldown != 45*time.Second {
		t.Fatalf("otp cooldown mismatch: %v", cfg.OTPResendCooldown)
	}
	if cfg.ResetTokenTTL != 30*time.Minute {
		t.Fatalf("reset ttl mismatch: %v", cfg.ResetTokenTTL)
	}
}
