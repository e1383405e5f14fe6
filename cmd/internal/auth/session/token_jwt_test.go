package session

import (
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = "access-secret-for-tests-0123456789"
	cfg.RefreshSecret = "refresh-secret-for-tests-0123456789"
	return cfg
}

func TestHS256_IssueAndVerifyAccess(t *testing.T) {
	t.Parallel()

	mgr, err := NewHS256Manager(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.IssueAccess("01HZZZZZZZZZZZZZZZZZZZZZZZ", "user@example.com", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.VerifyAccess(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" {
		t.Fatalf("userId mismatch: %q", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("email mismatch: %q", claims.Email)
	}
}

func TestHS256_AccessTokenExpires(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	mgr, err := NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := mgr.IssueAccess("u1", "u1@example.com", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	late := now.Add(cfg.AccessTokenTTL + cfg.ClockSkew + time.Minute)
	if _, err := mgr.VerifyAccess(tok, late); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestHS256_RefreshNotValidAsAccess(t *testing.T) {
	t.Parallel()

	mgr, err := NewHS256Manager(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	refresh, _, err := mgr.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	if _, err := mgr.VerifyAccess(refresh, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for refresh-as-access, got %v", err)
	}
}

func TestHS256_TamperedTokenRejected(t *testing.T) {
	t.Parallel()

	mgr, err := NewHS256Manager(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := mgr.IssueAccess("u1", "u1@example.com", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := mgr.VerifyAccess(tampered, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestHS256_RefreshJTIsUnique(t *testing.T) {
	t.Parallel()

	mgr, err := NewHS256Manager(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	// Same user, same instant: tokens must still differ so their stored
	// digests differ.
	now := time.Now().UTC()
	t1, _, err := mgr.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh 1: %v", err)
	}
	t2, _, err := mgr.IssueRefresh("u1", now)
	if err != nil {
		t.Fatalf("IssueRefresh 2: %v", err)
	}
	if t1 == t2 {
		t.Fatalf("expected distinct refresh tokens for same (user, time)")
	}
}

func TestNewHS256Manager_RejectsSharedSecret(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	if _, err := NewHS256Manager(cfg); err != ErrConfig {
		t.Fatalf("expected ErrConfig for shared secret, got %v", err)
	}
}
