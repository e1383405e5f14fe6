package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require STREAMX_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	s := mustNewIdentityStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := s.CreateUser(ctx, CreateUserInput{
		Email:        "User@Example.com",
		Name:         "User One",
		PasswordHash: testPasswordHash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	// Same email (case-insensitive) should conflict.
	_, err = s.CreateUser(ctx, CreateUserInput{
		Email:        "user@example.COM",
		Name:         "User Two",
		PasswordHash: testPasswordHash,
		Now:          time.Now().UTC(),
	})
	if err == nil {
		t.Fatalf("expected conflict, got nil")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_UpsertGoogleUser_Idempotent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	s := mustNewIdentityStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pic1 := "https://example.com/a.png"
	u1, err := s.UpsertGoogleUser(ctx, GoogleUserInput{
		Email:   "GUser@Example.com",
		Name:    "G User",
		Picture: &pic1,
		Now:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if u1.PasswordHash != nil {
		t.Fatalf("expected google account without password hash")
	}

	// Second upsert must return the same account, untouched.
	pic2 := "https://example.com/b.png"
	u2, err := s.UpsertGoogleUser(ctx, GoogleUserInput{
		Email:   "guser@example.com",
		Name:    "Other Name",
		Picture: &pic2,
		Now:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if u2.ID != u1.ID {
		t.Fatalf("expected same user id, got %q and %q", u1.ID, u2.ID)
	}
	if u2.Name != "G User" {
		t.Fatalf("expected original name preserved, got %q", u2.Name)
	}
	if u2.Picture == nil || *u2.Picture != pic1 {
		t.Fatalf("expected original picture preserved, got %+v", u2.Picture)
	}
}

func TestPostgresStore_PendingSignup_Lifecycle(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	s := mustNewIdentityStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	err := s.PutPendingSignup(ctx, PendingSignup{
		Email:         "Pending@Example.com",
		Name:          "Pending User",
		PasswordHash:  testPasswordHash,
		OTPHash:       HashSecretHex("111111"),
		ExpiresAt:     now.Add(10 * time.Minute),
		LastOTPSentAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("put pending: %v", err)
	}

	p, err := s.GetPendingSignup(ctx, "pending@example.COM")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if !SecretHashEqual(p.OTPHash, HashSecretHex("111111")) {
		t.Fatalf("otp hash mismatch")
	}

	// Resend replaces the OTP digest and bumps last_otp_sent_at.
	sentAt := now.Add(31 * time.Second)
	err = s.UpdatePendingOTP(ctx, p.Email, HashSecretHex("222222"), sentAt.Add(10*time.Minute), sentAt)
	if err != nil {
		t.Fatalf("update pending otp: %v", err)
	}

	p2, err := s.GetPendingSignup(ctx, p.Email)
	if err != nil {
		t.Fatalf("get pending after resend: %v", err)
	}
	if SecretHashEqual(p2.OTPHash, p.OTPHash) {
		t.Fatalf("expected new otp hash after resend")
	}
	if !p2.LastOTPSentAt.After(p.LastOTPSentAt) {
		t.Fatalf("expected last_otp_sent_at to advance")
	}

	if err := s.DeletePendingSignup(ctx, p.Email); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, err := s.GetPendingSignup(ctx, p.Email); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got: %v", err)
	}

	// Resend on a missing record is a NotFound, not an upsert.
	err = s.UpdatePendingOTP(ctx, p.Email, HashSecretHex("333333"), now.Add(10*time.Minute), now)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

func TestPostgresStore_ConsumeResetToken_SingleWinner(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	s := mustNewIdentityStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:        "reset-user@example.com",
		Name:         "Reset User",
		PasswordHash: testPasswordHash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	now := time.Now().UTC()
	tokenHash := HashSecretHex("reset-token-plain")
	if err := s.SetResetToken(ctx, u.ID, tokenHash, now.Add(15*time.Minute), now); err != nil {
		t.Fatalf("set reset token: %v", err)
	}

	// Two concurrent consumers; exactly one must win.
	const attempts = 2
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ConsumeResetToken(ctx, tokenHash, testPasswordHash2, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNotActive):
			losses++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if wins != 1 || losses != attempts-1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}

	// Token is cleared; a replay must fail.
	if _, err := s.ConsumeResetToken(ctx, tokenHash, testPasswordHash, time.Now().UTC()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive on replay, got: %v", err)
	}
}

func TestPostgresStore_ConsumeResetToken_Expired(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	s := mustNewIdentityStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:        "expired-reset@example.com",
		Name:         "Expired Reset",
		PasswordHash: testPasswordHash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	now := time.Now().UTC()
	tokenHash := HashSecretHex("expired-reset-token")
	if err := s.SetResetToken(ctx, u.ID, tokenHash, now.Add(-1*time.Second), now.Add(-16*time.Minute)); err != nil {
		t.Fatalf("set reset token: %v", err)
	}

	_, err = s.ConsumeResetToken(ctx, tokenHash, testPasswordHash2, time.Now().UTC())
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive for expired token, got: %v", err)
	}
}

func TestPostgresStore_DeleteUser_RemovesRow(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	s := mustNewIdentityStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:        "delete-me@example.com",
		Name:         "Delete Me",
		PasswordHash: testPasswordHash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := s.GetByID(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got: %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got: %v", err)
	}
}

// ---- helpers ----

// Pre-computed argon2id strings keep these tests off the KDF hot path.
const (
	testPasswordHash  = "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHRzb21lc2FsdA$WVd4c2JHOHRkMjl5YkdRdGFHRnphQzB4TW1FNU1qQT0"
	testPasswordHash2 = "$argon2id$v=19$m=65536,t=3,p=2$b3RoZXJzYWx0b3RoZXJzYWx0$WVd4c2JHOHRkMjl5YkdRdGFHRnphQzB5TXpVMU1qRT0"
)

func mustNewIdentityStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("STREAMX_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: STREAMX_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse STREAMX_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly (fast fail).
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (STREAMX_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "streamx_it_" + strings.ToLower(mustNewULIDLike(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgxIdent1(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgxIdent1(schema)+` CASCADE`)
}

func mustApplyIdentitySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	pending := pgIdent(schema, "pending_signups")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NULL,
  picture TEXT NULL,
  date_of_birth TIMESTAMPTZ NULL,
  gender TEXT NULL,
  reset_token_hash TEXT NULL,
  reset_expires_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS %s (
  email_norm TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  otp_hash TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  last_otp_sent_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_pending_otp_hash_len CHECK (char_length(otp_hash) = 64)
);

CREATE INDEX IF NOT EXISTS idx_users_reset_token_hash
  ON %s (reset_token_hash);
`, users, pending, users)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func mustNewULIDLike(t *testing.T) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}

func pgxIdent1(ident string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection in dynamic DDL.
	return pgx.Identifier{ident}.Sanitize()
}
