package identity

import (
	"context"
	"time"
)

// User is streamx's canonical security principal.
// PasswordHash is nil for accounts created via Google sign-in that never
// set a password.
type User struct {
	ID        string
	Email     string
	EmailNorm string
	Name      string

	PasswordHash *string
	Picture      *string
	DateOfBirth  *time.Time
	Gender       *string

	ResetTokenHash *string
	ResetExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// PendingSignup is a signup awaiting OTP verification.
// OTPHash is the digest of the current one-time password; the clear OTP
// only travels by email. LastOTPSentAt drives the resend cooldown.
type PendingSignup struct {
	Email         string
	EmailNorm     string
	Name          string
	PasswordHash  string
	OTPHash       string
	ExpiresAt     time.Time
	LastOTPSentAt time.Time
	CreatedAt     time.Time
}

// CreateUserInput describes a verified user registration.
// PasswordHash must already be an argon2id PHC string; the store never
// sees clear passwords.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Now          time.Time
}

// GoogleUserInput describes an upsert from a verified Google ID token.
// Profile fields apply only on first insert; an existing account keeps
// its own name and picture.
type GoogleUserInput struct {
	Email   string
	Name    string
	Picture *string
	Now     time.Time
}

// UpdateProfileInput carries partial profile changes. Nil fields are
// left untouched.
type UpdateProfileInput struct {
	UserID      string
	Name        *string
	Picture     *string
	DateOfBirth *time.Time
	Gender      *string
	Now         time.Time
}

// Store is the credential persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// UpsertGoogleUser inserts the account if the normalized email is new
	// and returns the current row either way. Repeating the call never
	// creates a second account and never overwrites existing profile data.
	UpsertGoogleUser(ctx context.Context, in GoogleUserInput) (User, error)

	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)

	UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error)
	UpdatePassword(ctx context.Context, userID string, passwordHash string, now time.Time) error

	// DeleteUser removes the account. Device sessions are removed by the
	// schema's ON DELETE CASCADE; callers broadcast revocation first.
	DeleteUser(ctx context.Context, userID string) error

	// SetResetToken stores the digest of a password-reset token with its
	// expiry on the account.
	SetResetToken(ctx context.Context, userID string, tokenHash string, expiresAt time.Time, now time.Time) error

	// ConsumeResetToken atomically swaps the password of the account whose
	// live reset-token digest matches and clears the token. Returns
	// ErrNotActive when the digest is unknown, expired or already used.
	ConsumeResetToken(ctx context.Context, tokenHash string, newPasswordHash string, now time.Time) (User, error)

	// PutPendingSignup upserts the pending record keyed by normalized
	// email, replacing any earlier unverified attempt.
	PutPendingSignup(ctx context.Context, p PendingSignup) error
	GetPendingSignup(ctx context.Context, email string) (PendingSignup, error)

	// UpdatePendingOTP replaces the OTP digest and expiry of an existing
	// pending record (resend). Returns ErrNotFound when nothing is pending.
	UpdatePendingOTP(ctx context.Context, email string, otpHash string, expiresAt time.Time, sentAt time.Time) error
	DeletePendingSignup(ctx context.Context, email string) error
}
