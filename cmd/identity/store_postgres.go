package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements credential persistence over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - ConsumeResetToken is a single conditional UPDATE, so concurrent resets
//   with the same token produce exactly one winner.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the credential store (default "streamx").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "streamx",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, email_norm, name, password_hash, picture, date_of_birth, gender,
	        reset_token_hash, reset_expires_at, created_at, updated_at`

// CreateUser inserts a new verified account.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, pgInvalid(op, "password_hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	emailNorm := NormalizeEmail(email)

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, email, email_norm, name, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		userID, email, emailNorm, name, in.PasswordHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	pw := in.PasswordHash
	return User{
		ID:           userID,
		Email:        email,
		EmailNorm:    emailNorm,
		Name:         name,
		PasswordHash: &pw,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpsertGoogleUser inserts on first sight of the normalized email and
// returns the current row either way. The no-op DO UPDATE makes the
// RETURNING clause yield the existing row without touching its data.
func (s *PostgresStore) UpsertGoogleUser(ctx context.Context, in GoogleUserInput) (User, error) {
	const op = "identity.UpsertGoogleUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	emailNorm := NormalizeEmail(email)

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+users+` (
		     id, email, email_norm, name, picture, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)
		   ON CONFLICT (email_norm) DO UPDATE SET email_norm = EXCLUDED.email_norm
		   RETURNING `+userColumns,
		userID, email, emailNorm, strings.TrimSpace(in.Name), pgTrimPtr(in.Picture), now,
	)

	out, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return out, nil
}

// GetByEmail finds an account by normalized email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetByEmail"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return User{}, pgInvalid(op, "email is required")
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE email_norm = $1`,
		emailNorm,
	)
	out, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return out, nil
}

// GetByID finds an account by id.
func (s *PostgresStore) GetByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetByID"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, pgInvalid(op, "missing user_id")
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1`,
		userID,
	)
	out, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return out, nil
}

// UpdateProfile applies partial profile changes and returns the updated row.
func (s *PostgresStore) UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error) {
	const op = "identity.UpdateProfile"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return User{}, pgInvalid(op, "missing user_id")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET name          = COALESCE($2, name),
		        picture       = COALESCE($3, picture),
		        date_of_birth = COALESCE($4, date_of_birth),
		        gender        = COALESCE($5, gender),
		        updated_at    = $6
		  WHERE id = $1
		  RETURNING `+userColumns,
		in.UserID, pgTrimPtr(in.Name), pgTrimPtr(in.Picture), in.DateOfBirth, pgTrimPtr(in.Gender), now,
	)
	out, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return out, nil
}

// UpdatePassword replaces the password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID string, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePassword"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return pgInvalid(op, "missing password_hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET password_hash = $2, updated_at = $3
		  WHERE id = $1`,
		userID, passwordHash, now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// DeleteUser removes the account. Device sessions go with it via
// ON DELETE CASCADE on the sessions table FK.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	const op = "identity.DeleteUser"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx, `DELETE FROM `+users+` WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// SetResetToken stores the reset-token digest and expiry on the account.
func (s *PostgresStore) SetResetToken(ctx context.Context, userID string, tokenHash string, expiresAt time.Time, now time.Time) error {
	const op = "identity.SetResetToken"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return pgInvalid(op, "missing token_hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET reset_token_hash = $2, reset_expires_at = $3, updated_at = $4
		  WHERE id = $1`,
		userID, tokenHash, expiresAt, now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// ConsumeResetToken swaps the password and clears the token in one
// conditional UPDATE. The WHERE clause is the whole race story: expired,
// unknown or already-consumed digests affect zero rows.
func (s *PostgresStore) ConsumeResetToken(ctx context.Context, tokenHash string, newPasswordHash string, now time.Time) (User, error) {
	const op = "identity.ConsumeResetToken"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return User{}, pgInvalid(op, "missing token_hash")
	}
	if strings.TrimSpace(newPasswordHash) == "" {
		return User{}, pgInvalid(op, "missing password_hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET password_hash    = $2,
		        reset_token_hash = NULL,
		        reset_expires_at = NULL,
		        updated_at       = $3
		  WHERE reset_token_hash = $1
		    AND reset_expires_at > $3
		  RETURNING `+userColumns,
		tokenHash, newPasswordHash, now,
	)
	out, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, OpError{Op: op, Kind: ErrNotActive, Msg: "reset token unknown, expired or used"}
		}
		return User{}, err
	}
	return out, nil
}

// PutPendingSignup upserts the pending record keyed by normalized email.
func (s *PostgresStore) PutPendingSignup(ctx context.Context, p PendingSignup) error {
	const op = "identity.PutPendingSignup"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	email := strings.TrimSpace(p.Email)
	if email == "" {
		return pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(p.PasswordHash) == "" || strings.TrimSpace(p.OTPHash) == "" {
		return pgInvalid(op, "password_hash and otp_hash are required")
	}

	emailNorm := NormalizeEmail(email)

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	sentAt := p.LastOTPSentAt
	if sentAt.IsZero() {
		sentAt = created
	}

	pending := pgIdent(s.schema, "pending_signups")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pending+` (
		     email_norm, email, name, password_hash, otp_hash, expires_at, last_otp_sent_at, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		   ON CONFLICT (email_norm) DO UPDATE SET
		     email            = EXCLUDED.email,
		     name             = EXCLUDED.name,
		     password_hash    = EXCLUDED.password_hash,
		     otp_hash         = EXCLUDED.otp_hash,
		     expires_at       = EXCLUDED.expires_at,
		     last_otp_sent_at = EXCLUDED.last_otp_sent_at`,
		emailNorm, email, strings.TrimSpace(p.Name), p.PasswordHash, p.OTPHash, p.ExpiresAt, sentAt, created,
	)
	return err
}

// GetPendingSignup reads the pending record for a normalized email.
func (s *PostgresStore) GetPendingSignup(ctx context.Context, email string) (PendingSignup, error) {
	const op = "identity.GetPendingSignup"

	if s == nil || s.pool == nil {
		return PendingSignup{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return PendingSignup{}, err
	}

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return PendingSignup{}, pgInvalid(op, "email is required")
	}

	pending := pgIdent(s.schema, "pending_signups")

	var out PendingSignup
	err := s.pool.QueryRow(ctx,
		`SELECT email, email_norm, name, password_hash, otp_hash, expires_at, last_otp_sent_at, created_at
		   FROM `+pending+`
		  WHERE email_norm = $1`,
		emailNorm,
	).Scan(
		&out.Email,
		&out.EmailNorm,
		&out.Name,
		&out.PasswordHash,
		&out.OTPHash,
		&out.ExpiresAt,
		&out.LastOTPSentAt,
		&out.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingSignup{}, NotFoundError{Op: op, Resource: "pending_signup"}
		}
		return PendingSignup{}, err
	}
	return out, nil
}

// UpdatePendingOTP refreshes the OTP digest of an existing pending record.
func (s *PostgresStore) UpdatePendingOTP(ctx context.Context, email string, otpHash string, expiresAt time.Time, sentAt time.Time) error {
	const op = "identity.UpdatePendingOTP"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(otpHash) == "" {
		return pgInvalid(op, "missing otp_hash")
	}

	pending := pgIdent(s.schema, "pending_signups")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+pending+`
		    SET otp_hash = $2, expires_at = $3, last_otp_sent_at = $4
		  WHERE email_norm = $1`,
		emailNorm, otpHash, expiresAt, sentAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "pending_signup"}
	}
	return nil
}

// DeletePendingSignup removes the pending record (idempotent).
func (s *PostgresStore) DeletePendingSignup(ctx context.Context, email string) error {
	const op = "identity.DeletePendingSignup"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return pgInvalid(op, "email is required")
	}

	pending := pgIdent(s.schema, "pending_signups")

	_, err := s.pool.Exec(ctx, `DELETE FROM `+pending+` WHERE email_norm = $1`, emailNorm)
	return err
}

// ---- helpers ----

func scanUser(row pgx.Row) (User, error) {
	var out User
	err := row.Scan(
		&out.ID,
		&out.Email,
		&out.EmailNorm,
		&out.Name,
		&out.PasswordHash,
		&out.Picture,
		&out.DateOfBirth,
		&out.Gender,
		&out.ResetTokenHash,
		&out.ResetExpiresAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return out, nil
}

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names, then heuristic substrings.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_email_norm":
		return "email", true
	case "uq_pending_signups_email_norm":
		return "pending_signup", true
	default:
		if strings.Contains(c, "email") {
			return "email", true
		}
		return "unique", true
	}
}
