package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (streamx.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Upsert inserts the device's row or replaces its hash and metadata in place.
func (s *PostgresStore) Upsert(ctx context.Context, now time.Time, userID string, dev Device, refreshHash string) error {
	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO streamx.sessions (
			user_id, device_id, device_name, os, browser, location, ip,
			refresh_token_hash, signed_in_at, last_active_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $9
		)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			device_name        = EXCLUDED.device_name,
			os                 = EXCLUDED.os,
			browser            = EXCLUDED.browser,
			location           = EXCLUDED.location,
			ip                 = EXCLUDED.ip,
			refresh_token_hash = EXCLUDED.refresh_token_hash,
			signed_in_at       = EXCLUDED.signed_in_at,
			last_active_at     = EXCLUDED.last_active_at
	`, userID, dev.DeviceID, nullIfEmpty(dev.Name), nullIfEmpty(dev.OS), nullIfEmpty(dev.Browser),
		nullIfEmpty(dev.Location), ip, refreshHash, now)
	return err
}

// Get loads a session row by (user, device).
func (s *PostgresStore) Get(ctx context.Context, userID, deviceID string) (Row, error) {
	row, err := scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT
			user_id, device_id, device_name, os, browser, location, ip::text,
			refresh_token_hash, signed_in_at, last_active_at
		FROM streamx.sessions
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Rotate is the single-winner compare-and-swap on the refresh hash.
// The WHERE clause carries the whole race: a replayed or raced token no
// longer matches refresh_token_hash and affects zero rows.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, userID, deviceID, oldHash, newHash string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE streamx.sessions
		SET refresh_token_hash = $4,
		    last_active_at = $5
		WHERE user_id = $1 AND device_id = $2 AND refresh_token_hash = $3
	`, userID, deviceID, oldHash, newHash, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSessionRevoked
	}
	return nil
}

// List returns the user's device sessions, most recently active first.
func (s *PostgresStore) List(ctx context.Context, userID string) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			user_id, device_id, device_name, os, browser, location, ip::text,
			refresh_token_hash, signed_in_at, last_active_at
		FROM streamx.sessions
		WHERE user_id = $1
		ORDER BY last_active_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Touch bumps last_active_at for a device.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, userID, deviceID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE streamx.sessions
		SET last_active_at = $3
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID, now)
	return err
}

// Delete removes the device's session row, failing when it never existed.
func (s *PostgresStore) Delete(ctx context.Context, userID, deviceID string) error {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM streamx.sessions
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteByHash removes the row holding refreshHash, if any. The digest
// is unique across live sessions, so at most one row can match.
func (s *PostgresStore) DeleteByHash(ctx context.Context, refreshHash string) (string, string, error) {
	var userID, deviceID string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM streamx.sessions
		WHERE refresh_token_hash = $1
		RETURNING user_id, device_id
	`, refreshHash).Scan(&userID, &deviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return userID, deviceID, nil
}

// DeleteAll removes every session row of the user (idempotent).
func (s *PostgresStore) DeleteAll(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM streamx.sessions
		WHERE user_id = $1
	`, userID)
	return err
}

func scanSessionRow(r pgx.Row) (Row, error) {
	var (
		row      Row
		name     *string
		osName   *string
		browser  *string
		location *string
		ipText   *string
	)

	err := r.Scan(
		&row.UserID,
		&row.DeviceID,
		&name,
		&osName,
		&browser,
		&location,
		&ipText,
		&row.RefreshTokenHash,
		&row.SignedInAt,
		&row.LastActiveAt,
	)
	if err != nil {
		return Row{}, err
	}

	row.DeviceName = deref(name)
	row.OS = deref(osName)
	row.Browser = deref(browser)
	row.Location = deref(location)
	if ipText != nil {
		if parsed := net.ParseIP(*ipText); parsed != nil {
			row.IP = &parsed
		}
	}
	return row, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
