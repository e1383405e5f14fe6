package session

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev/test fallback when DB is not configured.
// It mirrors the Postgres semantics exactly, including the
// single-winner compare-and-swap in Rotate.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[memKey]Row
}

type memKey struct {
	userID   string
	deviceID string
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[memKey]Row)}
}

// Upsert creates or replaces the device's row.
func (s *InMemoryStore) Upsert(ctx context.Context, now time.Time, userID string, dev Device, refreshHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ip *net.IP
	if dev.IP != nil {
		cp := dev.IP
		ip = &cp
	}

	s.rows[memKey{userID, dev.DeviceID}] = Row{
		UserID:           userID,
		DeviceID:         dev.DeviceID,
		DeviceName:       dev.Name,
		OS:               dev.OS,
		Browser:          dev.Browser,
		Location:         dev.Location,
		IP:               ip,
		RefreshTokenHash: refreshHash,
		SignedInAt:       now,
		LastActiveAt:     now,
	}
	return nil
}

// Get loads a session row by (user, device).
func (s *InMemoryStore) Get(ctx context.Context, userID, deviceID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[memKey{userID, deviceID}]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}

// Rotate swaps the refresh hash only when oldHash is still live.
func (s *InMemoryStore) Rotate(ctx context.Context, now time.Time, userID, deviceID, oldHash, newHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{userID, deviceID}
	row, ok := s.rows[k]
	if !ok || row.RefreshTokenHash != oldHash {
		return ErrSessionRevoked
	}
	row.RefreshTokenHash = newHash
	row.LastActiveAt = now
	s.rows[k] = row
	return nil
}

// List returns the user's sessions, most recently active first.
func (s *InMemoryStore) List(ctx context.Context, userID string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for k, row := range s.rows {
		if k.userID == userID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

// Touch bumps last_active_at when the row exists.
func (s *InMemoryStore) Touch(ctx context.Context, now time.Time, userID, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{userID, deviceID}
	if row, ok := s.rows[k]; ok {
		row.LastActiveAt = now
		s.rows[k] = row
	}
	return nil
}

// Delete removes the device's row, failing when it never existed.
func (s *InMemoryStore) Delete(ctx context.Context, userID, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{userID, deviceID}
	if _, ok := s.rows[k]; !ok {
		return ErrSessionNotFound
	}
	delete(s.rows, k)
	return nil
}

// DeleteByHash removes the row holding refreshHash, if any.
func (s *InMemoryStore) DeleteByHash(ctx context.Context, refreshHash string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, row := range s.rows {
		if row.RefreshTokenHash == refreshHash {
			delete(s.rows, k)
			return k.userID, k.deviceID, nil
		}
	}
	return "", "", nil
}

// DeleteAll removes every row of the user (idempotent).
func (s *InMemoryStore) DeleteAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.rows {
		if k.userID == userID {
			delete(s.rows, k)
		}
	}
	return nil
}
