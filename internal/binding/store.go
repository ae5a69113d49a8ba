// Package binding manages one-time device pairing tokens.
//
// A binding token is issued out-of-band through the REST layer, handed to a
// physical device, and consumed exactly once during the device_auth
// handshake. A token that has been used or has expired can never
// authenticate a device.
package binding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain errors for the binding package.
var (
	// ErrTokenInvalid is returned when a token does not exist, has been
	// used, or has expired. Callers get no further detail; the three cases
	// are deliberately indistinguishable.
	ErrTokenInvalid = errors.New("binding: invalid or expired token")
)

// Token is an issued pairing credential.
type Token struct {
	ID        string    `json:"-"`
	Token     string    `json:"token"`
	UserID    string    `json:"-"`
	Used      bool      `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store issues and consumes binding tokens against SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a SQLite-backed binding token store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Issue creates a new single-use token for the given user, valid for ttl.
func (s *Store) Issue(ctx context.Context, userID string, ttl time.Duration) (*Token, error) {
	t := &Token{
		ID:        "bt-" + uuid.NewString()[:8],
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl).Truncate(time.Second),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO binding_tokens (id, token, user_id, is_used, expires_at, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		t.ID, t.Token, t.UserID,
		t.ExpiresAt.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("issuing binding token: %w", err)
	}

	return t, nil
}

// ConsumeToken atomically reads an unused, unexpired token by value and
// marks it used. Returns the owning user ID, or ErrTokenInvalid.
func (s *Store) ConsumeToken(ctx context.Context, token string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting consume transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	userID, err := consumeInTx(ctx, tx, token)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing consume: %w", err)
	}
	return userID, nil
}

// BindDevice runs the full device_auth persistence step as one
// transaction: consume the token, then upsert the device row bound to the
// token's owner with the given default alias. Any failure rolls the whole
// thing back, leaving the token unconsumed.
func (s *Store) BindDevice(ctx context.Context, token, hardwareID, defaultAlias string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting bind transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	userID, err := consumeInTx(ctx, tx, token)
	if err != nil {
		return "", err
	}

	// No-op when the device already exists: re-pairing an existing device
	// with a fresh token must not steal it onto a different account here;
	// ownership changes go through the REST unbind flow.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO devices (unique_hardware_id, user_id, alias, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(unique_hardware_id) DO NOTHING`,
		hardwareID, userID, defaultAlias,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return "", fmt.Errorf("upserting device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing bind: %w", err)
	}
	return userID, nil
}

// consumeInTx performs the read-and-mark-used step inside a caller-owned
// transaction. Fails closed when zero or more than one row matches.
func consumeInTx(ctx context.Context, tx *sql.Tx, token string) (string, error) {
	var id, userID string
	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id FROM binding_tokens
		 WHERE token = ? AND is_used = 0 AND expires_at > ?`,
		token, time.Now().UTC().Format(time.RFC3339),
	).Scan(&id, &userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTokenInvalid
		}
		return "", fmt.Errorf("reading binding token: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE binding_tokens SET is_used = 1 WHERE id = ? AND is_used = 0", id)
	if err != nil {
		return "", fmt.Errorf("marking token used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("checking token update: %w", err)
	}
	if affected != 1 {
		return "", ErrTokenInvalid
	}

	return userID, nil
}

// DeleteExpired removes used and expired tokens. Called periodically so the
// table does not grow without bound.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM binding_tokens WHERE is_used = 1 OR expires_at <= ?",
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted tokens: %w", err)
	}
	return n, nil
}
