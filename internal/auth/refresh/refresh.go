// Package refresh implements row-level refresh-token replacement, the
// concurrency policy spec.md §5 names explicitly but which spec.md's
// component table never assigns an owner. Grounded on
// original_source/fechatter_server/src/utils/refresh_token.rs: a
// SELECT ... FOR UPDATE row lock guards the revoked/replaced_by check so
// concurrent replacement attempts serialize and the loser observes the
// row already replaced.
package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyReplaced is returned when the token row was revoked or
// replaced by a concurrent request that won the race for the row lock.
var ErrAlreadyReplaced = errors.New("refresh: token already revoked or replaced")

// Token mirrors the original CoreRefreshToken DTO.
type Token struct {
	ID           int64
	UserID       int64
	TokenHash    string
	ExpiresAt    time.Time
	IssuedAt     time.Time
	Revoked      bool
	ReplacedBy   *string
	AbsoluteExpiresAt time.Time
}

// Store issues, verifies, and replaces refresh tokens against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GenerateToken returns a random opaque token and its stored hash.
func GenerateToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("refresh: rand read: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, Sha256Hash(raw), nil
}

// Sha256Hash hashes a raw refresh token for storage/lookup.
func Sha256Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create stores a newly issued refresh token.
func (s *Store) Create(ctx context.Context, userID int64, tokenHash string, expiresAt, absoluteExpiresAt time.Time) (*Token, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, issued_at, revoked, absolute_expires_at)
		VALUES ($1, $2, $3, NOW(), FALSE, $4)
		RETURNING id, user_id, token_hash, expires_at, issued_at, revoked, replaced_by, absolute_expires_at
	`, userID, tokenHash, expiresAt, absoluteExpiresAt)
	return scanToken(row)
}

// FindByToken looks up a live (non-revoked, non-expired) token by its hash.
func (s *Store) FindByToken(ctx context.Context, tokenHash string) (*Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, issued_at, revoked, replaced_by, absolute_expires_at
		FROM refresh_tokens
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > NOW()
	`, tokenHash)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Replace atomically revokes the old token and inserts its replacement,
// all within one transaction holding a row lock on the old token.
// Concurrent Replace calls on the same token id serialize on the lock;
// the loser sees ErrAlreadyReplaced.
func (s *Store) Replace(ctx context.Context, oldID int64, newHash string, newExpiresAt time.Time) (*Token, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var revoked bool
	var replacedBy *string
	err = tx.QueryRow(ctx, `
		SELECT revoked, replaced_by FROM refresh_tokens WHERE id = $1 FOR UPDATE
	`, oldID).Scan(&revoked, &replacedBy)
	if err != nil {
		return nil, fmt.Errorf("refresh: lock old token: %w", err)
	}
	if revoked || replacedBy != nil {
		return nil, ErrAlreadyReplaced
	}

	var userID int64
	if err := tx.QueryRow(ctx, `SELECT user_id FROM refresh_tokens WHERE id = $1`, oldID).Scan(&userID); err != nil {
		return nil, fmt.Errorf("refresh: read owner: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, issued_at, revoked, absolute_expires_at)
		VALUES ($1, $2, $3, NOW(), FALSE, $3)
		RETURNING id, user_id, token_hash, expires_at, issued_at, revoked, replaced_by, absolute_expires_at
	`, userID, newHash, newExpiresAt)
	next, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("refresh: insert replacement: %w", err)
	}

	newIDStr := fmt.Sprintf("%d", next.ID)
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, replaced_by = $1 WHERE id = $2
	`, newIDStr, oldID); err != nil {
		return nil, fmt.Errorf("refresh: mark old replaced: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("refresh: commit: %w", err)
	}
	return next, nil
}

// RevokeAllForUser revokes every live token belonging to a user, e.g. on
// password change or explicit logout-everywhere.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	return err
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.IssuedAt, &t.Revoked, &t.ReplacedBy, &t.AbsoluteExpiresAt); err != nil {
		return nil, err
	}
	return &t, nil
}
