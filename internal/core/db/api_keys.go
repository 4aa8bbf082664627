package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrKeyNotFound indicates no active key with the given ID.
var ErrKeyNotFound = errors.New("api key not found")

// APIKey is a stored API key record. The key itself is never stored, only its HMAC.
type APIKey struct {
	ID         string       `db:"api_key_id"`
	Name       string       `db:"name"`
	SecretID   string       `db:"secret_id"`
	CreatedAt  time.Time    `db:"created_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
}

// KeyRepository manages API key records.
type KeyRepository struct {
	queries *Queries
}

// NewKeyRepository wraps queries.
func NewKeyRepository(queries *Queries) *KeyRepository {
	return &KeyRepository{queries: queries}
}

// InsertKey stores a new key hash.
func (r *KeyRepository) InsertKey(ctx context.Context, id, name, secretID string, keyHash []byte) error {
	_, err := r.queries.ExecContext(ctx, "insert-api-key", id, name, secretID, keyHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// RevokeKey marks a key revoked. Revoking an unknown or already revoked key returns ErrKeyNotFound.
func (r *KeyRepository) RevokeKey(ctx context.Context, id string) error {
	res, err := r.queries.ExecContext(ctx, "revoke-api-key", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// ListKeys returns every key record ordered by creation time.
func (r *KeyRepository) ListKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	if err := r.queries.SelectContext(ctx, "list-api-keys", &keys); err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}
