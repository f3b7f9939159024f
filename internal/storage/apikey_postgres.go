package storage

import (
	"context"
	"fmt"
)

// PostgresKeyStore implements APIKeyStore interface with PostgreSQL backend.
type PostgresKeyStore struct {
	conn *Connection
}

// NewPostgresKeyStore creates a production-ready PostgreSQL key store.
func NewPostgresKeyStore(conn *Connection) *PostgresKeyStore {
	return &PostgresKeyStore{conn: conn}
}

// FindByKey retrieves an API key by its plaintext value, verifying each
// active row's bcrypt hash in turn. The api_key table is expected to stay
// small (one row per uploader credential), so a linear scan is cheap
// relative to the cost of the bcrypt comparison itself.
func (s *PostgresKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	const query = `
		SELECT id, key_hash, owner_id, active, created_at
		FROM api_key
		WHERE active = TRUE
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, false
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var apiKey APIKey

		if err := rows.Scan(&apiKey.ID, &apiKey.Key, &apiKey.OwnerID, &apiKey.Active, &apiKey.CreatedAt); err != nil {
			continue
		}

		if CompareAPIKeyHash(apiKey.Key, key) {
			apiKey.Key = MaskKey(key)

			return &apiKey, true
		}
	}

	return nil, false
}

// Add stores a new API key, hashing the plaintext key with bcrypt before persisting.
func (s *PostgresKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	const query = `
		INSERT INTO api_key (id, owner_id, key_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn.ExecContext(ctx, query, apiKey.ID, apiKey.OwnerID, keyHash, apiKey.Active, apiKey.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	return nil
}

// Delete deactivates an API key (soft delete, matching the audit-friendly
// convention of never physically removing credential rows).
func (s *PostgresKeyStore) Delete(ctx context.Context, keyID string) error {
	const query = `UPDATE api_key SET active = FALSE WHERE id = $1`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// ListByOwner returns all active API keys for a specific owner.
func (s *PostgresKeyStore) ListByOwner(ctx context.Context, ownerID string) ([]*APIKey, error) {
	if ownerID == "" {
		return nil, ErrOwnerIDEmpty
	}

	const query = `
		SELECT id, key_hash, owner_id, active, created_at
		FROM api_key
		WHERE owner_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey

	for rows.Next() {
		var apiKey APIKey

		if err := rows.Scan(&apiKey.ID, &apiKey.Key, &apiKey.OwnerID, &apiKey.Active, &apiKey.CreatedAt); err != nil {
			continue
		}

		apiKey.Key = MaskKey(apiKey.Key)
		keys = append(keys, &apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if keys == nil {
		keys = []*APIKey{}
	}

	return keys, nil
}

// HealthCheck verifies the underlying database connection is healthy.
func (s *PostgresKeyStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

var _ APIKeyStore = (*PostgresKeyStore)(nil)
