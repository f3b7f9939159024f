package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// EntityStore resolves external identifiers to stable internal entity ids.
//
// It is constructed with a *sql.DB, never a *sql.Tx: callers cannot hand it
// a transaction, which is what makes "always called outside the caller's
// transaction" a structural guarantee rather than a convention a caller
// could violate. The resolved id must survive a caller's rollback so that
// repeated processing of the same record converges on one entity row.
type EntityStore struct {
	db *sql.DB
}

// NewEntityStore creates an identifier resolver bound to the given database.
func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db}
}

// Resolve returns the stable entity id for (identifierType, identifierValue),
// allocating a new entity row on first reference. Idempotent and safe under
// concurrency: concurrent callers resolving the same identifier converge on
// the same id under READ COMMITTED.
func (s *EntityStore) Resolve(ctx context.Context, identifierType, identifierValue string) (int64, error) {
	const upsert = `
		INSERT INTO entity (identifier_type, identifier_value)
		VALUES ($1, $2)
		ON CONFLICT (identifier_type, identifier_value) DO NOTHING
		RETURNING id
	`

	var id int64

	err := s.db.QueryRowContext(ctx, upsert, identifierType, identifierValue).Scan(&id)
	if err == nil {
		return id, nil
	}

	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("resolve identifier insert: %w", err)
	}

	// A concurrent inserter won the conflict; read the row it created.
	const selectExisting = `
		SELECT id FROM entity WHERE identifier_type = $1 AND identifier_value = $2
	`

	err = s.db.QueryRowContext(ctx, selectExisting, identifierType, identifierValue).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve identifier select: %w", err)
	}

	return id, nil
}

// Lookup returns the identifier type/value an entity id was resolved from,
// used by the executor to hydrate an event's subject/object fields back
// into their canonical identifier form.
func (s *EntityStore) Lookup(ctx context.Context, id int64) (identifierType, identifierValue string, err error) {
	const query = `SELECT identifier_type, identifier_value FROM entity WHERE id = $1`

	if err := s.db.QueryRowContext(ctx, query, id).Scan(&identifierType, &identifierValue); err != nil {
		return "", "", fmt.Errorf("lookup entity %d: %w", id, err)
	}

	return identifierType, identifierValue, nil
}
