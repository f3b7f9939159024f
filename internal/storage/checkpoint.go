package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CheckpointStore persists named high-water marks for the harvester.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates a checkpoint store bound to the given database.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// queryRower is satisfied by both *sql.DB and *sql.Tx, letting Get/Set run
// either standalone or as part of a caller's transaction.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the checkpoint value for name and true, or false if no
// checkpoint has been recorded yet.
func (s *CheckpointStore) Get(ctx context.Context, name string) (time.Time, bool, error) {
	return getCheckpoint(ctx, s.db, name)
}

// GetTx is Get run within the caller's transaction.
func (s *CheckpointStore) GetTx(ctx context.Context, tx *sql.Tx, name string) (time.Time, bool, error) {
	return getCheckpoint(ctx, tx, name)
}

func getCheckpoint(ctx context.Context, q queryRower, name string) (time.Time, bool, error) {
	const query = `SELECT value FROM checkpoint WHERE name = $1`

	var value time.Time

	err := q.QueryRowContext(ctx, query, name).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("get checkpoint %q: %w", name, err)
	}

	return value, true, nil
}

// Set advances the checkpoint for name to value, upserting the row.
// Callers are responsible for the "never moves backwards" invariant: the
// harvester only calls this with a timestamp derived from the page it just
// successfully processed.
func (s *CheckpointStore) Set(ctx context.Context, name string, value time.Time) error {
	return setCheckpoint(ctx, s.db, name, value)
}

// SetTx is Set run within the caller's transaction, so a checkpoint advance
// commits atomically with the caller's other writes. The harvester uses Set,
// after its per-item commits.
func (s *CheckpointStore) SetTx(ctx context.Context, tx *sql.Tx, name string, value time.Time) error {
	return setCheckpoint(ctx, tx, name, value)
}

func setCheckpoint(ctx context.Context, q queryRower, name string, value time.Time) error {
	const upsert = `
		INSERT INTO checkpoint (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	if _, err := q.ExecContext(ctx, upsert, name, value); err != nil {
		return fmt.Errorf("set checkpoint %q: %w", name, err)
	}

	return nil
}
