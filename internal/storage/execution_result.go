package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pardalotus/metabeak/internal/model"
)

// ExecutionResultStore persists per-handler execution outcomes.
type ExecutionResultStore struct {
	db *sql.DB
}

// NewExecutionResultStore creates an execution result store bound to the
// given database.
func NewExecutionResultStore(db *sql.DB) *ExecutionResultStore {
	return &ExecutionResultStore{db: db}
}

// SaveResults persists a batch of execution results within tx. Exactly one
// of each result's Output or Error must be set; the database enforces this
// with a CHECK constraint.
func (s *ExecutionResultStore) SaveResults(ctx context.Context, tx *sql.Tx, results []model.ExecutionResult) error {
	const insert = `
		INSERT INTO execution_result (handler_id, event_id, output, error)
		VALUES ($1, $2, $3, $4)
	`

	for _, r := range results {
		if _, err := tx.ExecContext(ctx, insert, r.HandlerID, r.EventID, r.Output, r.Error); err != nil {
			return fmt.Errorf("save execution result: %w", err)
		}
	}

	return nil
}

// ListByHandler returns up to pageSize results for handlerID with id
// greater than cursor, ordered by id ascending, for the
// GET /functions/:id/results and /debug cursor-paginated endpoints.
// includeErrors controls which page this backs: false restricts the page
// to successful results (error IS NULL), matching /results; true returns
// the unfiltered superset (successes and failures alike), matching
// /debug.
func (s *ExecutionResultStore) ListByHandler(
	ctx context.Context,
	handlerID, cursor int64,
	pageSize int,
	includeErrors bool,
) ([]model.ExecutionResult, error) {
	query := `
		SELECT id, handler_id, event_id, output, error, executed_at
		FROM execution_result
		WHERE handler_id = $1 AND id > $2
	`
	if !includeErrors {
		query += ` AND error IS NULL`
	}

	query += ` ORDER BY id ASC LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, handlerID, cursor, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list execution results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []model.ExecutionResult{}

	for rows.Next() {
		var r model.ExecutionResult

		if err := rows.Scan(&r.ID, &r.HandlerID, &r.EventID, &r.Output, &r.Error, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution result: %w", err)
		}

		results = append(results, r)
	}

	return results, rows.Err()
}
