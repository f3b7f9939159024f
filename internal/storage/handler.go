package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pardalotus/metabeak/internal/model"
)

// HandlerStore persists uploaded handler functions.
type HandlerStore struct {
	db *sql.DB
}

// NewHandlerStore creates a handler store bound to the given database.
func NewHandlerStore(db *sql.DB) *HandlerStore {
	return &HandlerStore{db: db}
}

// Insert records a handler's source under ownerID, deduplicating on
// content hash: repeated uploads of identical source return the existing
// handler_id and created=false rather than creating a second row.
func (s *HandlerStore) Insert(ctx context.Context, code, contentHash, ownerID string) (id int64, created bool, err error) {
	const insert = `
		INSERT INTO handler (code, status, owner_id, content_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, insert, code, int16(model.HandlerStatusEnabled), ownerID, contentHash).Scan(&id)
	if err == nil {
		return id, true, nil
	}

	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("insert handler: %w", err)
	}

	const selectExisting = `SELECT id FROM handler WHERE content_hash = $1`
	if err := s.db.QueryRowContext(ctx, selectExisting, contentHash).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("select existing handler: %w", err)
	}

	return id, false, nil
}

// Get retrieves one handler by id.
func (s *HandlerStore) Get(ctx context.Context, id int64) (*model.Handler, error) {
	const query = `SELECT id, code, status, owner_id, content_hash, created_at FROM handler WHERE id = $1`

	var (
		h      model.Handler
		status int16
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(&h.ID, &h.Code, &status, &h.OwnerID, &h.ContentHash, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrHandlerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get handler: %w", err)
	}

	h.Status = model.HandlerStatus(status)

	return &h, nil
}

// ListAll returns every handler, enabled or not, in ascending id order.
func (s *HandlerStore) ListAll(ctx context.Context) ([]model.Handler, error) {
	const query = `SELECT id, code, status, owner_id, content_hash, created_at FROM handler ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list handlers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	handlers := []model.Handler{}

	for rows.Next() {
		var (
			h      model.Handler
			status int16
		)

		if err := rows.Scan(&h.ID, &h.Code, &status, &h.OwnerID, &h.ContentHash, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan handler: %w", err)
		}

		h.Status = model.HandlerStatus(status)
		handlers = append(handlers, h)
	}

	return handlers, rows.Err()
}

// ListEnabled returns every enabled handler, in ascending id order, for
// the GET /functions listing.
func (s *HandlerStore) ListEnabled(ctx context.Context) ([]model.Handler, error) {
	const query = `
		SELECT id, code, status, owner_id, content_hash, created_at
		FROM handler
		WHERE status = $1
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, int16(model.HandlerStatusEnabled))
	if err != nil {
		return nil, fmt.Errorf("list enabled handlers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	handlers := []model.Handler{}

	for rows.Next() {
		var (
			h      model.Handler
			status int16
		)

		if err := rows.Scan(&h.ID, &h.Code, &status, &h.OwnerID, &h.ContentHash, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan handler: %w", err)
		}

		h.Status = model.HandlerStatus(status)
		handlers = append(handlers, h)
	}

	return handlers, rows.Err()
}

// AllEnabled returns every enabled handler. Assumes the handler set is
// small enough to fit comfortably in memory, matching how the executor
// loads handlers once per execute batch.
func (s *HandlerStore) AllEnabled(ctx context.Context, tx *sql.Tx) ([]model.Handler, error) {
	const query = `SELECT id, code FROM handler WHERE status = $1`

	rows, err := tx.QueryContext(ctx, query, int16(model.HandlerStatusEnabled))
	if err != nil {
		return nil, fmt.Errorf("list enabled handlers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var handlers []model.Handler

	for rows.Next() {
		var h model.Handler

		if err := rows.Scan(&h.ID, &h.Code); err != nil {
			return nil, fmt.Errorf("scan enabled handler: %w", err)
		}

		h.Status = model.HandlerStatusEnabled
		handlers = append(handlers, h)
	}

	return handlers, rows.Err()
}
