package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pardalotus/metabeak/internal/model"
)

// AssertionStore persists metadata assertions and drains the assertion
// queue that feeds the extractor. The queue poll takes an explicit *sql.Tx:
// it runs inside the caller's batch transaction so a rollback returns
// dequeued rows to the queue. Insert enqueues in a transaction of its own.
type AssertionStore struct {
	db *sql.DB
}

// NewAssertionStore creates an assertion store bound to the given database.
func NewAssertionStore(db *sql.DB) *AssertionStore {
	return &AssertionStore{db: db}
}

// Insert records a metadata assertion and enqueues it for extraction,
// opening and committing its own transaction. Use InsertTx instead when
// the caller needs several inserts to share one transaction.
func (s *AssertionStore) Insert(
	ctx context.Context,
	subjectEntityID int64,
	source model.Source,
	reason model.AssertionReason,
	jsonBody []byte,
	contentHash string,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert assertion begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.InsertTx(ctx, tx, subjectEntityID, source, reason, jsonBody, contentHash); err != nil {
		return err
	}

	return tx.Commit()
}

// InsertTx is Insert run within the caller's transaction. A hash-based
// duplicate on (subject_entity_id, content_hash, source_id) is silently
// ignored and nothing is enqueued, since the existing assertion was
// already (or is already being) processed. Only Primary assertions are
// enqueued for extraction; Secondary ones enrich an entity without
// triggering downstream work.
func (s *AssertionStore) InsertTx(
	ctx context.Context,
	tx *sql.Tx,
	subjectEntityID int64,
	source model.Source,
	reason model.AssertionReason,
	jsonBody []byte,
	contentHash string,
) error {
	var assertionID int64

	const insert = `
		INSERT INTO metadata_assertion (subject_entity_id, source_id, reason, json_body, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_entity_id, content_hash, source_id) DO NOTHING
		RETURNING id
	`

	err := tx.QueryRowContext(ctx, insert, subjectEntityID, int16(source), string(reason), jsonBody, contentHash).Scan(&assertionID)

	switch {
	case err == nil:
		if reason != model.ReasonPrimary {
			return nil
		}

		const enqueue = `INSERT INTO metadata_assertion_queue (assertion_id) VALUES ($1)`
		if _, err := tx.ExecContext(ctx, enqueue, assertionID); err != nil {
			return fmt.Errorf("enqueue assertion: %w", err)
		}
	case err == sql.ErrNoRows:
		// Duplicate assertion: nothing to enqueue.
	default:
		return fmt.Errorf("insert assertion: %w", err)
	}

	return nil
}

// QueuedAssertion is one row dequeued from the metadata assertion queue,
// joined against its assertion body and subject entity's identifier.
type QueuedAssertion struct {
	AssertionID     int64
	SourceID        model.Source
	JSONBody        []byte
	SubjectEntityID int64
	SubjectIDType   string
	SubjectIDValue  string
}

// PollAssertions dequeues up to limit assertions within tx, using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent pumps never contend for
// the same rows, and deletes the dequeued queue rows as part of the same
// statement. If tx is rolled back the deleted rows are restored, giving
// at-least-once delivery.
func (s *AssertionStore) PollAssertions(ctx context.Context, tx *sql.Tx, limit int) ([]QueuedAssertion, error) {
	const query = `
		WITH assertions AS (
			SELECT
				metadata_assertion_queue.queue_id AS queue_id,
				metadata_assertion.source_id AS source_id,
				metadata_assertion.json_body AS json_body,
				metadata_assertion.id AS assertion_id,
				subject.identifier_type AS subject_id_type,
				subject.identifier_value AS subject_id_value,
				subject.id AS subject_entity_id
			FROM metadata_assertion_queue
			JOIN metadata_assertion ON metadata_assertion_queue.assertion_id = metadata_assertion.id
			JOIN entity AS subject ON subject.id = metadata_assertion.subject_entity_id
			ORDER BY metadata_assertion_queue.queue_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		),
		deleted AS (
			DELETE FROM metadata_assertion_queue
			WHERE queue_id IN (SELECT queue_id FROM assertions)
		)
		SELECT source_id, json_body, assertion_id, subject_id_type, subject_id_value, subject_entity_id
		FROM assertions
	`

	rows, err := tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("poll assertions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueuedAssertion

	for rows.Next() {
		var (
			entry    QueuedAssertion
			sourceID int16
		)

		if err := rows.Scan(&sourceID, &entry.JSONBody, &entry.AssertionID, &entry.SubjectIDType, &entry.SubjectIDValue, &entry.SubjectEntityID); err != nil {
			return nil, fmt.Errorf("scan queued assertion: %w", err)
		}

		entry.SourceID = model.SourceFromInt(sourceID)
		out = append(out, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued assertions: %w", err)
	}

	return out, nil
}

// HasAnyAssertion reports whether subjectEntityID already has at least one
// metadata assertion recorded, regardless of source. Used by the enricher
// to make ensure_metadata_assertion idempotent: if any assertion exists,
// the enricher is a no-op.
func (s *AssertionStore) HasAnyAssertion(ctx context.Context, subjectEntityID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM metadata_assertion WHERE subject_entity_id = $1)`

	var exists bool

	if err := s.db.QueryRowContext(ctx, query, subjectEntityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check existing assertions: %w", err)
	}

	return exists, nil
}

// HasAnyAssertionTx is HasAnyAssertion run within the caller's transaction,
// used by the enricher when it must check-then-insert atomically with the
// extractor's event persistence.
func (s *AssertionStore) HasAnyAssertionTx(ctx context.Context, tx *sql.Tx, subjectEntityID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM metadata_assertion WHERE subject_entity_id = $1)`

	var exists bool

	if err := tx.QueryRowContext(ctx, query, subjectEntityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check existing assertions: %w", err)
	}

	return exists, nil
}
