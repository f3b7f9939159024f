package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pardalotus/metabeak/internal/model"
)

// EventStore persists events produced by the extractor and drains the
// event queue that feeds the sandbox runtime.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an event store bound to the given database.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Insert records one event within the caller's transaction and enqueues it
// for execution. Events are immutable and never deleted once inserted;
// only the queue row is consumed on dequeue.
func (s *EventStore) Insert(ctx context.Context, tx *sql.Tx, e *model.Event) (int64, error) {
	const insert = `
		INSERT INTO event (analyzer_id, source_id, subject_id, object_id, assertion_id, json_body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64

	err := tx.QueryRowContext(ctx, insert,
		int16(e.AnalyzerID), int16(e.SourceID), e.SubjectEntityID, e.ObjectEntityID, e.AssertionID, []byte(e.JSONBody),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	const enqueue = `INSERT INTO event_queue (event_id) VALUES ($1)`
	if _, err := tx.ExecContext(ctx, enqueue, id); err != nil {
		return 0, fmt.Errorf("enqueue event: %w", err)
	}

	return id, nil
}

// QueuedEvent is one row dequeued from the event queue.
type QueuedEvent struct {
	Event model.Event
}

// PollEvents dequeues up to limit events within tx in FIFO order
// (ordered by queue_id, oldest first), using SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent workers never contend for the same rows, deleting
// the dequeued queue rows as part of the same statement. A rolled-back tx
// restores the deleted rows, giving at-least-once delivery.
func (s *EventStore) PollEvents(ctx context.Context, tx *sql.Tx, limit int) ([]QueuedEvent, error) {
	const query = `
		WITH events AS (
			SELECT
				event_queue.queue_id AS queue_id,
				event.id AS id,
				event.analyzer_id AS analyzer_id,
				event.source_id AS source_id,
				event.subject_id AS subject_id,
				event.object_id AS object_id,
				event.assertion_id AS assertion_id,
				event.json_body AS json_body,
				event.created_at AS created_at
			FROM event_queue
			JOIN event ON event_queue.event_id = event.id
			ORDER BY event_queue.queue_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		),
		deleted AS (
			DELETE FROM event_queue
			WHERE queue_id IN (SELECT queue_id FROM events)
		)
		SELECT id, analyzer_id, source_id, subject_id, object_id, assertion_id, json_body, created_at
		FROM events
		ORDER BY queue_id ASC
	`

	rows, err := tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("poll events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueuedEvent

	for rows.Next() {
		var (
			qe         QueuedEvent
			analyzerID int16
			sourceID   int16
			jsonBody   []byte
		)

		if err := rows.Scan(&qe.Event.ID, &analyzerID, &sourceID, &qe.Event.SubjectEntityID, &qe.Event.ObjectEntityID, &qe.Event.AssertionID, &jsonBody, &qe.Event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queued event: %w", err)
		}

		qe.Event.AnalyzerID = model.AnalyzerFromInt(analyzerID)
		qe.Event.SourceID = model.SourceFromInt(sourceID)
		qe.Event.JSONBody = jsonBody
		out = append(out, qe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued events: %w", err)
	}

	return out, nil
}
