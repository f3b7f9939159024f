package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

// batchSize is the number of assertions dequeued per pump transaction.
const batchSize = 1000

// Pump drains one batch of queued assertions, decomposing each into events
// and persisting the results, all within a single transaction so a failure
// rolls the whole batch back to the queue rather than losing partial work.
// Identifier resolution runs outside that transaction, since entity
// resolution must survive a rollback.
type Pump struct {
	db         *sql.DB
	assertions *storage.AssertionStore
	entities   *storage.EntityStore
	events     *storage.EventStore
	registry   *Registry
	enricher   *Enricher
	logger     *slog.Logger
}

// NewPump creates a pump wired to the given stores, decomposer registry and
// enricher.
func NewPump(
	db *sql.DB,
	assertions *storage.AssertionStore,
	entities *storage.EntityStore,
	events *storage.EventStore,
	registry *Registry,
	enricher *Enricher,
	logger *slog.Logger,
) *Pump {
	return &Pump{
		db:         db,
		assertions: assertions,
		entities:   entities,
		events:     events,
		registry:   registry,
		enricher:   enricher,
		logger:     logger,
	}
}

// PumpOnce drains and decomposes up to one batch of queued assertions,
// returning the number of assertions it processed. A return value equal to
// batchSize signals more work may remain.
func (p *Pump) PumpOnce(ctx context.Context) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("pump begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	assertions, err := p.assertions.PollAssertions(ctx, tx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("pump poll assertions: %w", err)
	}

	for _, assertion := range assertions {
		decomposed, err := p.registry.Decompose(assertion)
		if err != nil {
			p.logger.Warn("pump: decompose failed, skipping assertion", "assertion_id", assertion.AssertionID, "error", err)
			continue
		}

		for _, de := range decomposed {
			if err := p.persistEvent(ctx, tx, assertion, de); err != nil {
				return 0, fmt.Errorf("pump persist event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("pump commit: %w", err)
	}

	return len(assertions), nil
}

// persistEvent resolves the event's subject and (if present) object
// identifiers to entity ids, opportunistically enriches each, and inserts
// the event within tx. Subject resolution is redundant with the harvester's
// own resolution of the same identifier, but repeating it here keeps the
// pump self-sufficient and idempotent if ever run over assertions the
// harvester didn't produce.
func (p *Pump) persistEvent(ctx context.Context, tx *sql.Tx, assertion storage.QueuedAssertion, de DecomposedEvent) error {
	subjectEntityID, err := p.entities.Resolve(ctx, assertion.SubjectIDType, assertion.SubjectIDValue)
	if err != nil {
		return fmt.Errorf("resolve subject identifier: %w", err)
	}

	p.enricher.EnsureMetadataAssertionTx(ctx, tx, subjectEntityID, assertion.SubjectIDType, assertion.SubjectIDValue)

	assertionID := assertion.AssertionID
	event := model.Event{
		AnalyzerID:      de.Analyzer,
		SourceID:        assertion.SourceID,
		SubjectEntityID: &subjectEntityID,
		AssertionID:     &assertionID,
		JSONBody:        de.JSONBody,
	}

	if de.ObjectIdentity != nil {
		objectEntityID, err := p.entities.Resolve(ctx, string(de.ObjectIdentity.Kind), de.ObjectIdentity.Value)
		if err != nil {
			return fmt.Errorf("resolve object identifier: %w", err)
		}

		p.enricher.EnsureMetadataAssertionTx(ctx, tx, objectEntityID, string(de.ObjectIdentity.Kind), de.ObjectIdentity.Value)

		event.ObjectEntityID = &objectEntityID
	}

	if _, err := p.events.Insert(ctx, tx, &event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// Drain repeatedly pumps batches until a batch comes back smaller than
// batchSize, meaning the queue is empty.
func (p *Pump) Drain(ctx context.Context) error {
	for {
		n, err := p.PumpOnce(ctx)
		if err != nil {
			return err
		}

		if n < batchSize {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
