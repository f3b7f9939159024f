package extractor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"

	"github.com/pardalotus/metabeak/internal/crossref"
	"github.com/pardalotus/metabeak/internal/identifier"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

// Enricher opportunistically records a Secondary metadata assertion for an
// entity an event references, so later extraction passes have something to
// decompose for that entity without the entity ever having been harvested
// directly. DOI-only: a no-op if the entity already has any assertion, and
// a fetch failure is logged and swallowed rather than failing the
// enclosing pump.
type Enricher struct {
	client     *crossref.Client
	assertions *storage.AssertionStore
	logger     *slog.Logger
}

// NewEnricher creates an enricher bound to the given Crossref client and
// assertion store.
func NewEnricher(client *crossref.Client, assertions *storage.AssertionStore, logger *slog.Logger) *Enricher {
	return &Enricher{client: client, assertions: assertions, logger: logger}
}

// EnsureMetadataAssertionTx fetches and records a Secondary assertion for
// entityID within tx, when idType/idValue is a DOI and the entity has no
// assertion recorded yet. Any other identifier kind, an existing assertion,
// or a fetch error is a no-op: enrichment is best-effort and must never
// block the event insert it accompanies.
func (e *Enricher) EnsureMetadataAssertionTx(ctx context.Context, tx *sql.Tx, entityID int64, idType, idValue string) {
	if idType != string(identifier.KindDOI) {
		return
	}

	exists, err := e.assertions.HasAnyAssertionTx(ctx, tx, entityID)
	if err != nil {
		e.logger.Warn("enrich: check existing assertions failed", "entity_id", entityID, "error", err)
		return
	}

	if exists {
		return
	}

	body, err := e.client.FetchWork(ctx, idValue)
	if err != nil {
		e.logger.Warn("enrich: fetch work failed", "doi", idValue, "error", err)
		return
	}

	hash := sha256.Sum256(body)
	contentHash := hex.EncodeToString(hash[:])

	if err := e.assertions.InsertTx(ctx, tx, entityID, model.SourceCrossref, model.ReasonSecondary, body, contentHash); err != nil {
		e.logger.Warn("enrich: insert secondary assertion failed", "entity_id", entityID, "error", err)
	}
}
