// Package harvester implements metabeak's checkpointed, incremental
// ingestion from the Crossref works API into deduplicated metadata
// assertions.
package harvester

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pardalotus/metabeak/internal/crossref"
	"github.com/pardalotus/metabeak/internal/identifier"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

// checkpointName is the key under which the incremental harvester's
// high-water mark is stored.
const checkpointName = "crossref-not-before"

const pageSize = 1000

// Harvester pulls records from Crossref and persists them as Primary
// metadata assertions.
type Harvester struct {
	client      *crossref.Client
	db          *sql.DB
	entities    *storage.EntityStore
	assertions  *storage.AssertionStore
	checkpoints *storage.CheckpointStore
	logger      *slog.Logger
}

// New creates a Harvester wired to the given database and Crossref client.
func New(client *crossref.Client, db *sql.DB, logger *slog.Logger) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}

	return &Harvester{
		client:      client,
		db:          db,
		entities:    storage.NewEntityStore(db),
		assertions:  storage.NewAssertionStore(db),
		checkpoints: storage.NewCheckpointStore(db),
		logger:      logger,
	}
}

// RunIncremental fetches every Crossref work indexed since the last
// checkpoint (with a one-hour jitter margin), persisting each as a Primary
// assertion, and advances the checkpoint to the latest index date seen.
// On a run that sees zero new items, or that fails outright, the
// checkpoint is left unchanged so the next run retries the same window.
func (h *Harvester) RunIncremental(ctx context.Context) error {
	cp, ok, err := h.checkpoints.Get(ctx, checkpointName)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	after := time.Now().UTC()
	if ok {
		after = cp
	}

	after = after.Add(-time.Hour)

	latest, itemCount, err := h.harvestIndexedSince(ctx, after)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}

	if itemCount == 0 {
		h.logger.Info("incremental harvest saw no new items", slog.Time("after", after))
		return nil
	}

	// The jitter window means a run can see only items indexed before the
	// current checkpoint; never move it backwards for those.
	if ok && !latest.After(cp) {
		h.logger.Info("incremental harvest saw only items inside the jitter window", slog.Int("items", itemCount))
		return nil
	}

	if err := h.checkpoints.Set(ctx, checkpointName, latest); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}

	h.logger.Info("incremental harvest complete", slog.Int("items", itemCount), slog.Time("latest", latest))

	return nil
}

// harvestIndexedSince pages through Crossref results indexed after the
// given time, truncated to day granularity per the API's constraint, and
// returns the latest index date seen and how many items were kept.
// Items arrive from a producer goroutine over a bounded channel and are
// consumed here, so HTTP fetch latency and DB write latency don't
// serialize.
func (h *Harvester) harvestIndexedSince(ctx context.Context, after time.Time) (time.Time, int, error) {
	fromIndexDate := after.AddDate(0, 0, -1).Format("2006-01-02")
	filter := "from-index-date:" + fromIndexDate

	items := make(chan []byte, pageSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		defer close(items)

		cursor := "*"

		for {
			page, err := h.client.FetchFilteredPage(ctx, filter, pageSize, cursor)
			if err != nil {
				errCh <- err
				return
			}

			if len(page.Items) == 0 {
				errCh <- nil
				return
			}

			kept := 0

			for _, raw := range page.Items {
				indexed, ok := crossref.IndexDate(raw)
				if !ok || !indexed.After(after) {
					continue
				}

				kept++

				select {
				case items <- raw:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}

			if kept == 0 {
				errCh <- nil
				return
			}

			cursor = page.NextCursor
		}
	}()

	latest := after
	count := 0

	for raw := range items {
		indexed, ok := crossref.IndexDate(raw)
		if ok && indexed.After(latest) {
			latest = indexed
		}

		if err := h.persistItem(ctx, raw); err != nil {
			h.logger.Error("failed to persist harvested item", slog.String("error", err.Error()))
			continue
		}

		count++
	}

	if err := <-errCh; err != nil {
		return after, count, err
	}

	return latest, count, nil
}

type crossrefItem struct {
	DOI string `json:"DOI"`
}

// persistItem resolves the work's DOI to an entity id and records the raw
// item body as a Primary metadata assertion, deduplicated by content hash.
func (h *Harvester) persistItem(ctx context.Context, raw []byte) error {
	var parsed crossrefItem
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.DOI == "" {
		return fmt.Errorf("item missing DOI field")
	}

	id := identifier.ParseDOI(parsed.DOI)

	entityID, err := h.entities.Resolve(ctx, string(id.Kind), id.Value)
	if err != nil {
		return fmt.Errorf("resolve entity: %w", err)
	}

	hash := sha256.Sum256(raw)
	contentHash := hex.EncodeToString(hash[:])

	return h.assertions.Insert(ctx, entityID, model.SourceCrossref, model.ReasonPrimary, raw, contentHash)
}

// RunBulkScan walks the entire result set matching a caller-supplied
// filter string, persisting every item as a Secondary assertion. Unlike
// RunIncremental it does not stop early on a timestamp cutoff and never
// triggers downstream event extraction directly — secondary assertions
// enrich entities without re-queuing work.
func (h *Harvester) RunBulkScan(ctx context.Context, filter string) (int, error) {
	cursor := "*"
	count := 0

	for {
		page, err := h.client.FetchUnsortedPage(ctx, filter, pageSize, cursor)
		if err != nil {
			return count, fmt.Errorf("fetch bulk page: %w", err)
		}

		if len(page.Items) == 0 {
			return count, nil
		}

		for _, raw := range page.Items {
			if err := h.persistSecondary(ctx, raw); err != nil {
				h.logger.Error("failed to persist bulk-scanned item", slog.String("error", err.Error()))
				continue
			}

			count++
		}

		cursor = page.NextCursor
	}
}

func (h *Harvester) persistSecondary(ctx context.Context, raw []byte) error {
	var parsed crossrefItem
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.DOI == "" {
		return fmt.Errorf("item missing DOI field")
	}

	id := identifier.ParseDOI(parsed.DOI)

	entityID, err := h.entities.Resolve(ctx, string(id.Kind), id.Value)
	if err != nil {
		return fmt.Errorf("resolve entity: %w", err)
	}

	hash := sha256.Sum256(raw)
	contentHash := hex.EncodeToString(hash[:])

	return h.assertions.Insert(ctx, entityID, model.SourceCrossref, model.ReasonSecondary, raw, contentHash)
}
