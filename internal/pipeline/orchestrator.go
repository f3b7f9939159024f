package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pardalotus/metabeak/internal/crossref"
	"github.com/pardalotus/metabeak/internal/extractor"
	"github.com/pardalotus/metabeak/internal/harvester"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/sandbox"
	"github.com/pardalotus/metabeak/internal/storage"
)

// Orchestrator wires the harvester, extractor and sandbox executor to a
// shared database pool and exposes the operations the CLI drives in
// fixed pipeline order.
type Orchestrator struct {
	db        *sql.DB
	harvester *harvester.Harvester
	pump      *extractor.Pump
	executor  *Executor
	loader    *Loader
	config    Config
	logger    *slog.Logger
}

// New wires every store, service and the sandbox watchdog needed to run
// the pipeline, from a single database connection pool and Crossref
// client.
func New(db *sql.DB, crossrefClient *crossref.Client, cfg Config, logger *slog.Logger) *Orchestrator {
	entities := storage.NewEntityStore(db)
	assertions := storage.NewAssertionStore(db)
	events := storage.NewEventStore(db)
	handlers := storage.NewHandlerStore(db)
	results := storage.NewExecutionResultStore(db)

	registry := extractor.NewRegistry()
	registry.Register(model.SourceCrossref, extractor.CrossrefDecomposer{})

	enricher := extractor.NewEnricher(crossrefClient, assertions, logger)
	pump := extractor.NewPump(db, assertions, entities, events, registry, enricher, logger)

	watchdog := sandbox.NewWatchdog(logger)
	executor := NewExecutor(db, events, handlers, results, entities, watchdog, cfg, logger)

	loader := NewLoader(db, handlers, events, entities, logger)

	h := harvester.New(crossrefClient, db, logger)

	return &Orchestrator{
		db:        db,
		harvester: h,
		pump:      pump,
		executor:  executor,
		loader:    loader,
		config:    cfg,
		logger:    logger,
	}
}

// LoadHandlers runs the --load-handlers operation.
func (o *Orchestrator) LoadHandlers(ctx context.Context, dir string) error {
	return o.loader.LoadHandlersFromDir(ctx, dir)
}

// LoadEvents runs the --load-events operation.
func (o *Orchestrator) LoadEvents(ctx context.Context, dir string) error {
	return o.loader.LoadEventsFromDir(ctx, dir)
}

// FetchCrossref runs the checkpointed incremental harvest.
func (o *Orchestrator) FetchCrossref(ctx context.Context) error {
	return o.harvester.RunIncremental(ctx)
}

// FetchCrossrefSecondary runs a non-stopping bulk scan against filter,
// recording every matching work as a Secondary assertion.
func (o *Orchestrator) FetchCrossrefSecondary(ctx context.Context, filter string) error {
	_, err := o.harvester.RunBulkScan(ctx, filter)
	return err
}

// Extract drains the assertion queue using ExtractFanout concurrent
// drain workers sharing the same database pool. Skip-locked polling
// keeps the workers from contending on the same queue rows.
func (o *Orchestrator) Extract(ctx context.Context) error {
	fanout := o.config.ExtractFanout
	if fanout < 1 {
		fanout = 1
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i := 0; i < fanout; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := o.pump.Drain(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()

				o.logger.Error("extract worker failed", "error", err)
			}
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("extract: %w", firstErr)
	}

	return nil
}

// Execute drains the event queue, running every enabled handler against
// each batch until the queue is empty.
func (o *Orchestrator) Execute(ctx context.Context) error {
	return o.executor.Drain(ctx)
}
