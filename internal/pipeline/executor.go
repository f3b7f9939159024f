package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pardalotus/metabeak/internal/hydration"
	"github.com/pardalotus/metabeak/internal/identifier"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/sandbox"
	"github.com/pardalotus/metabeak/internal/storage"
)

// Executor drains the event queue and runs every enabled handler against
// the drained batch, all within one transaction per batch: poll events,
// snapshot the enabled handler set, run each handler over the batch,
// persist results, commit. A failure to poll, load handlers, persist
// results or commit rolls the whole batch back to the queue rather than
// losing or double-running results. An event that fails to hydrate is
// logged and skipped: it leaves the queue with the batch and gets no results.
type Executor struct {
	db       *sql.DB
	events   *storage.EventStore
	handlers *storage.HandlerStore
	results  *storage.ExecutionResultStore
	entities *storage.EntityStore
	watchdog *sandbox.Watchdog
	config   Config
	logger   *slog.Logger
}

// NewExecutor creates an executor wired to the given stores and sandbox
// watchdog.
func NewExecutor(
	db *sql.DB,
	events *storage.EventStore,
	handlers *storage.HandlerStore,
	results *storage.ExecutionResultStore,
	entities *storage.EntityStore,
	watchdog *sandbox.Watchdog,
	config Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		db:       db,
		events:   events,
		handlers: handlers,
		results:  results,
		entities: entities,
		watchdog: watchdog,
		config:   config,
		logger:   logger,
	}
}

// ExecuteOnce drains up to ExecuteBatchSize events, runs every enabled
// handler against them, and persists the results, returning the number of
// events processed. A return value equal to ExecuteBatchSize signals more
// work may remain.
func (e *Executor) ExecuteOnce(ctx context.Context) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("execute begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	queued, err := e.events.PollEvents(ctx, tx, e.config.ExecuteBatchSize)
	if err != nil {
		return 0, fmt.Errorf("execute poll events: %w", err)
	}

	handlers, err := e.handlers.AllEnabled(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("execute list enabled handlers: %w", err)
	}

	inputs := make([]sandbox.Event, 0, len(queued))

	for _, qe := range queued {
		body, err := e.hydrate(ctx, qe.Event)
		if err != nil {
			e.logger.Warn("execute: hydrate event failed, skipping", "event_id", qe.Event.ID, "error", err)
			continue
		}

		inputs = append(inputs, sandbox.Event{EventID: qe.Event.ID, JSONBody: body})
	}

	env := sandbox.Environment{Environment: e.config.SandboxEnvironment, Version: e.config.SandboxVersion}
	runner := sandbox.NewRunner(e.watchdog, sandbox.Config{
		LoadTimeout:      e.config.SandboxLoadTimeout,
		ExecutionTimeout: e.config.SandboxExecTimeout,
	}, env, e.logger)

	var toSave []model.ExecutionResult

	for _, h := range handlers {
		for _, r := range runner.RunAll(h.ID, h.Code, inputs) {
			toSave = append(toSave, toModelResult(h.ID, r))
		}
	}

	if err := e.results.SaveResults(ctx, tx, toSave); err != nil {
		return 0, fmt.Errorf("execute save results: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("execute commit: %w", err)
	}

	return len(queued), nil
}

// hydrate reconstructs the full JSON body a handler receives for one
// event, resolving its subject/object entity ids back to their canonical
// identifier form. Lookups run outside the caller's transaction: they are
// read-only and the entity rows they read were committed by a prior pump.
func (e *Executor) hydrate(ctx context.Context, event model.Event) ([]byte, error) {
	subject, err := e.lookupIdentified(ctx, event.SubjectEntityID)
	if err != nil {
		return nil, fmt.Errorf("lookup subject: %w", err)
	}

	object, err := e.lookupIdentified(ctx, event.ObjectEntityID)
	if err != nil {
		return nil, fmt.Errorf("lookup object: %w", err)
	}

	return hydration.Hydrate(event, subject, object)
}

func (e *Executor) lookupIdentified(ctx context.Context, entityID *int64) (*hydration.Identified, error) {
	if entityID == nil {
		return nil, nil
	}

	idType, idValue, err := e.entities.Lookup(ctx, *entityID)
	if err != nil {
		return nil, err
	}

	return &hydration.Identified{Kind: identifier.Kind(idType), Value: idValue}, nil
}

// Drain repeatedly executes batches until a batch comes back smaller than
// ExecuteBatchSize, meaning the event queue is empty.
func (e *Executor) Drain(ctx context.Context) error {
	for {
		n, err := e.ExecuteOnce(ctx)
		if err != nil {
			return err
		}

		if n < e.config.ExecuteBatchSize {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func toModelResult(handlerID int64, r sandbox.Result) model.ExecutionResult {
	result := model.ExecutionResult{HandlerID: handlerID, EventID: r.EventID}

	if r.Error != "" {
		errCopy := r.Error
		result.Error = &errCopy
	} else {
		result.Output = r.Output
	}

	return result
}
