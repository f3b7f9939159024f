package pipeline

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pardalotus/metabeak/internal/hydration"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

// Loader loads handlers and events from the local filesystem, for the
// --load-handlers and --load-events CLI flags. Every regular file in a
// directory is one handler (its whole content is the handler's code) or
// one JSON array of events respectively.
type Loader struct {
	db       *sql.DB
	handlers *storage.HandlerStore
	events   *storage.EventStore
	entities *storage.EntityStore
	logger   *slog.Logger
}

// NewLoader creates a loader bound to the given stores.
func NewLoader(db *sql.DB, handlers *storage.HandlerStore, events *storage.EventStore, entities *storage.EntityStore, logger *slog.Logger) *Loader {
	return &Loader{db: db, handlers: handlers, events: events, entities: entities, logger: logger}
}

// LoadHandlersFromDir reads every regular file under dir and inserts its
// content as a handler, owned by "local-load" to distinguish CLI-seeded
// handlers from ones uploaded over the API. Per-file failures are logged
// and skipped rather than aborting the whole directory.
func (l *Loader) LoadHandlersFromDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("load handlers from %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		code, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("load handlers: can't read file", "path", path, "error", err)
			continue
		}

		hash := sha256.Sum256(code)
		contentHash := hex.EncodeToString(hash[:])

		id, created, err := l.handlers.Insert(ctx, string(code), contentHash, "local-load")
		if err != nil {
			l.logger.Error("load handlers: failed to save", "path", path, "error", err)
			continue
		}

		if created {
			l.logger.Info("loaded handler from disk", "path", path, "handler_id", id)
		} else {
			l.logger.Info("handler already exists", "path", path, "handler_id", id)
		}
	}

	return nil
}

// LoadEventsFromDir reads every regular file under dir as a JSON array of
// hydrated event objects, dehydrating and inserting each one. All files in
// the directory are loaded within a single transaction. A file that cannot
// be read or parsed, or an event that fails to insert, is logged and
// skipped, and the remaining events are still committed.
func (l *Loader) LoadEventsFromDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("load events from %s: %w", dir, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("load events begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("load events: can't read file", "path", path, "error", err)
			continue
		}

		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			l.logger.Error("load events: file is not a JSON array", "path", path, "error", err)
			continue
		}

		for _, item := range items {
			if err := l.insertEvent(ctx, tx, item); err != nil {
				l.logger.Error("load events: didn't insert event from file", "path", path, "error", err)
			}
		}
	}

	return tx.Commit()
}

func (l *Loader) insertEvent(ctx context.Context, tx *sql.Tx, raw json.RawMessage) error {
	dehydrated, err := hydration.Dehydrate(raw)
	if err != nil {
		return err
	}

	event := model.Event{
		AnalyzerID: dehydrated.Analyzer,
		SourceID:   dehydrated.Source,
		JSONBody:   dehydrated.JSONBody,
	}

	if dehydrated.Subject != nil {
		id, err := l.entities.Resolve(ctx, string(dehydrated.Subject.Kind), dehydrated.Subject.Value)
		if err != nil {
			return fmt.Errorf("resolve subject: %w", err)
		}

		event.SubjectEntityID = &id
	}

	if dehydrated.Object != nil {
		id, err := l.entities.Resolve(ctx, string(dehydrated.Object.Kind), dehydrated.Object.Value)
		if err != nil {
			return fmt.Errorf("resolve object: %w", err)
		}

		event.ObjectEntityID = &id
	}

	_, err = l.events.Insert(ctx, tx, &event)

	return err
}
