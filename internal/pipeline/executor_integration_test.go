package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/sandbox"
	"github.com/pardalotus/metabeak/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		ExtractFanout:      1,
		ExecuteBatchSize:   100,
		SandboxLoadTimeout: 100 * time.Millisecond,
		SandboxExecTimeout: 100 * time.Millisecond,
		SandboxEnvironment: "test",
		SandboxVersion:     "dev",
	}
}

func TestExecutor_RunsEnabledHandlerAgainstQueuedEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	entities := storage.NewEntityStore(testDB.Connection)
	events := storage.NewEventStore(testDB.Connection)
	handlers := storage.NewHandlerStore(testDB.Connection)
	results := storage.NewExecutionResultStore(testDB.Connection)

	handlerID, created, err := handlers.Insert(ctx,
		`function f(e){return [{seen: e.analyzer, subject: e.subject_id}]}`,
		"echo-handler-hash", "test")
	require.NoError(t, err)
	require.True(t, created)

	subjectID, err := entities.Resolve(ctx, "doi", "10.5555/12345678")
	require.NoError(t, err)

	tx, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)

	eventID, err := events.Insert(ctx, tx, &model.Event{
		AnalyzerID:      model.AnalyzerLifecycle,
		SourceID:        model.SourceCrossref,
		SubjectEntityID: &subjectID,
		JSONBody:        json.RawMessage(`{"type":"indexed"}`),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	watchdog := sandbox.NewWatchdog(discardLogger())
	executor := NewExecutor(testDB.Connection, events, handlers, results, entities, watchdog, testConfig(), discardLogger())

	n, err := executor.ExecuteOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	page, err := results.ListByHandler(ctx, handlerID, 0, 10, true)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, eventID, page[0].EventID)
	require.Nil(t, page[0].Error)

	var output struct {
		Seen    string `json:"seen"`
		Subject string `json:"subject"`
	}
	require.NoError(t, json.Unmarshal(page[0].Output, &output))
	require.Equal(t, "lifecycle", output.Seen, "handler must see the hydrated analyzer name")
	require.Equal(t, "10.5555/12345678", output.Subject, "handler must see the hydrated subject id")

	var queueDepth int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		`SELECT count(*) FROM event_queue`).Scan(&queueDepth))
	require.Zero(t, queueDepth, "executed event must leave the queue")

	// A second pass finds nothing to do and records nothing new.
	n, err = executor.ExecuteOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	page, err = results.ListByHandler(ctx, handlerID, 0, 10, true)
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestExecutor_HandlerErrorIsRecordedNotFatal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	entities := storage.NewEntityStore(testDB.Connection)
	events := storage.NewEventStore(testDB.Connection)
	handlers := storage.NewHandlerStore(testDB.Connection)
	results := storage.NewExecutionResultStore(testDB.Connection)

	handlerID, _, err := handlers.Insert(ctx, `function f(e){throw new Error("boom")}`, "throwing-handler-hash", "test")
	require.NoError(t, err)

	subjectID, err := entities.Resolve(ctx, "doi", "10.5555/1")
	require.NoError(t, err)

	tx, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)

	eventID, err := events.Insert(ctx, tx, &model.Event{
		AnalyzerID:      model.AnalyzerLifecycle,
		SourceID:        model.SourceCrossref,
		SubjectEntityID: &subjectID,
		JSONBody:        json.RawMessage(`{"type":"indexed"}`),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	watchdog := sandbox.NewWatchdog(discardLogger())
	executor := NewExecutor(testDB.Connection, events, handlers, results, entities, watchdog, testConfig(), discardLogger())

	n, err := executor.ExecuteOnce(ctx)
	require.NoError(t, err, "a throwing handler must not fail the batch")
	require.Equal(t, 1, n)

	// The error page includes the failure; the success page doesn't.
	debug, err := results.ListByHandler(ctx, handlerID, 0, 10, true)
	require.NoError(t, err)
	require.Len(t, debug, 1)
	require.Equal(t, eventID, debug[0].EventID)
	require.NotNil(t, debug[0].Error)
	require.Contains(t, *debug[0].Error, "boom")

	successes, err := results.ListByHandler(ctx, handlerID, 0, 10, false)
	require.NoError(t, err)
	require.Empty(t, successes)
}
