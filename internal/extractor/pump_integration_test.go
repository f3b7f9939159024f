package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/crossref"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPump_DecomposesQueuedAssertionIntoEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	// Content-negotiation double for the enricher's secondary fetches.
	doiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.citationstyles.csl+json")
		_, _ = fmt.Fprintf(w, `{"DOI":%q,"title":"Referenced Work"}`, r.URL.Path[1:])
	}))
	defer doiServer.Close()

	client := crossref.NewClient(doiServer.Client(), discardLogger()).WithDOIBaseURL(doiServer.URL)

	entities := storage.NewEntityStore(testDB.Connection)
	assertions := storage.NewAssertionStore(testDB.Connection)
	events := storage.NewEventStore(testDB.Connection)

	registry := NewRegistry()
	registry.Register(model.SourceCrossref, CrossrefDecomposer{})

	enricher := NewEnricher(client, assertions, discardLogger())
	pump := NewPump(testDB.Connection, assertions, entities, events, registry, enricher, discardLogger())

	subjectID, err := entities.Resolve(ctx, "doi", "10.5555/12345678")
	require.NoError(t, err)

	body := []byte(`{
		"DOI": "10.5555/12345678",
		"author": [{"ORCID": "https://orcid.org/0009-0005-5061-2894"}],
		"reference": [{"DOI": "10.5555/87654321"}]
	}`)

	hash := sha256.Sum256(body)
	require.NoError(t, assertions.Insert(ctx, subjectID, model.SourceCrossref, model.ReasonPrimary, body, hex.EncodeToString(hash[:])))

	n, err := pump.PumpOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "one queued assertion must be processed")

	var queueDepth int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		`SELECT count(*) FROM metadata_assertion_queue`).Scan(&queueDepth))
	require.Zero(t, queueDepth, "processed assertion must leave the queue")

	// Lifecycle + Contribution + Reference.
	rows, err := testDB.Connection.QueryContext(ctx,
		`SELECT analyzer_id, subject_id, object_id FROM event ORDER BY id ASC`)
	require.NoError(t, err)

	defer func() { _ = rows.Close() }()

	type eventRow struct {
		analyzer int16
		subject  *int64
		object   *int64
	}

	var got []eventRow

	for rows.Next() {
		var row eventRow
		require.NoError(t, rows.Scan(&row.analyzer, &row.subject, &row.object))
		got = append(got, row)
	}

	require.NoError(t, rows.Err())
	require.Len(t, got, 3)

	require.Equal(t, int16(model.AnalyzerLifecycle), got[0].analyzer)
	require.NotNil(t, got[0].subject)
	require.Equal(t, subjectID, *got[0].subject)
	require.Nil(t, got[0].object, "lifecycle event carries no object")

	require.Equal(t, int16(model.AnalyzerContribution), got[1].analyzer)
	require.NotNil(t, got[1].object)

	orcidType, orcidValue, err := entities.Lookup(ctx, *got[1].object)
	require.NoError(t, err)
	require.Equal(t, "orcid", orcidType)
	require.Equal(t, "0009-0005-5061-2894", orcidValue)

	require.Equal(t, int16(model.AnalyzerReference), got[2].analyzer)
	require.NotNil(t, got[2].object)

	refType, refValue, err := entities.Lookup(ctx, *got[2].object)
	require.NoError(t, err)
	require.Equal(t, "doi", refType)
	require.Equal(t, "10.5555/87654321", refValue)

	// Each event was enqueued for execution.
	var eventQueueDepth int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		`SELECT count(*) FROM event_queue`).Scan(&eventQueueDepth))
	require.Equal(t, 3, eventQueueDepth)

	// The referenced DOI had no assertion yet, so the enricher fetched one.
	var secondaryCount int
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		`SELECT count(*) FROM metadata_assertion WHERE subject_entity_id = $1 AND reason = 'secondary'`,
		*got[2].object).Scan(&secondaryCount))
	require.Equal(t, 1, secondaryCount, "referenced DOI must gain a secondary assertion")

	// Secondary assertions never enqueue extraction work.
	require.NoError(t, testDB.Connection.QueryRowContext(ctx,
		`SELECT count(*) FROM metadata_assertion_queue`).Scan(&queueDepth))
	require.Zero(t, queueDepth)
}

func TestPump_EmptyQueueProcessesNothing(t *testing.T) {
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
	assertions := storage.NewAssertionStore(testDB.Connection)
	events := storage.NewEventStore(testDB.Connection)

	registry := NewRegistry()
	registry.Register(model.SourceCrossref, CrossrefDecomposer{})

	client := crossref.NewClient(nil, discardLogger())
	pump := NewPump(testDB.Connection, assertions, entities, events, registry,
		NewEnricher(client, assertions, discardLogger()), discardLogger())

	n, err := pump.PumpOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, pump.Drain(ctx))
}
