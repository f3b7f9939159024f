package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/model"
)

func TestHandlerStore_InsertIsIdempotentOnContentHash(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	handlers := NewHandlerStore(testDB.Connection)

	code := `function f(a){return [{r:"one"},{r:"two"},{r:"three"}]}`

	id1, created1, err := handlers.Insert(ctx, code, "same-hash", "owner-1")
	require.NoError(t, err)
	require.True(t, created1)

	id2, created2, err := handlers.Insert(ctx, code, "same-hash", "owner-1")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, id1, id2)

	h, err := handlers.Get(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, model.HandlerStatusEnabled, h.Status)

	all, err := handlers.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestExecutionResultStore_SaveAndPaginate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	handlers := NewHandlerStore(testDB.Connection)
	results := NewExecutionResultStore(testDB.Connection)

	handlerID, _, err := handlers.Insert(ctx, "function f(a){return []}", "results-hash", "owner-1")
	require.NoError(t, err)

	errMsg := "handler didn't return a JSON-serializable array"

	tx, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, results.SaveResults(ctx, tx, []model.ExecutionResult{
		{HandlerID: handlerID, EventID: 4321, Output: []byte(`[{"r":"one"}]`)},
		{HandlerID: handlerID, EventID: -1, Error: &errMsg},
	}))
	require.NoError(t, tx.Commit())

	successesOnly, err := results.ListByHandler(ctx, handlerID, 0, 1000, false)
	require.NoError(t, err)
	require.Len(t, successesOnly, 1)
	require.Equal(t, int64(4321), successesOnly[0].EventID)

	withErrors, err := results.ListByHandler(ctx, handlerID, 0, 1000, true)
	require.NoError(t, err)
	require.Len(t, withErrors, 2)
}
