package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/model"
)

func TestAssertionStore_InsertAndPollIsFIFO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	entities := NewEntityStore(testDB.Connection)
	assertions := NewAssertionStore(testDB.Connection)

	subjectID, err := entities.Resolve(ctx, "doi", "10.1017/cbo9780511806223")
	require.NoError(t, err)

	for i, hash := range []string{"hash-one", "hash-two", "hash-three"} {
		err := assertions.Insert(ctx, subjectID, model.SourceCrossref, model.ReasonPrimary,
			[]byte(`{"n":`+string(rune('0'+i))+`}`), hash)
		require.NoError(t, err)
	}

	// Re-inserting with a duplicate hash must be a no-op: no extra queue row.
	err = assertions.Insert(ctx, subjectID, model.SourceCrossref, model.ReasonPrimary, []byte(`{"n":0}`), "hash-one")
	require.NoError(t, err)

	tx, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	batch, err := assertions.PollAssertions(ctx, tx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3, "duplicate insert must not have enqueued a second time")

	for _, a := range batch {
		require.Equal(t, model.SourceCrossref, a.SourceID)
		require.Equal(t, subjectID, a.SubjectEntityID)
	}

	require.NoError(t, tx.Commit())

	has, err := assertions.HasAnyAssertion(ctx, subjectID)
	require.NoError(t, err)
	require.True(t, has)
}

func TestAssertionStore_RolledBackPollReturnsToQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	entities := NewEntityStore(testDB.Connection)
	assertions := NewAssertionStore(testDB.Connection)

	subjectID, err := entities.Resolve(ctx, "orcid", "0009-0005-5061-2894")
	require.NoError(t, err)

	require.NoError(t, assertions.Insert(ctx, subjectID, model.SourceCrossref, model.ReasonPrimary, []byte(`{}`), "rollback-hash"))

	tx1, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)

	batch, err := assertions.PollAssertions(ctx, tx1, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, tx1.Rollback())

	tx2, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback() }()

	batch2, err := assertions.PollAssertions(ctx, tx2, 10)
	require.NoError(t, err)
	require.Len(t, batch2, 1, "rolled-back poll must return the assertion to the queue")
}
