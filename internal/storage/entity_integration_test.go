package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
)

func TestEntityStore_ResolveIdempotentUnderConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store := NewEntityStore(testDB.Connection)

	const callers = 100

	ids := make([]int64, callers)

	var wg sync.WaitGroup

	for i := range callers {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			id, err := store.Resolve(ctx, "doi", "10.5555/12345678")
			require.NoError(t, err)

			ids[i] = id
		}(i)
	}

	wg.Wait()

	first := ids[0]
	for _, id := range ids {
		require.Equal(t, first, id)
	}

	var count int
	err := testDB.Connection.QueryRowContext(ctx,
		`SELECT count(*) FROM entity WHERE identifier_type = 'doi' AND identifier_value = '10.5555/12345678'`,
	).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestEntityStore_ResolveSurvivesCallerRollback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store := NewEntityStore(testDB.Connection)

	id, err := store.Resolve(ctx, "orcid", "0009-0005-5061-2894")
	require.NoError(t, err)

	tx, err := testDB.Connection.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `INSERT INTO metadata_assertion (subject_entity_id, source_id, reason, json_body, content_hash) VALUES ($1, 1, 'primary', '{}', 'will-be-rolled-back')`, id)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	idAgain, err := store.Resolve(ctx, "orcid", "0009-0005-5061-2894")
	require.NoError(t, err)
	require.Equal(t, id, idAgain, "resolved id must survive the caller's rollback")
}
