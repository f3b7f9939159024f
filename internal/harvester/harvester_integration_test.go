package harvester

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"context"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/pardalotus/metabeak/internal/config"
	"github.com/pardalotus/metabeak/internal/crossref"
)

func TestHarvester_RunIncrementalPersistsAndAdvancesCheckpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	var requestCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if atomic.AddInt32(&requestCount, 1) > 1 {
			_, _ = w.Write([]byte(`{"message":{"total-results":0,"next-cursor":"","items":[]}}`))
			return
		}

		indexed := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
		_, _ = fmt.Fprintf(w, `{
			"message": {
				"total-results": 1,
				"next-cursor": "next-page",
				"items": [
					{"DOI":"10.33262/exploradordigital.v8i4.3221","indexed":{"date-time":"%s"}}
				]
			}
		}`, indexed)
	}))

	defer server.Close()

	client := crossref.NewClient(server.Client(), nil).WithBaseURL(server.URL)
	h := New(client, testDB.Connection, nil)

	require.NoError(t, h.RunIncremental(ctx))

	cp, ok, err := h.checkpoints.Get(ctx, checkpointName)
	require.NoError(t, err)
	require.True(t, ok, "checkpoint must advance after a run with new items")
	require.True(t, cp.After(time.Now().UTC()), "checkpoint must reflect the future-dated indexed timestamp")

	entityID, err := h.entities.Resolve(ctx, "doi", "10.33262/exploradordigital.v8i4.3221")
	require.NoError(t, err)

	has, err := h.assertions.HasAnyAssertion(ctx, entityID)
	require.NoError(t, err)
	require.True(t, has, "harvested item must be persisted as a metadata assertion")
}

func TestHarvester_RunIncrementalNoNewItemsLeavesCheckpointUnset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"total-results":0,"next-cursor":"","items":[]}}`))
	}))
	defer server.Close()

	client := crossref.NewClient(server.Client(), nil).WithBaseURL(server.URL)
	h := New(client, testDB.Connection, nil)

	require.NoError(t, h.RunIncremental(ctx))

	_, ok, err := h.checkpoints.Get(ctx, checkpointName)
	require.NoError(t, err)
	require.False(t, ok, "a run with zero new items must leave the checkpoint unchanged (unset)")
}

func TestHarvester_JitterWindowItemsNeverMoveCheckpointBackwards(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	// An item indexed 30 minutes before the checkpoint lands inside the
	// one-hour jitter margin: it is harvested, but must not drag the
	// checkpoint backwards.
	cp := time.Now().UTC().Truncate(time.Second)
	jittered := cp.Add(-30 * time.Minute).Format(time.RFC3339)

	var requestCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if atomic.AddInt32(&requestCount, 1) > 1 {
			_, _ = w.Write([]byte(`{"message":{"total-results":0,"next-cursor":"","items":[]}}`))
			return
		}

		_, _ = fmt.Fprintf(w, `{
			"message": {
				"total-results": 1,
				"next-cursor": "next-page",
				"items": [
					{"DOI":"10.5555/late-arrival","indexed":{"date-time":"%s"}}
				]
			}
		}`, jittered)
	}))

	defer server.Close()

	client := crossref.NewClient(server.Client(), nil).WithBaseURL(server.URL)
	h := New(client, testDB.Connection, nil)

	require.NoError(t, h.checkpoints.Set(ctx, checkpointName, cp))
	require.NoError(t, h.RunIncremental(ctx))

	got, ok, err := h.checkpoints.Get(ctx, checkpointName)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(cp), "checkpoint moved from %v to %v", cp, got)

	// The jitter-window item itself was still persisted.
	entityID, err := h.entities.Resolve(ctx, "doi", "10.5555/late-arrival")
	require.NoError(t, err)

	has, err := h.assertions.HasAnyAssertion(ctx, entityID)
	require.NoError(t, err)
	require.True(t, has)
}
