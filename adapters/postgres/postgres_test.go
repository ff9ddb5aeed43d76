package postgres

import (
	"fmt"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/estests"
)

// startPostgres runs one server per test and returns its admin URL.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}

	pgC, err := testcontainers.Run(
		t.Context(), "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "evstore",
			"POSTGRES_PASSWORD": "evstore",
			"POSTGRES_DB":       "evstore",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := pgC.PortEndpoint(t.Context(), "5432/tcp", "")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://evstore:evstore@%s/evstore?sslmode=disable", endpoint)
}

// freshDB creates an empty database on the server so every conformance
// subtest starts from a clean schema.
func freshDB(t *testing.T, adminURL string) *DB {
	t.Helper()
	admin, err := Open(t.Context(), adminURL, WithMaxConns(2))
	require.NoError(t, err)
	defer admin.Close()

	name := "t_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 12)
	_, err = admin.pool.Exec(t.Context(), "CREATE DATABASE "+name)
	require.NoError(t, err)

	db, err := Open(t.Context(), replaceDatabase(adminURL, name))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func replaceDatabase(url, name string) string {
	const suffix = "/evstore?sslmode=disable"
	return url[:len(url)-len(suffix)] + "/" + name + "?sslmode=disable"
}

func TestPostgres(t *testing.T) {
	url := startPostgres(t)

	t.Run("event log conformance", func(t *testing.T) {
		estests.RunEventLog(t, func(t *testing.T) es.EventLog { return freshDB(t, url).EventLog() })
	})

	t.Run("snapshot store conformance", func(t *testing.T) {
		estests.RunSnapshotStore(t, func(t *testing.T) es.SnapshotStore { return freshDB(t, url).SnapshotStore() })
	})

	t.Run("migrations are applied once", func(t *testing.T) {
		db := freshDB(t, url)
		again, err := Open(t.Context(), replaceDatabase(url, currentDatabase(t, db)))
		require.NoError(t, err)
		defer again.Close()

		var n int
		require.NoError(t, again.pool.QueryRow(t.Context(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
		require.Equal(t, 2, n)
	})

	t.Run("store integration", func(t *testing.T) {
		db := freshDB(t, url)
		s := es.StartTestStore(t, es.WithEventLog(db.EventLog()), es.WithSnapshotStore(db.SnapshotStore()))
		ctx := t.Context()

		res := s.StoreEvents(ctx, "order-1", []es.Event{
			es.MustEvent(map[string]any{"item": "book"}, es.WithEventType("ItemAdded")),
			es.MustEvent(map[string]any{"item": "pen"}, es.WithEventType("ItemAdded")),
			es.MustEvent(map[string]any{}, es.WithEventType("Checkout")),
		}, 0)
		require.True(t, res.Success, res.Error)
		require.Equal(t, es.Version(3), res.Version)

		res = s.StoreEvents(ctx, "order-1", []es.Event{es.MustEvent(1, es.WithEventType("Late"))}, 1)
		require.ErrorIs(t, res.Err, es.ErrConcurrencyConflict)

		require.True(t, s.CreateSnapshot(ctx, "order-1", es.SnapshotInput{Version: 3, Data: []byte(`{"items":2}`)}).Success)
		snap, err := s.GetSnapshot(ctx, "order-1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		require.Equal(t, es.Version(3), snap.Version)

		stream, err := s.GetEventStream(ctx, "order-1", es.StreamOptions{PageSize: 2})
		require.NoError(t, err)
		require.Len(t, stream.Events, 2)
		require.True(t, stream.HasMore)
		require.Equal(t, 3, stream.TotalCount)
		for _, e := range stream.Events {
			require.True(t, e.Verify())
		}

		require.NoError(t, s.RefreshStatistics(ctx))
		stats, err := s.GetStatistics(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 3, stats.EventCount)
		require.EqualValues(t, 1, stats.SnapshotCount)
		require.EqualValues(t, 2, stats.EventsByType["ItemAdded"])
	})
}

func currentDatabase(t *testing.T, db *DB) string {
	var name string
	require.NoError(t, db.pool.QueryRow(t.Context(), `SELECT current_database()`).Scan(&name))
	return name
}
