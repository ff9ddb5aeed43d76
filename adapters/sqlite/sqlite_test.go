package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/estests"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.Context(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestEventLog_Conformance(t *testing.T) {
	estests.RunEventLog(t, func(t *testing.T) es.EventLog { return openTestDB(t).EventLog() })
}

func TestSnapshotStore_Conformance(t *testing.T) {
	estests.RunSnapshotStore(t, func(t *testing.T) es.SnapshotStore { return openTestDB(t).SnapshotStore() })
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	db, err := Open(t.Context(), path)
	require.NoError(t, err)
	_, err = db.EventLog().Append(t.Context(), "agg", 0, estests.Batch("agg", 0, 2))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(t.Context(), path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.sqlDB.QueryRowContext(t.Context(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	require.Equal(t, 2, n)

	v, err := db.EventLog().Version(t.Context(), "agg")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), v)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(t.Context(), " ")
	require.Error(t, err)
}

func TestEventLog_WithStore(t *testing.T) {
	db := openTestDB(t)
	s := es.StartTestStore(t, es.WithEventLog(db.EventLog()), es.WithSnapshotStore(db.SnapshotStore()))
	ctx := t.Context()

	res := s.StoreEvents(ctx, "order-1", []es.Event{
		es.MustEvent(map[string]any{"item": "book"}, es.WithEventType("ItemAdded")),
		es.MustEvent(map[string]any{"item": "pen"}, es.WithEventType("ItemAdded")),
		es.MustEvent(map[string]any{}, es.WithEventType("Checkout")),
	}, 0)
	require.True(t, res.Success, res.Error)
	require.Equal(t, es.Version(3), res.Version)

	res = s.StoreEvents(ctx, "order-1", []es.Event{es.MustEvent(1, es.WithEventType("Late"))}, 2)
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, es.ErrConcurrencyConflict)

	require.True(t, s.CreateSnapshot(ctx, "order-1", es.SnapshotInput{Version: 3, Data: []byte(`{"items":2}`)}).Success)

	stream, err := s.GetEventStream(ctx, "order-1", es.StreamOptions{EventTypes: []string{"ItemAdded"}, SortOrder: es.SortDesc})
	require.NoError(t, err)
	require.Len(t, stream.Events, 2)
	require.Equal(t, es.Version(2), stream.Events[0].Version)
	for _, e := range stream.Events {
		require.True(t, e.Verify())
	}

	deleted, err := s.DeleteAggregate(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, deleted)

	snap, err := s.GetSnapshot(ctx, "order-1")
	require.NoError(t, err)
	require.Nil(t, snap)

	raw, err := s.RawEvents(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, raw, 3)
}
