package nats

import (
	"log/slog"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/es/estests"
)

func newTestEventLog(t *testing.T, connect Connector) *EventLog {
	suffix := gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 8)
	l, err := NewEventLog(EventLogConfig{
		Connect:       connect,
		Log:           slog.Default(),
		StreamName:    "test_" + suffix,
		SubjectPrefix: "test." + suffix,
		MemoryStorage: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func TestEventLog_Conformance(t *testing.T) {
	connect := StartTestServer(t)
	estests.RunEventLog(t, func(t *testing.T) es.EventLog { return newTestEventLog(t, connect) })
}

func TestKvSnapshotStore_Conformance(t *testing.T) {
	connect := StartTestServer(t)
	estests.RunSnapshotStore(t, func(t *testing.T) es.SnapshotStore {
		store, err := NewKvStore(KvConfig{
			Connect: connect,
			Bucket:  "snapshots_" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 8),
		})
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, store.Close()) })
		return es.NewKVSnapshotStore(store)
	})
}

func TestEventLog_WithStore(t *testing.T) {
	connect := StartTestServer(t)
	s := es.StartTestStore(t, es.WithEventLog(newTestEventLog(t, connect)))
	ctx := t.Context()

	res := s.StoreEvents(ctx, "order-1", []es.Event{
		es.MustEvent(map[string]int{"n": 1}, es.WithEventType("Placed")),
		es.MustEvent(map[string]int{"n": 2}, es.WithEventType("Paid")),
	}, 0)
	require.True(t, res.Success, res.Error)

	res = s.StoreEvents(ctx, "order-1", []es.Event{es.MustEvent(1, es.WithEventType("Shipped"))}, 1)
	require.ErrorIs(t, res.Err, es.ErrConcurrencyConflict)

	stream, err := s.GetEventStream(ctx, "order-1", es.StreamOptions{EventTypes: []string{"Paid"}})
	require.NoError(t, err)
	require.Len(t, stream.Events, 1)
	require.Equal(t, es.Version(2), stream.CurrentVersion)
	require.True(t, stream.Events[0].Verify())

	deleted, err := s.DeleteAggregate(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, deleted)

	exists, err := s.ExistsAggregate(ctx, "order-1")
	require.NoError(t, err)
	require.False(t, exists)

	raw, err := s.RawEvents(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, raw, 2)
	require.True(t, raw[0].Deleted)
}
