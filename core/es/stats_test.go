package es

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeStatistics(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := func(agg, typ, tenant string, age time.Duration, payload string) EventRecord {
		return EventRecord{
			AggregateID: agg,
			Type:        typ,
			TenantID:    tenant,
			Payload:     []byte(payload),
			CreatedAt:   now.Add(-age),
		}
	}
	records := []EventRecord{
		rec("a", "Created", "t1", time.Minute, `{"x":1}`),
		rec("a", "Updated", "t1", 2*time.Hour, `{"x":22}`),
		rec("b", "Created", "t2", 3*24*time.Hour, `{}`),
		rec("c", "Created", "", 30*24*time.Hour, `{"y":"zz"}`),
	}
	deleted := rec("d", "Created", "t1", time.Minute, `{"gone":true}`)
	deleted.Deleted = true
	records = append(records, deleted)

	s := computeStatistics(records, 4, now)

	require.EqualValues(t, 4, s.EventCount)
	require.EqualValues(t, 3, s.AggregateCount)
	require.EqualValues(t, 4, s.SnapshotCount)
	require.EqualValues(t, 7+8+2+10, s.StorageBytes)
	require.InDelta(t, 27.0/4, s.AverageEventSize, 0.0001)
	require.Equal(t, map[string]int64{"Created": 3, "Updated": 1}, s.EventsByType)
	require.Equal(t, map[string]int64{"t1": 2, "t2": 1}, s.EventsByTenant)
	require.EqualValues(t, 1, s.EventsLastHour)
	require.EqualValues(t, 2, s.EventsLastDay)
	require.EqualValues(t, 3, s.EventsLastWeek)
	require.Equal(t, now, s.LastUpdated)
}

func TestStatistics_CloneIsDeep(t *testing.T) {
	c := newStatsCollector()
	c.recordAppend([]EventRecord{{Type: "A", Payload: []byte(`1`), CreatedAt: time.Now()}}, true, time.Now())

	got := c.get()
	got.EventsByType["A"] = 100

	require.EqualValues(t, 1, c.get().EventsByType["A"])
}

func TestStatsCollector_SnapshotsNeverNegative(t *testing.T) {
	c := newStatsCollector()
	c.recordSnapshots(2, time.Now())
	c.recordSnapshots(-5, time.Now())
	require.Zero(t, c.get().SnapshotCount)
}

func TestStore_Statistics_TrackAppends(t *testing.T) {
	s := StartTestStore(t)
	ctx := WithCaller(t.Context(), Caller{TenantID: "acme"})

	require.True(t, s.StoreEvents(ctx, "a", events(2), 0).Success)
	require.True(t, s.StoreEvents(ctx, "a", events(1), 2).Success)
	require.True(t, s.StoreEvents(ctx, "b", events(1), 0).Success)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.EventCount)
	require.EqualValues(t, 2, stats.AggregateCount)
	require.EqualValues(t, 4, stats.EventsByType["OrderPlaced"])
	require.EqualValues(t, 4, stats.EventsByTenant["acme"])
	require.Positive(t, stats.StorageBytes)

	// a full refresh agrees with the incremental counters
	require.NoError(t, s.RefreshStatistics(ctx))
	refreshed, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, stats.EventCount, refreshed.EventCount)
	require.Equal(t, stats.AggregateCount, refreshed.AggregateCount)
	require.Equal(t, stats.StorageBytes, refreshed.StorageBytes)
	require.Equal(t, stats.EventsByType, refreshed.EventsByType)
}

func TestStatsCollector_RecordDelete(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := func(agg, typ string, age time.Duration) EventRecord {
		return EventRecord{AggregateID: agg, Type: typ, TenantID: "t1", Payload: []byte(`{}`), CreatedAt: now.Add(-age)}
	}
	gone := []EventRecord{rec("a", "Created", time.Minute), rec("a", "Updated", 2*time.Hour)}
	kept := rec("b", "Created", 3*24*time.Hour)

	c := newStatsCollector()
	c.recordAppend(gone, true, now)
	c.recordAppend([]EventRecord{kept}, true, now)
	c.recordSnapshots(3, now)

	tombstoned := rec("a", "Created", time.Minute)
	tombstoned.Deleted = true
	c.recordDelete(append(gone, tombstoned), 2, now)

	got := c.get()
	want := computeStatistics([]EventRecord{kept}, 1, now)
	require.Equal(t, want.EventCount, got.EventCount)
	require.Equal(t, want.AggregateCount, got.AggregateCount)
	require.Equal(t, want.SnapshotCount, got.SnapshotCount)
	require.Equal(t, want.StorageBytes, got.StorageBytes)
	require.Equal(t, want.EventsByType, got.EventsByType)
	require.Equal(t, want.EventsByTenant, got.EventsByTenant)
	require.Equal(t, want.EventsLastHour, got.EventsLastHour)
	require.Equal(t, want.EventsLastDay, got.EventsLastDay)
	require.Equal(t, want.EventsLastWeek, got.EventsLastWeek)

	// a delete of an aggregate with no live events leaves the counts alone
	c.recordDelete([]EventRecord{tombstoned}, 0, now)
	require.EqualValues(t, 1, c.get().AggregateCount)
}

func TestStore_RefreshStatistics_OutlivesCaller(t *testing.T) {
	log := newGatedLog()
	s := StartTestStore(t, WithEventLog(log))
	RequireAppend(t, s, "a", 0, events(3)...)
	log.armed.Store(true)

	ctx, cancel := context.WithCancel(t.Context())
	first := make(chan error, 1)
	go func() { first <- s.RefreshStatistics(ctx) }()

	<-log.started
	cancel()
	second := make(chan error, 1)
	go func() { second <- s.RefreshStatistics(t.Context()) }()
	close(log.release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	stats, err := s.GetStatistics(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.EventCount)
}
