package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
)

func TestNewStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)
	require.NotNil(t, m)

	timer := m.AppendDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsAppended("OrderPlaced", 3)
	m.AppendFailed("conflict")
	m.AppendFailed("conflict")

	m.StreamReadDuration("aggregate").ObserveDuration()
	m.SnapshotSaveDuration().ObserveDuration()
	m.SnapshotLoadDuration().ObserveDuration()
	m.SnapshotsExpired(4)

	sm := m.(*storeMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(sm.eventsAppended.WithLabelValues("OrderPlaced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sm.appendFailures.WithLabelValues("conflict")))
	assert.Equal(t, 4.0, testutil.ToFloat64(sm.snapshotsExpired))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["evstore_append_duration_seconds"])
	assert.True(t, names["evstore_stream_read_duration_seconds"])
	assert.True(t, names["evstore_snapshots_expired_total"])
}

func TestStatisticsRefreshed(t *testing.T) {
	reg := prometheus.NewRegistry()
	sm := NewStoreMetrics(reg).(*storeMetrics)

	sm.StatisticsRefreshed(es.Statistics{
		EventCount:     10,
		AggregateCount: 3,
		SnapshotCount:  1,
		StorageBytes:   512,
		EventsByTenant: map[string]int64{"acme": 6, "globex": 4},
	})
	assert.Equal(t, 10.0, testutil.ToFloat64(sm.events))
	assert.Equal(t, 3.0, testutil.ToFloat64(sm.aggregates))
	assert.Equal(t, 512.0, testutil.ToFloat64(sm.storageBytes))
	assert.Equal(t, 2, testutil.CollectAndCount(sm.eventsByTenant))

	sm.StatisticsRefreshed(es.Statistics{EventCount: 4, EventsByTenant: map[string]int64{"acme": 4}})
	assert.Equal(t, 1, testutil.CollectAndCount(sm.eventsByTenant))
	assert.Equal(t, 4.0, testutil.ToFloat64(sm.eventsByTenant.WithLabelValues("acme")))
}

func TestStoreMetrics_WithStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	sm := NewStoreMetrics(reg).(*storeMetrics)
	s := es.StartTestStore(t, es.WithMetrics(sm))

	res := s.StoreEvents(t.Context(), "order-1", []es.Event{
		es.MustEvent(map[string]any{"total": 10}, es.WithEventType("OrderPlaced")),
	}, 0)
	require.True(t, res.Success, res.Error)

	res = s.StoreEvents(t.Context(), "order-1", []es.Event{
		es.MustEvent(map[string]any{}, es.WithEventType("OrderPaid")),
	}, 0)
	require.False(t, res.Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(sm.eventsAppended.WithLabelValues("OrderPlaced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.appendFailures.WithLabelValues("conflict")))
	assert.Equal(t, 1, testutil.CollectAndCount(sm.appendDuration))
	// first append misses, the stale retry hits
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.versionCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.versionCache.WithLabelValues("hit")))
}
