package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/metrics"
)

// storeMetrics implements es.Metrics.
type storeMetrics struct {
	// Append engine
	appendDuration prometheus.Histogram
	eventsAppended *prometheus.CounterVec
	appendFailures *prometheus.CounterVec
	versionCache   *prometheus.CounterVec

	// Stream reader
	streamReadDuration *prometheus.HistogramVec

	// Snapshots
	snapshotSaveDuration prometheus.Histogram
	snapshotLoadDuration prometheus.Histogram
	snapshotsExpired     prometheus.Counter

	// Statistics
	events         prometheus.Gauge
	aggregates     prometheus.Gauge
	snapshots      prometheus.Gauge
	storageBytes   prometheus.Gauge
	eventsByTenant *prometheus.GaugeVec
}

// NewStoreMetrics registers the store collectors with reg.
func NewStoreMetrics(reg prometheus.Registerer) es.Metrics {
	f := promauto.With(reg)
	return &storeMetrics{
		appendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Latency of StoreEvents in seconds",
			Buckets:   latencyBuckets,
		}),
		eventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of committed events",
		}, []string{"event_type"}),
		appendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_failures_total",
			Help:      "Total number of rejected appends",
		}, []string{"reason"}),
		versionCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_cache_lookups_total",
			Help:      "Version cache lookups on append by result",
		}, []string{"result"}),

		streamReadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_read_duration_seconds",
			Help:      "Latency of stream queries in seconds",
			Buckets:   latencyBuckets,
		}, []string{"scope"}),

		snapshotSaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_save_duration_seconds",
			Help:      "Snapshot save latency in seconds",
			Buckets:   latencyBuckets,
		}),
		snapshotLoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_load_duration_seconds",
			Help:      "Snapshot load latency in seconds",
			Buckets:   latencyBuckets,
		}),
		snapshotsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_expired_total",
			Help:      "Total number of snapshots removed by retention",
		}),

		events: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      "Live events at the last statistics refresh",
		}),
		aggregates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregates",
			Help:      "Live aggregates at the last statistics refresh",
		}),
		snapshots: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots",
			Help:      "Stored snapshots at the last statistics refresh",
		}),
		storageBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_bytes",
			Help:      "Approximate size of live events in bytes",
		}),
		eventsByTenant: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_events",
			Help:      "Live events per tenant at the last statistics refresh",
		}, []string{"tenant"}),
	}
}

func (m *storeMetrics) AppendDuration() metrics.Timer {
	return observeSeconds(m.appendDuration)
}

func (m *storeMetrics) EventsAppended(eventType string, count int) {
	m.eventsAppended.WithLabelValues(eventType).Add(float64(count))
}

func (m *storeMetrics) AppendFailed(reason string) {
	m.appendFailures.WithLabelValues(reason).Inc()
}

func (m *storeMetrics) VersionCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.versionCache.WithLabelValues(result).Inc()
}

func (m *storeMetrics) StreamReadDuration(scope string) metrics.Timer {
	return observeSeconds(m.streamReadDuration.WithLabelValues(scope))
}

func (m *storeMetrics) SnapshotSaveDuration() metrics.Timer {
	return observeSeconds(m.snapshotSaveDuration)
}

func (m *storeMetrics) SnapshotLoadDuration() metrics.Timer {
	return observeSeconds(m.snapshotLoadDuration)
}

func (m *storeMetrics) SnapshotsExpired(count int) {
	m.snapshotsExpired.Add(float64(count))
}

func (m *storeMetrics) StatisticsRefreshed(stats es.Statistics) {
	m.events.Set(float64(stats.EventCount))
	m.aggregates.Set(float64(stats.AggregateCount))
	m.snapshots.Set(float64(stats.SnapshotCount))
	m.storageBytes.Set(float64(stats.StorageBytes))

	// tenants that disappeared since the last refresh must not linger
	m.eventsByTenant.Reset()
	for tenant, n := range stats.EventsByTenant {
		m.eventsByTenant.WithLabelValues(tenant).Set(float64(n))
	}
}

var _ es.Metrics = (*storeMetrics)(nil)
