package es

import "github.com/codewandler/evstore/core/metrics"

// Metrics defines the instrumentation hooks of the Store. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// Append engine
	AppendDuration() metrics.Timer
	EventsAppended(eventType string, count int)
	// AppendFailed counts rejected appends by reason: "conflict", "invalid",
	// "not_started" or "internal".
	AppendFailed(reason string)
	// VersionCacheLookup counts version cache hits and misses on append.
	VersionCacheLookup(hit bool)

	// Stream reader, scope is "aggregate" or "all"
	StreamReadDuration(scope string) metrics.Timer

	// Snapshots
	SnapshotSaveDuration() metrics.Timer
	SnapshotLoadDuration() metrics.Timer
	SnapshotsExpired(count int)

	// StatisticsRefreshed publishes the latest counters, e.g. as gauges.
	StatisticsRefreshed(stats Statistics)
}

type nopMetrics struct{}

func (nopMetrics) AppendDuration() metrics.Timer           { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)              {}
func (nopMetrics) AppendFailed(string)                     {}
func (nopMetrics) VersionCacheLookup(bool)                 {}
func (nopMetrics) StreamReadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SnapshotSaveDuration() metrics.Timer     { return metrics.NopTimer() }
func (nopMetrics) SnapshotLoadDuration() metrics.Timer     { return metrics.NopTimer() }
func (nopMetrics) SnapshotsExpired(int)                    {}
func (nopMetrics) StatisticsRefreshed(Statistics)          {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
