package es

import (
	"maps"
	"sync"
	"time"
)

// Statistics are running counters over the live (non-deleted) event history.
// Between refreshes they are advanced incrementally by every committed append,
// so they are approximate until the next full refresh.
type Statistics struct {
	EventCount       int64            `json:"event_count"`
	AggregateCount   int64            `json:"aggregate_count"`
	SnapshotCount    int64            `json:"snapshot_count"`
	StorageBytes     int64            `json:"storage_bytes"`
	AverageEventSize float64          `json:"average_event_size"`
	EventsByType     map[string]int64 `json:"events_by_type"`
	EventsByTenant   map[string]int64 `json:"events_by_tenant"`
	EventsLastHour   int64            `json:"events_last_hour"`
	EventsLastDay    int64            `json:"events_last_day"`
	EventsLastWeek   int64            `json:"events_last_week"`
	LastUpdated      time.Time        `json:"last_updated"`
}

func newStatistics() Statistics {
	return Statistics{
		EventsByType:   map[string]int64{},
		EventsByTenant: map[string]int64{},
	}
}

// Clone returns a deep copy.
func (s Statistics) Clone() Statistics {
	out := s
	out.EventsByType = maps.Clone(s.EventsByType)
	out.EventsByTenant = maps.Clone(s.EventsByTenant)
	if out.EventsByType == nil {
		out.EventsByType = map[string]int64{}
	}
	if out.EventsByTenant == nil {
		out.EventsByTenant = map[string]int64{}
	}
	return out
}

func (s *Statistics) addEvent(r EventRecord, now time.Time) {
	s.EventCount++
	s.StorageBytes += int64(r.Size())
	s.EventsByType[r.Type]++
	if r.TenantID != "" {
		s.EventsByTenant[r.TenantID]++
	}
	age := now.Sub(r.CreatedAt)
	if age <= time.Hour {
		s.EventsLastHour++
	}
	if age <= 24*time.Hour {
		s.EventsLastDay++
	}
	if age <= 7*24*time.Hour {
		s.EventsLastWeek++
	}
}

// removeEvent undoes addEvent. Time windows are judged against now, so they
// drift until the next full refresh.
func (s *Statistics) removeEvent(r EventRecord, now time.Time) {
	s.EventCount = max(0, s.EventCount-1)
	s.StorageBytes = max(0, s.StorageBytes-int64(r.Size()))
	decrement(s.EventsByType, r.Type)
	if r.TenantID != "" {
		decrement(s.EventsByTenant, r.TenantID)
	}
	age := now.Sub(r.CreatedAt)
	if age <= time.Hour {
		s.EventsLastHour = max(0, s.EventsLastHour-1)
	}
	if age <= 24*time.Hour {
		s.EventsLastDay = max(0, s.EventsLastDay-1)
	}
	if age <= 7*24*time.Hour {
		s.EventsLastWeek = max(0, s.EventsLastWeek-1)
	}
}

func decrement(m map[string]int64, key string) {
	if m[key] <= 1 {
		delete(m, key)
		return
	}
	m[key]--
}

func (s *Statistics) finish(now time.Time) {
	s.AverageEventSize = 0
	if s.EventCount > 0 {
		s.AverageEventSize = float64(s.StorageBytes) / float64(s.EventCount)
	}
	s.LastUpdated = now
}

// computeStatistics derives the full counter set from a raw scan.
func computeStatistics(records []EventRecord, snapshotCount int, now time.Time) Statistics {
	s := newStatistics()
	aggregates := map[string]struct{}{}
	for _, r := range records {
		if r.Deleted {
			continue
		}
		aggregates[r.AggregateID] = struct{}{}
		s.addEvent(r, now)
	}
	s.AggregateCount = int64(len(aggregates))
	s.SnapshotCount = int64(snapshotCount)
	s.finish(now)
	return s
}

type statsCollector struct {
	mu sync.RWMutex
	s  Statistics
}

func newStatsCollector() *statsCollector {
	return &statsCollector{s: newStatistics()}
}

func (c *statsCollector) get() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Clone()
}

func (c *statsCollector) replace(s Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = s.Clone()
}

func (c *statsCollector) recordAppend(records []EventRecord, newAggregate bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.s.addEvent(r, now)
	}
	if newAggregate {
		c.s.AggregateCount++
	}
	c.s.finish(now)
}

// recordDelete removes the live records of one deleted aggregate and its
// snapshots from the counters.
func (c *statsCollector) recordDelete(records []EventRecord, snapshots int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := false
	for _, r := range records {
		if r.Deleted {
			continue
		}
		live = true
		c.s.removeEvent(r, now)
	}
	if live {
		c.s.AggregateCount = max(0, c.s.AggregateCount-1)
	}
	c.s.SnapshotCount = max(0, c.s.SnapshotCount-int64(snapshots))
	c.s.finish(now)
}

func (c *statsCollector) recordSnapshots(delta int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SnapshotCount = max(0, c.s.SnapshotCount+int64(delta))
	c.s.LastUpdated = now
}
