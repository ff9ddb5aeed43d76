package es

import (
	"context"
	"sync"
	"time"
)

// InMemorySnapshotStore keeps snapshots in memory, keyed by aggregate and version.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]map[Version]SnapshotRecord
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: map[string]map[Version]SnapshotRecord{}}
}

func (m *InMemorySnapshotStore) Save(_ context.Context, snapshot SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVersion, ok := m.snapshots[snapshot.AggregateID]
	if !ok {
		byVersion = map[Version]SnapshotRecord{}
		m.snapshots[snapshot.AggregateID] = byVersion
	}
	byVersion[snapshot.Version] = snapshot
	return nil
}

func (m *InMemorySnapshotStore) Get(_ context.Context, aggregateID string, version Version) (*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[aggregateID][version]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *InMemorySnapshotStore) Latest(_ context.Context, aggregateID string) (*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *SnapshotRecord
	for _, s := range m.snapshots[aggregateID] {
		if latest == nil || s.Version > latest.Version {
			latest = &s
		}
	}
	return latest, nil
}

func (m *InMemorySnapshotStore) Delete(_ context.Context, aggregateID string, version Version) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVersion, ok := m.snapshots[aggregateID]
	if !ok {
		return false, nil
	}
	if _, ok = byVersion[version]; !ok {
		return false, nil
	}
	delete(byVersion, version)
	if len(byVersion) == 0 {
		delete(m.snapshots, aggregateID)
	}
	return true, nil
}

func (m *InMemorySnapshotStore) DeleteAll(_ context.Context, aggregateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.snapshots[aggregateID])
	delete(m.snapshots, aggregateID)
	return n, nil
}

func (m *InMemorySnapshotStore) Expired(_ context.Context, now time.Time) ([]SnapshotKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []SnapshotKey
	for _, byVersion := range m.snapshots {
		for _, s := range byVersion {
			if s.Expired(now) {
				keys = append(keys, s.Key())
			}
		}
	}
	return keys, nil
}

func (m *InMemorySnapshotStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byVersion := range m.snapshots {
		n += len(byVersion)
	}
	return n, nil
}

var _ SnapshotStore = (*InMemorySnapshotStore)(nil)
