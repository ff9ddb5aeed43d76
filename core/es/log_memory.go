package es

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// InMemoryEventLog keeps every aggregate stream in memory. Each stream has
// its own lock, so appends to different aggregates never contend beyond the
// brief lookup of the stream itself.
type InMemoryEventLog struct {
	mu      sync.RWMutex
	seq     atomic.Uint64
	streams map[string]*memStream
	byID    sync.Map // event id -> aggregate id
}

type memStream struct {
	mu      sync.RWMutex
	version Version
	records []EventRecord
}

func NewInMemoryEventLog() *InMemoryEventLog {
	return &InMemoryEventLog{streams: map[string]*memStream{}}
}

func (l *InMemoryEventLog) stream(aggregateID string, create bool) *memStream {
	l.mu.RLock()
	s, ok := l.streams[aggregateID]
	l.mu.RUnlock()
	if ok || !create {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.streams[aggregateID]; !ok {
		s = &memStream{}
		l.streams[aggregateID] = s
	}
	return s
}

func (l *InMemoryEventLog) Version(_ context.Context, aggregateID string) (Version, error) {
	s := l.stream(aggregateID, false)
	if s == nil {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

func (l *InMemoryEventLog) Append(
	_ context.Context,
	aggregateID string,
	expected Version,
	records []EventRecord,
) ([]EventRecord, error) {
	if err := ValidateBatch(aggregateID, expected, records); err != nil {
		return nil, err
	}

	s := l.stream(aggregateID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expected {
		return nil, NewConflictError(aggregateID, expected, s.version)
	}

	batch := slices.Clone(records)
	for _, r := range batch {
		if _, dup := l.byID.Load(r.ID); dup {
			return nil, fmt.Errorf("%w: duplicate event id %s", ErrInvalidArgument, r.ID)
		}
	}

	for i := range batch {
		batch[i].Seq = l.seq.Add(1)
		l.byID.Store(batch[i].ID, aggregateID)
	}
	s.records = append(s.records, batch...)
	s.version = expected.Add(len(batch))
	return slices.Clone(batch), nil
}

func (l *InMemoryEventLog) Load(_ context.Context, aggregateID string) ([]EventRecord, error) {
	s := l.stream(aggregateID, false)
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records), nil
}

func (l *InMemoryEventLog) LoadAll(ctx context.Context) ([]EventRecord, error) {
	l.mu.RLock()
	ids := make([]string, 0, len(l.streams))
	for id := range l.streams {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	var out []EventRecord
	for _, id := range ids {
		recs, err := l.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	slices.SortFunc(out, compareCommitOrder)
	return out, nil
}

func (l *InMemoryEventLog) Get(ctx context.Context, eventID string) (*EventRecord, error) {
	v, ok := l.byID.Load(eventID)
	if !ok {
		return nil, nil
	}
	s := l.stream(v.(string), false)
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == eventID {
			return &r, nil
		}
	}
	return nil, nil
}

func (l *InMemoryEventLog) Tombstone(_ context.Context, aggregateID string) (int, error) {
	s := l.stream(aggregateID, false)
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.records {
		if !s.records[i].Deleted {
			s.records[i].Deleted = true
			n++
		}
	}
	s.version = 0
	return n, nil
}

var _ EventLog = (*InMemoryEventLog)(nil)
