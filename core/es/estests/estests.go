// Package estests is a conformance suite for es.EventLog and
// es.SnapshotStore implementations. Adapter tests call RunEventLog and
// RunSnapshotStore with a factory that returns a fresh, empty backend.
package estests

import (
	"fmt"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
)

// Record builds a valid record of aggregateID at version v.
func Record(aggregateID string, v es.Version, typ string) es.EventRecord {
	r := es.EventRecord{
		ID:          gonanoid.Must(),
		AggregateID: aggregateID,
		Type:        typ,
		Payload:     []byte(fmt.Sprintf(`{"v":%d}`, v)),
		Metadata:    map[string]any{"source": "estests"},
		Version:     v,
		TenantID:    "tenant-1",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, int(v), 0, time.UTC),
	}
	r.Checksum = r.ComputeChecksum()
	return r
}

// Batch builds records expected+1..expected+n.
func Batch(aggregateID string, expected es.Version, n int) []es.EventRecord {
	out := make([]es.EventRecord, n)
	for i := range out {
		out[i] = Record(aggregateID, expected.Add(i+1), "Tested")
	}
	return out
}

func uniqueID(prefix string) string {
	return prefix + "-" + gonanoid.Must(10)
}

// requireCommitOrder checks that records are strictly ordered by
// (Seq, Version) and that only records of one aggregate share a Seq.
func requireCommitOrder(t *testing.T, records []es.EventRecord) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		require.NotZero(t, cur.Seq)
		if cur.Seq == prev.Seq {
			require.Equal(t, prev.AggregateID, cur.AggregateID)
			require.Greater(t, cur.Version, prev.Version)
			continue
		}
		require.Greater(t, cur.Seq, prev.Seq)
	}
}

// RunEventLog runs the EventLog conformance tests.
func RunEventLog(t *testing.T, newLog func(t *testing.T) es.EventLog) {
	t.Run("unknown aggregate", func(t *testing.T) {
		l := newLog(t)
		v, err := l.Version(t.Context(), "missing")
		require.NoError(t, err)
		require.Zero(t, v)

		records, err := l.Load(t.Context(), "missing")
		require.NoError(t, err)
		require.Empty(t, records)

		r, err := l.Get(t.Context(), "missing")
		require.NoError(t, err)
		require.Nil(t, r)

		n, err := l.Tombstone(t.Context(), "missing")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("append and load", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		id := uniqueID("agg")

		committed, err := l.Append(ctx, id, 0, Batch(id, 0, 3))
		require.NoError(t, err)
		require.Len(t, committed, 3)
		requireCommitOrder(t, committed)

		committed, err = l.Append(ctx, id, 3, Batch(id, 3, 2))
		require.NoError(t, err)
		require.Len(t, committed, 2)

		v, err := l.Version(ctx, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(5), v)

		records, err := l.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, 5)
		for i, r := range records {
			require.Equal(t, es.Version(i+1), r.Version)
			require.Equal(t, id, r.AggregateID)
			require.Equal(t, "tenant-1", r.TenantID)
			require.Equal(t, "estests", r.Metadata["source"])
			require.True(t, r.Verify(), "checksum of version %d", r.Version)
			require.False(t, r.Deleted)
			require.True(t, r.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, i+1, 0, time.UTC)))
		}

		got, err := l.Get(ctx, records[2].ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, es.Version(3), got.Version)
		require.JSONEq(t, `{"v":3}`, string(got.Payload))
	})

	t.Run("conflict leaves log unchanged", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		id := uniqueID("agg")

		_, err := l.Append(ctx, id, 0, Batch(id, 0, 3))
		require.NoError(t, err)

		_, err = l.Append(ctx, id, 2, Batch(id, 2, 2))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
		var conflict *es.ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, es.Version(2), conflict.Expected)
		require.Equal(t, es.Version(3), conflict.Actual)

		_, err = l.Append(ctx, id, 0, Batch(id, 0, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		records, err := l.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, 3)
	})

	t.Run("invalid batch rejected", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		id := uniqueID("agg")

		_, err := l.Append(ctx, id, 0, nil)
		require.ErrorIs(t, err, es.ErrInvalidArgument)

		gap := []es.EventRecord{Record(id, 1, "A"), Record(id, 3, "A")}
		_, err = l.Append(ctx, id, 0, gap)
		require.ErrorIs(t, err, es.ErrInvalidArgument)

		v, err := l.Version(ctx, id)
		require.NoError(t, err)
		require.Zero(t, v)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		id := uniqueID("hot")

		const writers = 8
		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Append(ctx, id, 0, Batch(id, 0, 2))
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, es.ErrConcurrencyConflict)
			}()
		}
		wg.Wait()
		require.Equal(t, 1, ok)

		records, err := l.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, 2)
	})

	t.Run("load all in commit order", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		a, b := uniqueID("a"), uniqueID("b")

		_, err := l.Append(ctx, a, 0, Batch(a, 0, 2))
		require.NoError(t, err)
		_, err = l.Append(ctx, b, 0, Batch(b, 0, 1))
		require.NoError(t, err)
		_, err = l.Append(ctx, a, 2, Batch(a, 2, 1))
		require.NoError(t, err)

		all, err := l.LoadAll(ctx)
		require.NoError(t, err)

		requireCommitOrder(t, all)
		var order []string
		for _, r := range all {
			if r.AggregateID == a || r.AggregateID == b {
				order = append(order, fmt.Sprintf("%s@%d", r.AggregateID, r.Version))
			}
		}
		require.Equal(t, []string{a + "@1", a + "@2", b + "@1", a + "@3"}, order)
	})

	t.Run("tombstone", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		id := uniqueID("agg")

		_, err := l.Append(ctx, id, 0, Batch(id, 0, 3))
		require.NoError(t, err)

		n, err := l.Tombstone(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 3, n)

		v, err := l.Version(ctx, id)
		require.NoError(t, err)
		require.Zero(t, v)

		records, err := l.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, 3)
		for _, r := range records {
			require.True(t, r.Deleted)
		}

		n, err = l.Tombstone(ctx, id)
		require.NoError(t, err)
		require.Zero(t, n)

		// the aggregate can start over
		_, err = l.Append(ctx, id, 0, Batch(id, 0, 1))
		require.NoError(t, err)
		records, err = l.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, 4)
		require.False(t, records[3].Deleted)
	})

	t.Run("recreate after tombstone", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()
		id := uniqueID("agg")

		old := Batch(id, 0, 3)
		_, err := l.Append(ctx, id, 0, old)
		require.NoError(t, err)
		_, err = l.Tombstone(ctx, id)
		require.NoError(t, err)

		_, err = l.Append(ctx, id, 0, Batch(id, 0, 1))
		require.NoError(t, err)
		_, err = l.Append(ctx, id, 1, Batch(id, 1, 1))
		require.NoError(t, err)

		v, err := l.Version(ctx, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(2), v)

		_, err = l.Append(ctx, id, 0, Batch(id, 0, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		records, err := l.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, records, 5)
		var live []es.Version
		for _, r := range records {
			if !r.Deleted {
				live = append(live, r.Version)
			}
		}
		require.Equal(t, []es.Version{1, 2}, live)

		got, err := l.Get(ctx, old[0].ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.True(t, got.Deleted)

		all, err := l.LoadAll(ctx)
		require.NoError(t, err)
		requireCommitOrder(t, all)
	})
}

func snapshot(aggregateID string, v es.Version, expires *time.Time) es.SnapshotRecord {
	return es.SnapshotRecord{
		ID:             gonanoid.Must(),
		AggregateID:    aggregateID,
		Version:        v,
		Data:           []byte(fmt.Sprintf(`{"state":%d}`, v)),
		Metadata:       map[string]any{"schema": "v1"},
		TenantID:       "tenant-1",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		ExpirationTime: expires,
		Size:           len(fmt.Sprintf(`{"state":%d}`, v)),
	}
}

// RunSnapshotStore runs the SnapshotStore conformance tests.
func RunSnapshotStore(t *testing.T, newStore func(t *testing.T) es.SnapshotStore) {
	t.Run("save get latest", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		id := uniqueID("agg")

		latest, err := s.Latest(ctx, id)
		require.NoError(t, err)
		require.Nil(t, latest)

		for _, v := range []es.Version{3, 10, 5} {
			require.NoError(t, s.Save(ctx, snapshot(id, v, nil)))
		}

		latest, err = s.Latest(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, latest)
		require.Equal(t, es.Version(10), latest.Version)
		require.JSONEq(t, `{"state":10}`, string(latest.Data))
		require.Equal(t, "tenant-1", latest.TenantID)
		require.Equal(t, "v1", latest.Metadata["schema"])

		exact, err := s.Get(ctx, id, 5)
		require.NoError(t, err)
		require.NotNil(t, exact)
		require.Equal(t, es.Version(5), exact.Version)

		missing, err := s.Get(ctx, id, 4)
		require.NoError(t, err)
		require.Nil(t, missing)
	})

	t.Run("save overwrites same version", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		id := uniqueID("agg")

		first := snapshot(id, 1, nil)
		second := snapshot(id, 1, nil)
		require.NoError(t, s.Save(ctx, first))
		require.NoError(t, s.Save(ctx, second))

		got, err := s.Get(ctx, id, 1)
		require.NoError(t, err)
		require.Equal(t, second.ID, got.ID)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		id := uniqueID("agg")

		require.NoError(t, s.Save(ctx, snapshot(id, 1, nil)))
		require.NoError(t, s.Save(ctx, snapshot(id, 2, nil)))

		ok, err := s.Delete(ctx, id, 1)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.Delete(ctx, id, 1)
		require.NoError(t, err)
		require.False(t, ok)

		n, err := s.DeleteAll(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		latest, err := s.Latest(ctx, id)
		require.NoError(t, err)
		require.Nil(t, latest)
	})

	t.Run("expired", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		id := uniqueID("agg")
		now := time.Now().UTC().Truncate(time.Millisecond)
		past, future := now.Add(-time.Hour), now.Add(time.Hour)

		require.NoError(t, s.Save(ctx, snapshot(id, 1, &past)))
		require.NoError(t, s.Save(ctx, snapshot(id, 2, &future)))
		require.NoError(t, s.Save(ctx, snapshot(id, 3, nil)))

		expired, err := s.Expired(ctx, now)
		require.NoError(t, err)
		require.Equal(t, []es.SnapshotKey{{AggregateID: id, Version: 1}}, expired)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})
}
