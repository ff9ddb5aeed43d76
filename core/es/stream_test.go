package es

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// mixedStream returns versions 1..10 of aggregate "agg": odd versions are
// type A, even versions type B, one minute apart.
func mixedStream() []EventRecord {
	out := make([]EventRecord, 10)
	for i := range out {
		typ := "A"
		if (i+1)%2 == 0 {
			typ = "B"
		}
		out[i] = EventRecord{
			ID:          string(rune('a' + i)),
			Seq:         uint64(i + 1),
			AggregateID: "agg",
			Type:        typ,
			Version:     Version(i + 1),
			CreatedAt:   t0.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func versionsOf(records []EventRecord) []Version {
	out := make([]Version, len(records))
	for i, r := range records {
		out[i] = r.Version
	}
	return out
}

func TestQueryStream(t *testing.T) {
	tests := []struct {
		name     string
		records  func() []EventRecord
		opts     StreamOptions
		want     []Version
		total    int
		hasMore  bool
		nextPage int
	}{
		{
			name:    "no options",
			records: mixedStream,
			want:    []Version{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			total:   10,
		},
		{
			name:    "version bounds and type",
			records: mixedStream,
			opts:    StreamOptions{FromVersion: 3, ToVersion: 7, EventTypes: []string{"A"}},
			want:    []Version{3, 5, 7},
			total:   3,
		},
		{
			name:    "descending",
			records: mixedStream,
			opts:    StreamOptions{FromVersion: 8, SortOrder: SortDesc},
			want:    []Version{10, 9, 8},
			total:   3,
		},
		{
			name:    "time range inclusive",
			records: mixedStream,
			opts:    StreamOptions{TimeRange: &TimeRange{From: t0.Add(2 * time.Minute), To: t0.Add(4 * time.Minute)}},
			want:    []Version{3, 4, 5},
			total:   3,
		},
		{
			name:    "open time range",
			records: mixedStream,
			opts:    StreamOptions{TimeRange: &TimeRange{From: t0.Add(8 * time.Minute)}},
			want:    []Version{9, 10},
			total:   2,
		},
		{
			name: "deleted dropped first",
			records: func() []EventRecord {
				r := mixedStream()
				r[0].Deleted = true
				r[1].Deleted = true
				return r
			},
			opts:  StreamOptions{ToVersion: 4},
			want:  []Version{3, 4},
			total: 2,
		},
		{
			name:     "first page",
			records:  mixedStream,
			opts:     StreamOptions{Page: 1, PageSize: 4},
			want:     []Version{1, 2, 3, 4},
			total:    10,
			hasMore:  true,
			nextPage: 2,
		},
		{
			name:    "last page",
			records: mixedStream,
			opts:    StreamOptions{Page: 3, PageSize: 4},
			want:    []Version{9, 10},
			total:   10,
		},
		{
			name:    "page beyond end",
			records: mixedStream,
			opts:    StreamOptions{Page: 9, PageSize: 4},
			want:    []Version{},
			total:   10,
		},
		{
			name:     "page zero means first",
			records:  mixedStream,
			opts:     StreamOptions{PageSize: 5, EventTypes: []string{"B"}, SortOrder: SortDesc},
			want:     []Version{10, 8, 6, 4, 2},
			total:    5,
			hasMore:  false,
			nextPage: 0,
		},
		{
			name:    "max events after pagination",
			records: mixedStream,
			opts:    StreamOptions{Page: 2, PageSize: 4, MaxEvents: 2},
			want:    []Version{5, 6},
			total:   10,
			hasMore: true, nextPage: 3,
		},
		{
			name:    "max events only",
			records: mixedStream,
			opts:    StreamOptions{MaxEvents: 3},
			want:    []Version{1, 2, 3},
			total:   10,
			hasMore: true,
		},
		{
			name:    "empty",
			records: func() []EventRecord { return nil },
			want:    []Version{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := queryStream(tt.records(), tt.opts)
			require.Equal(t, tt.want, versionsOf(res.Events))
			require.Equal(t, tt.total, res.TotalCount)
			require.Equal(t, tt.hasMore, res.HasMore)
			require.Equal(t, tt.nextPage, res.NextPage)
		})
	}
}

func TestStreamOptions_Validate(t *testing.T) {
	require.NoError(t, StreamOptions{}.validate())
	require.ErrorIs(t, StreamOptions{SortOrder: "sideways"}.validate(), ErrInvalidArgument)
	require.ErrorIs(t, StreamOptions{Page: -1}.validate(), ErrInvalidArgument)
	require.ErrorIs(t, StreamOptions{MaxEvents: -1}.validate(), ErrInvalidArgument)
	require.ErrorIs(t, StreamOptions{FromVersion: 5, ToVersion: 2}.validate(), ErrInvalidArgument)
}

func TestStore_GetEventStream_Filters(t *testing.T) {
	s := StartTestStore(t)
	ctx := t.Context()

	batch := make([]Event, 10)
	for i := range batch {
		typ := "A"
		if i%3 == 1 {
			typ = "B"
		}
		batch[i] = MustEvent(orderPlaced{Total: i}, WithEventType(typ))
	}
	RequireAppend(t, s, "agg", 0, batch...)

	res, err := s.GetEventStream(ctx, "agg", StreamOptions{FromVersion: 3, ToVersion: 7, EventTypes: []string{"A"}})
	require.NoError(t, err)
	require.Equal(t, Version(10), res.CurrentVersion)
	require.NotEmpty(t, res.Events)
	prev := Version(0)
	for _, e := range res.Events {
		require.Equal(t, "A", e.Type)
		require.GreaterOrEqual(t, e.Version, Version(3))
		require.LessOrEqual(t, e.Version, Version(7))
		require.Greater(t, e.Version, prev)
		prev = e.Version
	}

	res, err = s.GetEventStream(ctx, "unknown", StreamOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Events)
	require.Zero(t, res.CurrentVersion)

	_, err = s.GetEventStream(ctx, "agg", StreamOptions{SortOrder: "random"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStore_GetAllEventStreams(t *testing.T) {
	s := StartTestStore(t)
	t1 := WithCaller(t.Context(), Caller{TenantID: "t1"})
	t2 := WithCaller(t.Context(), Caller{TenantID: "t2"})

	require.True(t, s.StoreEvents(t1, "a", events(2), 0).Success)
	require.True(t, s.StoreEvents(t2, "b", events(1), 0).Success)
	require.True(t, s.StoreEvents(t1, "c", events(1), 0).Success)
	require.True(t, s.StoreEvents(t1, "a", events(1), 2).Success)

	all, err := s.GetAllEventStreams(t.Context(), StreamOptions{})
	require.NoError(t, err)
	require.Equal(t, 5, all.TotalCount)
	require.Zero(t, all.CurrentVersion)
	for i := 1; i < len(all.Events); i++ {
		require.Less(t, all.Events[i-1].Seq, all.Events[i].Seq)
	}

	tenant, err := s.GetAllEventStreams(t1, StreamOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, tenant.TotalCount)
	ids := make([]string, len(tenant.Events))
	for i, e := range tenant.Events {
		require.Equal(t, "t1", e.TenantID)
		ids[i] = e.AggregateID
	}
	require.Equal(t, []string{"a", "a", "c", "a"}, ids)

	desc, err := s.GetAllEventStreams(t2, StreamOptions{SortOrder: SortDesc, MaxEvents: 1})
	require.NoError(t, err)
	require.Len(t, desc.Events, 1)
	require.Equal(t, "b", desc.Events[0].AggregateID)
	require.False(t, desc.HasMore)
}

// racingLog lands another writer's append right after every Load.
type racingLog struct {
	*InMemoryEventLog
}

func (l racingLog) Load(ctx context.Context, aggregateID string) ([]EventRecord, error) {
	records, err := l.InMemoryEventLog.Load(ctx, aggregateID)
	if err != nil || len(records) == 0 {
		return records, err
	}
	last := records[len(records)-1].Version
	late := EventRecord{
		ID:          fmt.Sprintf("late-%d", last+1),
		AggregateID: aggregateID,
		Version:     last + 1,
		Type:        "OrderPlaced",
		Payload:     []byte(`{}`),
		CreatedAt:   time.Now(),
	}
	_, err = l.InMemoryEventLog.Append(ctx, aggregateID, last, []EventRecord{late})
	return records, err
}

func TestStore_GetEventStream_CurrentVersionMatchesRead(t *testing.T) {
	s := StartTestStore(t, WithEventLog(racingLog{NewInMemoryEventLog()}))
	RequireAppend(t, s, "agg", 0, events(3)...)

	res, err := s.GetEventStream(t.Context(), "agg", StreamOptions{})
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	require.Equal(t, Version(3), res.CurrentVersion)

	v, err := s.GetAggregateVersion(t.Context(), "agg")
	require.NoError(t, err)
	require.Equal(t, Version(4), v)
}
