package es

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// TimeRange bounds CreatedAt inclusively. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// StreamOptions filter, sort and paginate a stream read. Zero values mean
// "no restriction". Page is 1-based and only applies when PageSize > 0.
type StreamOptions struct {
	FromVersion Version    `json:"from_version,omitempty"`
	ToVersion   Version    `json:"to_version,omitempty"`
	EventTypes  []string   `json:"event_types,omitempty"`
	TimeRange   *TimeRange `json:"time_range,omitempty"`
	SortOrder   SortOrder  `json:"sort_order,omitempty"`
	Page        int        `json:"page,omitempty"`
	PageSize    int        `json:"page_size,omitempty"`
	MaxEvents   int        `json:"max_events,omitempty"`
}

func (o StreamOptions) validate() error {
	switch o.SortOrder {
	case "", SortAsc, SortDesc:
	default:
		return fmt.Errorf("%w: unknown sort order %q", ErrInvalidArgument, o.SortOrder)
	}
	if o.Page < 0 || o.PageSize < 0 || o.MaxEvents < 0 {
		return fmt.Errorf("%w: page, page size and max events must not be negative", ErrInvalidArgument)
	}
	if o.ToVersion != 0 && o.FromVersion > o.ToVersion {
		return fmt.Errorf("%w: from version %d is after to version %d", ErrInvalidArgument, o.FromVersion, o.ToVersion)
	}
	return nil
}

// StreamResult is one page of a stream read.
type StreamResult struct {
	Events []EventRecord `json:"events"`
	// TotalCount counts events after filtering, before pagination.
	TotalCount int `json:"total_count"`
	// CurrentVersion is the aggregate's version as of the read that produced
	// Events. It is always 0 for GetAllEventStreams.
	CurrentVersion Version `json:"current_version"`
	HasMore        bool    `json:"has_more"`
	// NextPage is the page to request next, 0 when there is none.
	NextPage int `json:"next_page,omitempty"`
}

// queryStream runs the read pipeline over records that are already in
// ascending order: deleted, version bounds, types, time, sort, page, cap.
func queryStream(records []EventRecord, opts StreamOptions) StreamResult {
	var types map[string]struct{}
	if len(opts.EventTypes) > 0 {
		types = make(map[string]struct{}, len(opts.EventTypes))
		for _, t := range opts.EventTypes {
			types[t] = struct{}{}
		}
	}

	out := make([]EventRecord, 0, len(records))
	for _, r := range records {
		if r.Deleted {
			continue
		}
		if opts.FromVersion != 0 && r.Version < opts.FromVersion {
			continue
		}
		if opts.ToVersion != 0 && r.Version > opts.ToVersion {
			continue
		}
		if types != nil {
			if _, ok := types[r.Type]; !ok {
				continue
			}
		}
		if opts.TimeRange != nil && !opts.TimeRange.contains(r.CreatedAt) {
			continue
		}
		out = append(out, r)
	}

	if opts.SortOrder == SortDesc {
		slices.Reverse(out)
	}

	res := StreamResult{TotalCount: len(out)}

	if opts.PageSize > 0 {
		page := max(opts.Page, 1)
		start := min((page-1)*opts.PageSize, len(out))
		end := min(start+opts.PageSize, len(out))
		if end < len(out) {
			res.HasMore = true
			res.NextPage = page + 1
		}
		out = out[start:end]
	}

	if opts.MaxEvents > 0 && len(out) > opts.MaxEvents {
		out = out[:opts.MaxEvents]
		res.HasMore = true
	}

	res.Events = out
	return res
}

// compareCommitOrder orders records by global sequence, then version.
func compareCommitOrder(a, b EventRecord) int {
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return cmp.Compare(a.Version, b.Version)
}

// liveVersion is the highest version among records that are not tombstoned.
// For a complete Load it equals the version index at the time of the read.
func liveVersion(records []EventRecord) Version {
	var v Version
	for _, r := range records {
		if !r.Deleted {
			v = max(v, r.Version)
		}
	}
	return v
}

// GetEventStream reads one aggregate's history. Unknown aggregates yield an
// empty result.
func (s *Store) GetEventStream(ctx context.Context, aggregateID string, opts StreamOptions) (_ StreamResult, err error) {
	if err := s.checkStarted(); err != nil {
		return StreamResult{}, err
	}
	if err := opts.validate(); err != nil {
		return StreamResult{}, err
	}

	ctx, span := startSpan(ctx, "es.GetEventStream", attribute.String("aggregate_id", aggregateID))
	defer func() { endSpan(span, err) }()
	defer s.metrics.StreamReadDuration("aggregate").ObserveDuration()

	records, err := s.events.Load(ctx, aggregateID)
	if err != nil {
		return StreamResult{}, internalErr("load stream", err)
	}

	res := queryStream(records, opts)
	current := liveVersion(records)
	res.CurrentVersion = current

	s.log.Debug(
		"event stream read",
		slog.String("aggregate_id", aggregateID),
		slog.Int("returned", len(res.Events)),
		slog.Int("total", res.TotalCount),
		current.SlogAttrWithKey("current_version"),
	)
	return res, nil
}

// GetAllEventStreams reads across all aggregates in commit order. When the
// context carries a tenant, only that tenant's events are returned.
func (s *Store) GetAllEventStreams(ctx context.Context, opts StreamOptions) (_ StreamResult, err error) {
	if err := s.checkStarted(); err != nil {
		return StreamResult{}, err
	}
	if err := opts.validate(); err != nil {
		return StreamResult{}, err
	}

	caller := CallerFrom(ctx)
	ctx, span := startSpan(ctx, "es.GetAllEventStreams", attribute.String("tenant_id", caller.TenantID))
	defer func() { endSpan(span, err) }()
	defer s.metrics.StreamReadDuration("all").ObserveDuration()

	records, err := s.events.LoadAll(ctx)
	if err != nil {
		return StreamResult{}, internalErr("load all streams", err)
	}
	if caller.TenantID != "" {
		records = slices.DeleteFunc(records, func(r EventRecord) bool {
			return r.TenantID != caller.TenantID
		})
	}
	slices.SortStableFunc(records, compareCommitOrder)

	res := queryStream(records, opts)

	s.log.Debug(
		"all event streams read",
		slog.String("tenant_id", caller.TenantID),
		slog.Int("returned", len(res.Events)),
		slog.Int("total", res.TotalCount),
	)
	return res, nil
}

// GetEvent returns the live event with the given id, nil when it is unknown
// or soft-deleted.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*EventRecord, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	r, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, internalErr("get event", err)
	}
	if r == nil || r.Deleted {
		return nil, nil
	}
	return r, nil
}

func (s *Store) GetAggregateVersion(ctx context.Context, aggregateID string) (Version, error) {
	if err := s.checkStarted(); err != nil {
		return 0, err
	}
	v, err := s.events.Version(ctx, aggregateID)
	if err != nil {
		return 0, internalErr("read version", err)
	}
	return v, nil
}

func (s *Store) ExistsAggregate(ctx context.Context, aggregateID string) (bool, error) {
	v, err := s.GetAggregateVersion(ctx, aggregateID)
	return v > 0, err
}

// RawEvents returns every stored record of the aggregate, tombstones
// included, in version order.
func (s *Store) RawEvents(ctx context.Context, aggregateID string) ([]EventRecord, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	records, err := s.events.Load(ctx, aggregateID)
	if err != nil {
		return nil, internalErr("load stream", err)
	}
	return records, nil
}

// DeleteAggregate soft-deletes the aggregate: its events are tombstoned, its
// snapshots and version entry removed. It reports whether anything existed.
func (s *Store) DeleteAggregate(ctx context.Context, aggregateID string) (deleted bool, err error) {
	if aggregateID == "" {
		return false, fmt.Errorf("%w: aggregate id is empty", ErrInvalidArgument)
	}

	ctx, span := startSpan(ctx, "es.DeleteAggregate", attribute.String("aggregate_id", aggregateID))
	defer func() { endSpan(span, err) }()

	type outcome struct{ events, snapshots int }
	result := make(chan outcome, 1)
	err = s.serialize(ctx, aggregateID, func(ctx context.Context) error {
		s.versions.Delete(aggregateID)
		records, err := s.events.Load(ctx, aggregateID)
		if err != nil {
			return internalErr("load stream", err)
		}
		events, err := s.events.Tombstone(ctx, aggregateID)
		if err != nil {
			return internalErr("tombstone events", err)
		}
		snapshots, err := s.snapshots.DeleteAll(ctx, aggregateID)
		if err != nil {
			return internalErr("delete snapshots", err)
		}
		s.stats.recordDelete(records, snapshots, s.now())
		result <- outcome{events: events, snapshots: snapshots}
		return nil
	})
	if err != nil {
		s.log.Error("delete aggregate failed", slog.String("aggregate_id", aggregateID), slog.Any("error", err))
		return false, err
	}
	out := <-result
	events, snapshots := out.events, out.snapshots

	s.log.Info(
		"aggregate deleted",
		slog.String("aggregate_id", aggregateID),
		slog.Int("events_tombstoned", events),
		slog.Int("snapshots_removed", snapshots),
	)
	return events > 0 || snapshots > 0, nil
}
