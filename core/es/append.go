package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/attribute"
)

type appendOptions struct {
	transaction bool
}

// AppendOption configures a single StoreEvents call.
type AppendOption func(*appendOptions)

// WithTransaction mints a transaction id for the append. It is returned in
// the result and used as correlation id when the caller has none.
func WithTransaction() AppendOption {
	return func(o *appendOptions) { o.transaction = true }
}

// StoreEvents appends events to the aggregate if its current version equals
// expected. The batch commits completely or not at all. Conflicts are
// reported in the result, never retried.
func (s *Store) StoreEvents(
	ctx context.Context,
	aggregateID string,
	events []Event,
	expected Version,
	opts ...AppendOption,
) (res AppendResult) {
	startAt := time.Now()
	var options appendOptions
	for _, opt := range opts {
		opt(&options)
	}

	caller := CallerFrom(ctx)
	if options.transaction {
		res.TransactionID = uuid.NewString()
		if caller.CorrelationID == "" {
			caller.CorrelationID = res.TransactionID
		}
	}

	ctx, span := startSpan(ctx, "es.StoreEvents",
		attribute.String("aggregate_id", aggregateID),
		attribute.Int64("expected_version", int64(expected)),
		attribute.Int("event_count", len(events)),
	)
	timer := s.metrics.AppendDuration()

	log := s.log.With(
		slog.String("aggregate_id", aggregateID),
		expected.SlogAttrWithKey("expected_version"),
		slog.Int("event_count", len(events)),
		caller.logAttrs(),
	)

	var committed []EventRecord
	err := s.checkStarted()
	if err == nil {
		committed, err = s.appendEvents(ctx, aggregateID, events, expected, caller)
	}

	res.Duration = time.Since(startAt)
	endSpan(span, err)
	if err != nil {
		res.fail(err)
		s.metrics.AppendFailed(failureReason(err))
		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			log.Warn("append rejected", conflict.Actual.SlogAttrWithKey("actual_version"))
		case errors.Is(err, ErrNotStarted), errors.Is(err, ErrInvalidArgument):
			log.Warn("append rejected", slog.Any("error", err))
		case isCancellation(err):
			log.Warn("caller stopped waiting for append", slog.Any("error", err))
		default:
			log.Error("append failed", slog.Any("error", err))
		}
		return res
	}

	timer.ObserveDuration()
	res.Success = true
	res.EventCount = len(committed)
	res.Version = committed[len(committed)-1].Version
	log.Debug(
		"events appended",
		res.Version.SlogAttrWithKey("version"),
		slog.String("transaction_id", res.TransactionID),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// appendEvents commits the batch and does all post-commit bookkeeping while
// holding the aggregate. The committed records are handed back only when the
// caller is still waiting; a commit the caller walked away from is still
// cached, counted and published.
func (s *Store) appendEvents(
	ctx context.Context,
	aggregateID string,
	events []Event,
	expected Version,
	caller Caller,
) ([]EventRecord, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is empty", ErrInvalidArgument)
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	result := make(chan []EventRecord, 1)
	err := s.serialize(ctx, aggregateID, func(ctx context.Context) error {
		current, err := s.currentVersion(ctx, aggregateID, expected)
		if err != nil {
			return internalErr("read version", err)
		}
		if current != expected {
			return NewConflictError(aggregateID, expected, current)
		}

		records, err := s.buildRecords(aggregateID, events, expected, caller)
		if err != nil {
			return err
		}

		committed, err := s.events.Append(ctx, aggregateID, expected, records)
		if err != nil {
			s.versions.Delete(aggregateID)
			return internalErr("append", err)
		}
		s.versions.Put(aggregateID, committed[len(committed)-1].Version)
		s.stats.recordAppend(committed, expected == 0, s.now())
		for _, r := range committed {
			s.metrics.EventsAppended(r.Type, 1)
		}
		s.publish(ctx, committed)

		result <- committed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return <-result, nil
}

// currentVersion answers from the version cache when it agrees with
// expected and asks the event log otherwise. A stale hit can only cause a
// rejected Append, which drops the entry.
func (s *Store) currentVersion(ctx context.Context, aggregateID string, expected Version) (Version, error) {
	if v, ok := s.versions.Get(aggregateID); ok {
		s.metrics.VersionCacheLookup(true)
		if v == expected {
			return v, nil
		}
	} else {
		s.metrics.VersionCacheLookup(false)
	}
	v, err := s.events.Version(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	s.versions.Put(aggregateID, v)
	return v, nil
}

// buildRecords assigns versions expected+1.. and stamps caller fields.
func (s *Store) buildRecords(aggregateID string, events []Event, expected Version, caller Caller) ([]EventRecord, error) {
	now := s.now()
	records := make([]EventRecord, len(events))
	for i, ev := range events {
		id := ev.ID
		if id == "" {
			var err error
			if id, err = gonanoid.New(); err != nil {
				return nil, internalErr("generate event id", err)
			}
		}
		createdAt := ev.OccurredAt
		if createdAt.IsZero() {
			createdAt = now
		}
		payload, err := normalizePayload(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: event %d payload: %w", ErrInvalidArgument, i, err)
		}

		r := EventRecord{
			ID:            id,
			AggregateID:   aggregateID,
			Type:          ev.Type,
			Payload:       payload,
			Metadata:      ev.Metadata,
			Version:       expected.Add(i + 1),
			TenantID:      caller.TenantID,
			UserID:        caller.UserID,
			RequestID:     caller.RequestID,
			CorrelationID: caller.CorrelationID,
			CausationID:   caller.CausationID,
			CreatedAt:     createdAt.UTC().Truncate(time.Microsecond),
		}
		r.Checksum = r.ComputeChecksum()
		records[i] = r
	}
	return records, ValidateBatch(aggregateID, expected, records)
}

// normalizePayload returns payload in the form encoding/json emits it, so
// checksums survive backends that re-encode records as JSON.
func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(payload)
}

func (s *Store) publish(ctx context.Context, records []EventRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, records); err != nil {
		s.log.Error(
			"publish committed events failed",
			slog.String("aggregate_id", records[0].AggregateID),
			slog.Int("event_count", len(records)),
			slog.Any("error", err),
		)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failureReason(err error) string {
	switch {
	case isCancellation(err):
		return "cancelled"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "internal"
	}
}
