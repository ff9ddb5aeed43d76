package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/codewandler/evstore/core/es"
)

// EventLog is an es.EventLog in PostgreSQL. The aggregate's version row is
// locked FOR UPDATE for the duration of an append, which makes the version
// check and the inserts one compare-and-swap per aggregate.
//
// Seq comes from a sequence and follows insert order, which can differ from
// commit order for concurrent appends to different aggregates.
type EventLog struct {
	db *DB
}

var eventColumns = []string{
	"seq", "id", "aggregate_id", "version", "type", "payload", "metadata", "tenant_id", "user_id",
	"request_id", "correlation_id", "causation_id", "created_at", "deleted", "checksum",
}

func (l *EventLog) Version(ctx context.Context, aggregateID string) (es.Version, error) {
	var v int64
	err := l.db.pool.QueryRow(ctx,
		`SELECT version FROM aggregate_versions WHERE aggregate_id = $1`, aggregateID,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return es.Version(v), nil
}

func (l *EventLog) Append(
	ctx context.Context,
	aggregateID string,
	expected es.Version,
	records []es.EventRecord,
) ([]es.EventRecord, error) {
	if err := es.ValidateBatch(aggregateID, expected, records); err != nil {
		return nil, err
	}

	insert := psql.Insert("events").Columns(
		"id", "aggregate_id", "version", "type", "payload", "metadata", "tenant_id", "user_id",
		"request_id", "correlation_id", "causation_id", "created_at", "checksum",
	)
	for _, r := range records {
		var md any
		if len(r.Metadata) > 0 {
			md = r.Metadata
		}
		insert = insert.Values(
			r.ID, r.AggregateID, int64(r.Version), r.Type, []byte(r.Payload), md, r.TenantID, r.UserID,
			r.RequestID, r.CorrelationID, r.CausationID, r.CreatedAt.UTC(), r.Checksum,
		)
	}
	insertSQL, insertArgs, err := insert.Suffix("RETURNING id, seq").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	seqByID := make(map[string]uint64, len(records))
	err = pgx.BeginFunc(ctx, l.db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO aggregate_versions (aggregate_id, version) VALUES ($1, 0) ON CONFLICT DO NOTHING`,
			aggregateID,
		); err != nil {
			return fmt.Errorf("ensure version row: %w", err)
		}

		var current int64
		if err := tx.QueryRow(ctx,
			`SELECT version FROM aggregate_versions WHERE aggregate_id = $1 FOR UPDATE`, aggregateID,
		).Scan(&current); err != nil {
			return fmt.Errorf("lock version: %w", err)
		}
		if es.Version(current) != expected {
			return es.NewConflictError(aggregateID, expected, es.Version(current))
		}

		rows, err := tx.Query(ctx, insertSQL, insertArgs...)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate event id", es.ErrInvalidArgument)
		}
		if err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		for rows.Next() {
			var (
				id  string
				seq int64
			)
			if err := rows.Scan(&id, &seq); err != nil {
				rows.Close()
				return fmt.Errorf("scan seq: %w", err)
			}
			seqByID[id] = uint64(seq)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate event id", es.ErrInvalidArgument)
			}
			return fmt.Errorf("insert events: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE aggregate_versions SET version = $2 WHERE aggregate_id = $1`,
			aggregateID, int64(expected.Add(len(records))),
		); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	committed := make([]es.EventRecord, len(records))
	for i, r := range records {
		r.Seq = seqByID[r.ID]
		committed[i] = r
	}
	return committed, nil
}

func (l *EventLog) Load(ctx context.Context, aggregateID string) ([]es.EventRecord, error) {
	return l.query(ctx, psql.Select(eventColumns...).From("events").
		Where(sq.Eq{"aggregate_id": aggregateID}).OrderBy("seq"))
}

func (l *EventLog) LoadAll(ctx context.Context) ([]es.EventRecord, error) {
	return l.query(ctx, psql.Select(eventColumns...).From("events").OrderBy("seq"))
}

func (l *EventLog) Get(ctx context.Context, eventID string) (*es.EventRecord, error) {
	records, err := l.query(ctx, psql.Select(eventColumns...).From("events").Where(sq.Eq{"id": eventID}))
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

func (l *EventLog) Tombstone(ctx context.Context, aggregateID string) (n int, err error) {
	err = pgx.BeginFunc(ctx, l.db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET deleted = TRUE WHERE aggregate_id = $1 AND NOT deleted`, aggregateID)
		if err != nil {
			return fmt.Errorf("tombstone events: %w", err)
		}
		n = int(tag.RowsAffected())
		if _, err := tx.Exec(ctx, `DELETE FROM aggregate_versions WHERE aggregate_id = $1`, aggregateID); err != nil {
			return fmt.Errorf("delete version: %w", err)
		}
		return nil
	})
	return n, err
}

func (l *EventLog) query(ctx context.Context, b sq.SelectBuilder) ([]es.EventRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := l.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []es.EventRecord
	for rows.Next() {
		var (
			r         es.EventRecord
			seq       int64
			version   int64
			payload   []byte
			createdAt time.Time
		)
		if err := rows.Scan(
			&seq, &r.ID, &r.AggregateID, &version, &r.Type, &payload, &r.Metadata,
			&r.TenantID, &r.UserID, &r.RequestID, &r.CorrelationID, &r.CausationID,
			&createdAt, &r.Deleted, &r.Checksum,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Seq = uint64(seq)
		r.Version = es.Version(version)
		r.Payload = payload
		r.CreatedAt = createdAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ es.EventLog = (*EventLog)(nil)
