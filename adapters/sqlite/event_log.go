package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codewandler/evstore/core/es"
)

// EventLog is an es.EventLog in SQLite. The version check and the inserts
// run in one IMMEDIATE transaction, which holds the database write lock.
type EventLog struct {
	db *DB
}

const eventColumns = `seq, id, aggregate_id, version, type, payload, metadata, tenant_id, user_id,
request_id, correlation_id, causation_id, created_at, deleted, checksum`

func (l *EventLog) Version(ctx context.Context, aggregateID string) (es.Version, error) {
	return queryVersion(ctx, l.db.sqlDB, aggregateID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryVersion(ctx context.Context, q queryRower, aggregateID string) (es.Version, error) {
	var v int64
	err := q.QueryRowContext(ctx,
		`SELECT version FROM aggregate_versions WHERE aggregate_id = ?`, aggregateID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
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

	committed := make([]es.EventRecord, len(records))
	err := l.db.inTx(ctx, func(tx *sql.Tx) error {
		current, err := queryVersion(ctx, tx, aggregateID)
		if err != nil {
			return err
		}
		if current != expected {
			return es.NewConflictError(aggregateID, expected, current)
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO events (id, aggregate_id, version, type, payload, metadata, tenant_id, user_id,
    request_id, correlation_id, causation_id, created_at, deleted, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, r := range records {
			md, err := encodeMetadata(r.Metadata)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx,
				r.ID, r.AggregateID, int64(r.Version), r.Type, []byte(r.Payload), md,
				r.TenantID, r.UserID, r.RequestID, r.CorrelationID, r.CausationID,
				toMicros(r.CreatedAt), r.Checksum,
			)
			if isConstraintError(err) {
				return fmt.Errorf("%w: duplicate event %s", es.ErrInvalidArgument, r.ID)
			}
			if err != nil {
				return fmt.Errorf("insert event %s: %w", r.ID, err)
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("read seq: %w", err)
			}
			r.Seq = uint64(seq)
			committed[i] = r
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO aggregate_versions (aggregate_id, version) VALUES (?, ?)
ON CONFLICT (aggregate_id) DO UPDATE SET version = excluded.version`,
			aggregateID, int64(expected.Add(len(records))),
		)
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (l *EventLog) Load(ctx context.Context, aggregateID string) ([]es.EventRecord, error) {
	return l.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = ? ORDER BY seq`, aggregateID)
}

func (l *EventLog) LoadAll(ctx context.Context) ([]es.EventRecord, error) {
	return l.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq`)
}

func (l *EventLog) Get(ctx context.Context, eventID string) (*es.EventRecord, error) {
	records, err := l.query(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

func (l *EventLog) Tombstone(ctx context.Context, aggregateID string) (n int, err error) {
	err = l.db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET deleted = 1 WHERE aggregate_id = ? AND deleted = 0`, aggregateID)
		if err != nil {
			return fmt.Errorf("tombstone events: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		n = int(affected)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM aggregate_versions WHERE aggregate_id = ?`, aggregateID); err != nil {
			return fmt.Errorf("delete version: %w", err)
		}
		return nil
	})
	return n, err
}

func (l *EventLog) query(ctx context.Context, query string, args ...any) ([]es.EventRecord, error) {
	rows, err := l.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []es.EventRecord
	for rows.Next() {
		var (
			r         es.EventRecord
			seq       int64
			version   int64
			payload   []byte
			md        sql.NullString
			createdAt int64
			deleted   int
		)
		if err := rows.Scan(
			&seq, &r.ID, &r.AggregateID, &version, &r.Type, &payload, &md,
			&r.TenantID, &r.UserID, &r.RequestID, &r.CorrelationID, &r.CausationID,
			&createdAt, &deleted, &r.Checksum,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if r.Metadata, err = decodeMetadata(md); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.Version = es.Version(version)
		r.Payload = payload
		r.CreatedAt = fromMicros(createdAt)
		r.Deleted = deleted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ es.EventLog = (*EventLog)(nil)
