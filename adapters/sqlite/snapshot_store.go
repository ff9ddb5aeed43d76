package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/evstore/core/es"
)

// SnapshotStore is an es.SnapshotStore in SQLite.
type SnapshotStore struct {
	db *DB
}

const snapshotColumns = `aggregate_id, version, id, data, metadata, tenant_id, created_at, expires_at, size`

func (s *SnapshotStore) Save(ctx context.Context, snap es.SnapshotRecord) error {
	md, err := encodeMetadata(snap.Metadata)
	if err != nil {
		return err
	}
	var expiresAt sql.NullInt64
	if snap.ExpirationTime != nil {
		expiresAt = sql.NullInt64{Int64: toMicros(*snap.ExpirationTime), Valid: true}
	}
	_, err = s.db.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (`+snapshotColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (aggregate_id, version) DO UPDATE SET
    id = excluded.id,
    data = excluded.data,
    metadata = excluded.metadata,
    tenant_id = excluded.tenant_id,
    created_at = excluded.created_at,
    expires_at = excluded.expires_at,
    size = excluded.size`,
		snap.AggregateID, int64(snap.Version), snap.ID, []byte(snap.Data), md,
		snap.TenantID, toMicros(snap.CreatedAt), expiresAt, snap.Size,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, aggregateID string, version es.Version) (*es.SnapshotRecord, error) {
	return s.queryOne(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE aggregate_id = ? AND version = ?`,
		aggregateID, int64(version))
}

func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (*es.SnapshotRecord, error) {
	return s.queryOne(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE aggregate_id = ? ORDER BY version DESC LIMIT 1`,
		aggregateID)
}

func (s *SnapshotStore) Delete(ctx context.Context, aggregateID string, version es.Version) (bool, error) {
	res, err := s.db.sqlDB.ExecContext(ctx,
		`DELETE FROM snapshots WHERE aggregate_id = ? AND version = ?`, aggregateID, int64(version))
	if err != nil {
		return false, fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SnapshotStore) DeleteAll(ctx context.Context, aggregateID string) (int, error) {
	res, err := s.db.sqlDB.ExecContext(ctx, `DELETE FROM snapshots WHERE aggregate_id = ?`, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SnapshotStore) Expired(ctx context.Context, now time.Time) ([]es.SnapshotKey, error) {
	rows, err := s.db.sqlDB.QueryContext(ctx, `
SELECT aggregate_id, version FROM snapshots
WHERE expires_at IS NOT NULL AND expires_at <= ?
ORDER BY aggregate_id, version`, toMicros(now))
	if err != nil {
		return nil, fmt.Errorf("query expired snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []es.SnapshotKey
	for rows.Next() {
		var (
			key     es.SnapshotKey
			version int64
		)
		if err := rows.Scan(&key.AggregateID, &version); err != nil {
			return nil, fmt.Errorf("scan snapshot key: %w", err)
		}
		key.Version = es.Version(version)
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

func (s *SnapshotStore) queryOne(ctx context.Context, query string, args ...any) (*es.SnapshotRecord, error) {
	var (
		snap      es.SnapshotRecord
		version   int64
		data      []byte
		md        sql.NullString
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.sqlDB.QueryRowContext(ctx, query, args...).Scan(
		&snap.AggregateID, &version, &snap.ID, &data, &md, &snap.TenantID, &createdAt, &expiresAt, &snap.Size,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if snap.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	snap.Version = es.Version(version)
	snap.Data = data
	snap.CreatedAt = fromMicros(createdAt)
	if expiresAt.Valid {
		t := fromMicros(expiresAt.Int64)
		snap.ExpirationTime = &t
	}
	return &snap, nil
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)
