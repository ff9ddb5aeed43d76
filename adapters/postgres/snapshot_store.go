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

// SnapshotStore is an es.SnapshotStore in PostgreSQL.
type SnapshotStore struct {
	db *DB
}

var snapshotColumns = []string{
	"aggregate_id", "version", "id", "data", "metadata", "tenant_id", "created_at", "expires_at", "size",
}

func (s *SnapshotStore) Save(ctx context.Context, snap es.SnapshotRecord) error {
	var md any
	if len(snap.Metadata) > 0 {
		md = snap.Metadata
	}
	var expiresAt *time.Time
	if snap.ExpirationTime != nil {
		t := snap.ExpirationTime.UTC()
		expiresAt = &t
	}

	query, args, err := psql.Insert("snapshots").Columns(snapshotColumns...).Values(
		snap.AggregateID, int64(snap.Version), snap.ID, []byte(snap.Data), md,
		snap.TenantID, snap.CreatedAt.UTC(), expiresAt, snap.Size,
	).Suffix(`ON CONFLICT (aggregate_id, version) DO UPDATE SET
    id = EXCLUDED.id,
    data = EXCLUDED.data,
    metadata = EXCLUDED.metadata,
    tenant_id = EXCLUDED.tenant_id,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at,
    size = EXCLUDED.size`).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, aggregateID string, version es.Version) (*es.SnapshotRecord, error) {
	return s.queryOne(ctx, psql.Select(snapshotColumns...).From("snapshots").
		Where(sq.Eq{"aggregate_id": aggregateID, "version": int64(version)}))
}

func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (*es.SnapshotRecord, error) {
	return s.queryOne(ctx, psql.Select(snapshotColumns...).From("snapshots").
		Where(sq.Eq{"aggregate_id": aggregateID}).OrderBy("version DESC").Limit(1))
}

func (s *SnapshotStore) Delete(ctx context.Context, aggregateID string, version es.Version) (bool, error) {
	tag, err := s.db.pool.Exec(ctx,
		`DELETE FROM snapshots WHERE aggregate_id = $1 AND version = $2`, aggregateID, int64(version))
	if err != nil {
		return false, fmt.Errorf("delete snapshot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SnapshotStore) DeleteAll(ctx context.Context, aggregateID string) (int, error) {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM snapshots WHERE aggregate_id = $1`, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SnapshotStore) Expired(ctx context.Context, now time.Time) ([]es.SnapshotKey, error) {
	query, args, err := psql.Select("aggregate_id", "version").From("snapshots").
		Where(sq.And{sq.NotEq{"expires_at": nil}, sq.LtOrEq{"expires_at": now.UTC()}}).
		OrderBy("aggregate_id", "version").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expired snapshots: %w", err)
	}
	defer rows.Close()

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
	if err := s.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

func (s *SnapshotStore) queryOne(ctx context.Context, b sq.SelectBuilder) (*es.SnapshotRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var (
		snap      es.SnapshotRecord
		version   int64
		data      []byte
		createdAt time.Time
		expiresAt *time.Time
	)
	err = s.db.pool.QueryRow(ctx, query, args...).Scan(
		&snap.AggregateID, &version, &snap.ID, &data, &snap.Metadata, &snap.TenantID, &createdAt, &expiresAt, &snap.Size,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Version = es.Version(version)
	snap.Data = data
	snap.CreatedAt = createdAt.UTC()
	if expiresAt != nil {
		t := expiresAt.UTC()
		snap.ExpirationTime = &t
	}
	return &snap, nil
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)
