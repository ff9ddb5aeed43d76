package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// SnapshotInput is the caller-provided part of a snapshot.
type SnapshotInput struct {
	Version        Version
	Data           json.RawMessage
	Metadata       map[string]any
	ExpirationTime *time.Time
}

// CreateSnapshot stores aggregate state at in.Version. The version is not
// checked against the event log; keeping it at or below the aggregate's
// current version is up to the caller.
func (s *Store) CreateSnapshot(ctx context.Context, aggregateID string, in SnapshotInput) (res SnapshotResult) {
	startAt := time.Now()
	ctx, span := startSpan(ctx, "es.CreateSnapshot",
		attribute.String("aggregate_id", aggregateID),
		attribute.Int64("version", int64(in.Version)),
	)

	snap, err := s.saveSnapshot(ctx, aggregateID, in)

	res.Duration = time.Since(startAt)
	endSpan(span, err)
	if err != nil {
		res.fail(err)
		s.log.Warn(
			"create snapshot failed",
			slog.String("aggregate_id", aggregateID),
			in.Version.SlogAttr(),
			slog.Any("error", err),
		)
		return res
	}

	res.Success = true
	res.SnapshotID = snap.ID
	res.Version = snap.Version
	res.Size = snap.Size
	s.log.Debug("snapshot created", snap.logAttrs())
	return res
}

func (s *Store) saveSnapshot(ctx context.Context, aggregateID string, in SnapshotInput) (SnapshotRecord, error) {
	if err := s.checkStarted(); err != nil {
		return SnapshotRecord{}, err
	}
	if aggregateID == "" {
		return SnapshotRecord{}, fmt.Errorf("%w: aggregate id is empty", ErrInvalidArgument)
	}
	if in.Version == 0 {
		return SnapshotRecord{}, fmt.Errorf("%w: snapshot version must be positive", ErrInvalidArgument)
	}

	id, err := gonanoid.New()
	if err != nil {
		return SnapshotRecord{}, internalErr("generate snapshot id", err)
	}
	data := in.Data
	if len(data) == 0 {
		data = []byte("null")
	}
	snap := SnapshotRecord{
		ID:             id,
		AggregateID:    aggregateID,
		Version:        in.Version,
		Data:           data,
		Metadata:       in.Metadata,
		TenantID:       CallerFrom(ctx).TenantID,
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
		ExpirationTime: in.ExpirationTime,
		Size:           len(data),
	}

	existing, err := s.snapshots.Get(ctx, aggregateID, in.Version)
	if err != nil {
		return SnapshotRecord{}, internalErr("load snapshot", err)
	}

	timer := s.metrics.SnapshotSaveDuration()
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return SnapshotRecord{}, internalErr("save snapshot", err)
	}
	timer.ObserveDuration()

	if existing == nil {
		s.stats.recordSnapshots(1, s.now())
	}
	return snap, nil
}

// GetSnapshot returns the snapshot with the highest version, nil when the
// aggregate has none.
func (s *Store) GetSnapshot(ctx context.Context, aggregateID string) (*SnapshotRecord, error) {
	return s.loadSnapshot(ctx, aggregateID, 0)
}

// GetSnapshotAt returns the snapshot at exactly version, nil when absent.
func (s *Store) GetSnapshotAt(ctx context.Context, aggregateID string, version Version) (*SnapshotRecord, error) {
	if version == 0 {
		return nil, fmt.Errorf("%w: snapshot version must be positive", ErrInvalidArgument)
	}
	return s.loadSnapshot(ctx, aggregateID, version)
}

func (s *Store) loadSnapshot(ctx context.Context, aggregateID string, version Version) (_ *SnapshotRecord, err error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "es.GetSnapshot",
		attribute.String("aggregate_id", aggregateID),
		attribute.Int64("version", int64(version)),
	)
	defer func() { endSpan(span, err) }()
	defer s.metrics.SnapshotLoadDuration().ObserveDuration()

	var snap *SnapshotRecord
	if version == 0 {
		snap, err = s.snapshots.Latest(ctx, aggregateID)
	} else {
		snap, err = s.snapshots.Get(ctx, aggregateID, version)
	}
	if err != nil {
		return nil, internalErr("load snapshot", err)
	}
	return snap, nil
}

// DeleteSnapshot removes the snapshot at exactly version and reports whether
// it existed.
func (s *Store) DeleteSnapshot(ctx context.Context, aggregateID string, version Version) (bool, error) {
	if err := s.checkStarted(); err != nil {
		return false, err
	}
	ok, err := s.snapshots.Delete(ctx, aggregateID, version)
	if err != nil {
		return false, internalErr("delete snapshot", err)
	}
	if ok {
		s.stats.recordSnapshots(-1, s.now())
		s.log.Debug("snapshot deleted", slog.String("aggregate_id", aggregateID), version.SlogAttr())
	}
	return ok, nil
}
