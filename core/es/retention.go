package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// CleanupExpiredData removes snapshots whose expiration time has passed.
// Events are never touched. The sweep deletes one snapshot at a time, so a
// failure leaves already removed snapshots removed and is safe to re-run.
func (s *Store) CleanupExpiredData(ctx context.Context, retentionDays int) CleanupResult {
	if err := s.checkStarted(); err != nil {
		res := CleanupResult{RetentionDays: retentionDays}
		res.fail(err)
		return res
	}
	return s.cleanupExpired(ctx, retentionDays)
}

func (s *Store) cleanupExpired(ctx context.Context, retentionDays int) (res CleanupResult) {
	startAt := time.Now()
	res.RetentionDays = retentionDays

	ctx, span := startSpan(ctx, "es.CleanupExpiredData", attribute.Int("retention_days", retentionDays))
	removed, err := s.sweepSnapshots(ctx, retentionDays)
	endSpan(span, err)

	res.SnapshotsRemoved = removed
	res.Duration = time.Since(startAt)
	if removed > 0 {
		s.metrics.SnapshotsExpired(removed)
		s.stats.recordSnapshots(-removed, s.now())
	}

	log := s.log.With(
		slog.Int("retention_days", retentionDays),
		slog.Int("snapshots_removed", removed),
		slog.Duration("duration", res.Duration),
	)
	if err != nil {
		res.fail(err)
		log.Error("retention sweep failed", slog.Any("error", err))
		return res
	}
	res.Success = true
	if removed > 0 {
		log.Info("retention sweep finished")
	} else {
		log.Debug("retention sweep finished")
	}
	return res
}

func (s *Store) sweepSnapshots(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("%w: retention days must not be negative", ErrInvalidArgument)
	}
	expired, err := s.snapshots.Expired(ctx, s.now())
	if err != nil {
		return 0, internalErr("list expired snapshots", err)
	}

	removed := 0
	var errs []error
	for _, key := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.snapshots.Delete(ctx, key.AggregateID, key.Version)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete snapshot %s@%d: %w", key.AggregateID, key.Version, err))
			continue
		}
		if ok {
			removed++
		}
	}
	if len(errs) > 0 {
		return removed, internalErr("sweep snapshots", errors.Join(errs...))
	}
	return removed, nil
}
