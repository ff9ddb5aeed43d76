package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codewandler/evstore/core/cache"
	"github.com/codewandler/evstore/core/perkey"
)

// Store is the persistence core: an append-only, per-aggregate event log
// with optimistic concurrency, snapshots, filtered stream reads, statistics
// and snapshot retention.
//
// A Store starts stopped. Every operation other than Start, Stop, IsStarted
// and HealthCheck fails with ErrNotStarted until Start is called.
type Store struct {
	log       *slog.Logger
	events    EventLog
	snapshots SnapshotStore
	metrics   Metrics
	publisher Publisher
	stats     *statsCollector
	versions  cache.Cache[string, Version]
	refresh   singleflight.Group
	now       func() time.Time

	statisticsInterval time.Duration
	retentionInterval  time.Duration
	retentionDays      int

	lifecycle   sync.Mutex // serializes Start and Stop
	mu          sync.RWMutex
	running     bool
	sched       *perkey.Scheduler[string]
	cancelTasks context.CancelFunc
	tasks       sync.WaitGroup
}

func NewStore(opts ...StoreOption) *Store {
	options := newStoreOptions(opts...)
	var versions cache.Cache[string, Version] = cache.Nop[string, Version]{}
	if options.versionCacheSize > 0 {
		versions = cache.NewLRU[string, Version](cache.LRUOpts{Size: options.versionCacheSize})
	}
	return &Store{
		log:                options.log.With(slog.String("component", "event_store")),
		events:             options.events,
		snapshots:          options.snapshots,
		metrics:            options.metrics,
		publisher:          options.publisher,
		stats:              newStatsCollector(),
		versions:           versions,
		now:                options.now,
		statisticsInterval: options.statisticsInterval,
		retentionInterval:  options.retentionInterval,
		retentionDays:      options.retentionDays,
	}
}

// Start loads initial statistics and launches the periodic statistics
// refresh and retention sweep. It is a no-op when already running.
func (s *Store) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsStarted() {
		return nil
	}

	if err := s.refreshStatistics(ctx); err != nil {
		return fmt.Errorf("load statistics: %w", err)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	s.startTask(taskCtx, "statistics", s.statisticsInterval, func(ctx context.Context) {
		if err := s.refreshStatistics(ctx); err != nil {
			s.log.Error("statistics refresh failed", slog.Any("error", err))
		}
	})
	s.startTask(taskCtx, "retention", s.retentionInterval, func(ctx context.Context) {
		s.cleanupExpired(ctx, s.retentionDays)
	})

	s.mu.Lock()
	s.sched = perkey.New[string]()
	s.cancelTasks = cancel
	s.running = true
	s.mu.Unlock()

	s.log.Info(
		"event store started",
		slog.Duration("statistics_interval", s.statisticsInterval),
		slog.Duration("retention_interval", s.retentionInterval),
		slog.Int("retention_days", s.retentionDays),
	)
	return nil
}

// Stop cancels the background tasks and waits for queued appends to
// commit. It is a no-op when already stopped.
func (s *Store) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, sched := s.cancelTasks, s.sched
	s.cancelTasks, s.sched = nil, nil
	s.mu.Unlock()

	cancel()
	s.tasks.Wait()
	sched.Close()

	s.log.Info("event store stopped")
	return nil
}

func (s *Store) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

const healthProbeID = "_health"

// HealthCheck reports whether the store is running and its event log answers.
func (s *Store) HealthCheck(ctx context.Context) Health {
	h := Health{Started: s.IsStarted(), CheckedAt: s.now()}
	if !h.Started {
		h.Error = ErrNotStarted.Error()
		return h
	}
	if _, err := s.events.Version(ctx, healthProbeID); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// GetStatistics returns a copy of the current counters.
func (s *Store) GetStatistics(_ context.Context) (Statistics, error) {
	if err := s.checkStarted(); err != nil {
		return Statistics{}, err
	}
	return s.stats.get(), nil
}

// RefreshStatistics recomputes all counters from storage.
func (s *Store) RefreshStatistics(ctx context.Context) error {
	if err := s.checkStarted(); err != nil {
		return err
	}
	return s.refreshStatistics(ctx)
}

// refreshStatistics is shared by concurrent callers, so the scan runs on a
// context that no single caller can cancel.
func (s *Store) refreshStatistics(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	_, err, _ := s.refresh.Do("statistics", func() (any, error) {
		startAt := time.Now()
		records, err := s.events.LoadAll(ctx)
		if err != nil {
			return nil, internalErr("load events", err)
		}
		n, err := s.snapshots.Count(ctx)
		if err != nil {
			return nil, internalErr("count snapshots", err)
		}
		stats := computeStatistics(records, n, s.now())
		s.stats.replace(stats)
		s.metrics.StatisticsRefreshed(stats)
		s.log.Debug(
			"statistics refreshed",
			slog.Int64("events", stats.EventCount),
			slog.Int64("aggregates", stats.AggregateCount),
			slog.Int64("snapshots", stats.SnapshotCount),
			slog.Duration("duration", time.Since(startAt)),
		)
		return nil, nil
	})
	return err
}

func (s *Store) startTask(ctx context.Context, name string, every time.Duration, fn func(context.Context)) {
	if every <= 0 {
		s.log.Debug("background task disabled", slog.String("task", name))
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Store) checkStarted() error {
	if !s.IsStarted() {
		return ErrNotStarted
	}
	return nil
}

func (s *Store) scheduler() (*perkey.Scheduler[string], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil, ErrNotStarted
	}
	return s.sched, nil
}

// serialize runs fn inside the aggregate's critical section. A caller whose
// ctx ends while waiting gives up its turn. Once fn holds the aggregate it
// runs on a detached context and finishes even if the caller stops waiting.
func (s *Store) serialize(ctx context.Context, aggregateID string, fn func(ctx context.Context) error) error {
	sched, err := s.scheduler()
	if err != nil {
		return err
	}
	commitCtx := context.WithoutCancel(ctx)
	err = sched.DoContext(ctx, aggregateID, func() error { return fn(commitCtx) })
	if errors.Is(err, perkey.ErrClosed) {
		return ErrNotStarted
	}
	return err
}
