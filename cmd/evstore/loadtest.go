package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/internal/config"
)

type loadEvent struct {
	Worker int `json:"worker"`
	Seq    int `json:"seq"`
}

// runLoadTest appends cfg.Events events in batches spread over
// cfg.Aggregates aggregates. Every worker owns a disjoint set of aggregates,
// so conflicts only occur if something else writes to them.
func runLoadTest(ctx context.Context, store *es.Store, cfg config.LoadTest, log *slog.Logger) error {
	var (
		written   atomic.Int64
		conflicts atomic.Int64
		startAt   = time.Now()
		perWorker = cfg.Events / cfg.Workers
		aggsEach  = max(1, cfg.Aggregates/cfg.Workers)
	)

	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			versions := map[string]es.Version{}
			for n := 0; n < perWorker; {
				slot := (n / cfg.BatchSize) % aggsEach
				aggID := fmt.Sprintf("loadtest-%d", w+slot*cfg.Workers)
				batch := make([]es.Event, 0, cfg.BatchSize)
				for i := 0; i < cfg.BatchSize && n+i < perWorker; i++ {
					batch = append(batch, es.MustEvent(loadEvent{Worker: w, Seq: n + i}, es.WithEventType("LoadTested")))
				}

				res := store.StoreEvents(ctx, aggID, batch, versions[aggID])
				if errors.Is(res.Err, es.ErrConcurrencyConflict) {
					conflicts.Add(1)
					v, err := store.GetAggregateVersion(ctx, aggID)
					if err != nil {
						return err
					}
					versions[aggID] = v
					continue
				}
				if !res.Success {
					return res.Err
				}
				versions[aggID] = res.Version
				n += len(batch)
				written.Add(int64(len(batch)))
			}
			return nil
		})
	}

	err := g.Wait()
	took := time.Since(startAt)
	log.Info(
		"load test finished",
		slog.Int64("events", written.Load()),
		slog.Int64("conflicts", conflicts.Load()),
		slog.Duration("duration", took),
		slog.Int("events_per_second", int(float64(written.Load())/took.Seconds())),
	)
	return err
}
