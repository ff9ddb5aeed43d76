// Command evstore runs an event store with the backend selected by EVSTORE_*
// environment variables and serves /metrics, /healthz and /stats over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	promadapter "github.com/codewandler/evstore/adapters/prometheus"
	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "evstore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []es.StoreOption{
		es.WithLog(log),
		es.WithEventLog(b.events),
		es.WithSnapshotStore(b.snapshots),
		es.WithMetrics(promadapter.NewStoreMetrics(reg)),
		es.WithStatisticsInterval(cfg.StatisticsInterval),
		es.WithRetentionInterval(cfg.RetentionInterval),
		es.WithRetentionDays(cfg.RetentionDays),
	}
	if b.publisher != nil {
		opts = append(opts, es.WithPublisher(b.publisher))
	}

	store := es.NewStore(opts...)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("start store: %w", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			log.Error("stop store", slog.Any("error", err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newHandler(store, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	if cfg.LoadTest.Events > 0 {
		go func() {
			if err := runLoadTest(ctx, store, cfg.LoadTest, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("load test failed", slog.Any("error", err))
			}
		}()
	}

	log.Info(
		"evstore started",
		slog.String("backend", cfg.Backend),
		slog.String("snapshots", cfg.Snapshots),
		slog.Bool("kafka", b.publisher != nil),
	)

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
