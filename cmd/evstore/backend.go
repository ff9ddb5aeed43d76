package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/evstore/adapters/kafka"
	"github.com/codewandler/evstore/adapters/nats"
	"github.com/codewandler/evstore/adapters/postgres"
	"github.com/codewandler/evstore/adapters/redis"
	"github.com/codewandler/evstore/adapters/sqlite"
	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/internal/config"
)

type backend struct {
	events    es.EventLog
	snapshots es.SnapshotStore
	publisher es.Publisher
	closers   []func() error
}

func (b *backend) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// close releases resources in reverse order of acquisition.
func (b *backend) close(log *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Error("close backend", slog.Any("error", err))
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			b.close(log)
		}
	}()

	// one NATS connection serves both the stream and the KV bucket
	connectNats := nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL))

	switch cfg.Backend {
	case config.BackendMemory:
		b.events = es.NewInMemoryEventLog()
		b.snapshots = es.NewInMemorySnapshotStore()

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, sqlite.WithLog(log))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.onClose(db.Close)
		b.events, b.snapshots = db.EventLog(), db.SnapshotStore()

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.URL, postgres.WithLog(log), postgres.WithMaxConns(cfg.Postgres.MaxConns))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.onClose(func() error { db.Close(); return nil })
		b.events, b.snapshots = db.EventLog(), db.SnapshotStore()

	case config.BackendNATS:
		el, err := nats.NewEventLog(nats.EventLogConfig{
			Connect:       connectNats,
			Log:           log,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			StreamName:    cfg.NATS.Stream,
		})
		if err != nil {
			return nil, fmt.Errorf("open nats event log: %w", err)
		}
		b.onClose(el.Close)
		b.events = el
		b.snapshots, err = natsSnapshots(cfg, connectNats, b)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	switch cfg.Snapshots {
	case config.SnapshotsDefault:
	case config.SnapshotsMemory:
		b.snapshots = es.NewInMemorySnapshotStore()
	case config.SnapshotsRedis:
		rs := redis.NewKvStore(redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
		})
		b.onClose(rs.Close)
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.snapshots = es.NewKVSnapshotStore(rs)
	case config.SnapshotsNATSKV:
		if cfg.Backend != config.BackendNATS {
			if b.snapshots, err = natsSnapshots(cfg, connectNats, b); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Kafka.Brokers != "" {
		p, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Log:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		b.onClose(p.Close)
		b.publisher = p
	}
	return b, nil
}

func natsSnapshots(cfg config.Config, connect nats.Connector, b *backend) (es.SnapshotStore, error) {
	kv, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: cfg.NATS.SnapshotBucket})
	if err != nil {
		return nil, fmt.Errorf("open nats kv: %w", err)
	}
	b.onClose(kv.Close)
	return es.NewKVSnapshotStore(kv), nil
}
