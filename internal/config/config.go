// Package config loads the evstore process configuration from EVSTORE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
)

const Prefix = "EVSTORE_"

// Event log backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

// Snapshot backends. SnapshotsDefault keeps snapshots next to the events.
const (
	SnapshotsDefault = "backend"
	SnapshotsMemory  = "memory"
	SnapshotsRedis   = "redis"
	SnapshotsNATSKV  = "nats-kv"
)

type Config struct {
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":9090"`

	Backend   string `env:"BACKEND" envDefault:"memory"`
	Snapshots string `env:"SNAPSHOTS" envDefault:"backend"`

	SQLite   SQLite   `envPrefix:"SQLITE_"`
	Postgres Postgres `envPrefix:"POSTGRES_"`
	NATS     NATS     `envPrefix:"NATS_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`

	StatisticsInterval time.Duration `env:"STATISTICS_INTERVAL" envDefault:"1m"`
	RetentionInterval  time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`
	RetentionDays      int           `env:"RETENTION_DAYS" envDefault:"30"`

	LoadTest LoadTest `envPrefix:"LOADTEST_"`
}

type SQLite struct {
	Path string `env:"PATH" envDefault:"evstore.db"`
}

type Postgres struct {
	URL      string `env:"URL"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`
}

type NATS struct {
	URL            string `env:"URL" envDefault:"nats://127.0.0.1:4222"`
	SubjectPrefix  string `env:"SUBJECT_PREFIX" envDefault:"evstore.events"`
	Stream         string `env:"STREAM" envDefault:"EVSTORE_EVENTS"`
	SnapshotBucket string `env:"SNAPSHOT_BUCKET" envDefault:"evstore_snapshots"`
}

type Redis struct {
	Addr      string `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	Namespace string `env:"NAMESPACE" envDefault:"evstore"`
}

// Kafka publishing is enabled when Brokers is set.
type Kafka struct {
	Brokers string `env:"BROKERS"`
	Topic   string `env:"TOPIC" envDefault:"evstore.events"`
}

// LoadTest drives synthetic appends at startup when Events > 0.
type LoadTest struct {
	Events     int `env:"EVENTS" envDefault:"0"`
	Aggregates int `env:"AGGREGATES" envDefault:"100"`
	BatchSize  int `env:"BATCH_SIZE" envDefault:"10"`
	Workers    int `env:"WORKERS" envDefault:"8"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{BackendMemory, BackendSQLite, BackendPostgres, BackendNATS}, c.Backend) {
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if !slices.Contains([]string{SnapshotsDefault, SnapshotsMemory, SnapshotsRedis, SnapshotsNATSKV}, c.Snapshots) {
		errs = append(errs, fmt.Errorf("unknown snapshot backend %q", c.Snapshots))
	}
	if c.Backend == BackendPostgres && c.Postgres.URL == "" {
		errs = append(errs, errors.New(Prefix+"POSTGRES_URL is required for the postgres backend"))
	}
	if c.Backend == BackendSQLite && c.SQLite.Path == "" {
		errs = append(errs, errors.New(Prefix+"SQLITE_PATH is required for the sqlite backend"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, errors.New("retention days must not be negative"))
	}
	if c.LoadTest.Events > 0 && (c.LoadTest.Aggregates <= 0 || c.LoadTest.BatchSize <= 0 || c.LoadTest.Workers <= 0) {
		errs = append(errs, errors.New("load test aggregates, batch size and workers must be positive"))
	}
	return errors.Join(errs...)
}
