package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, SnapshotsDefault, cfg.Snapshots)
	assert.Equal(t, time.Minute, cfg.StatisticsInterval)
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, "evstore.events", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Zero(t, cfg.LoadTest.Events)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("EVSTORE_LOG_LEVEL", "debug")
	t.Setenv("EVSTORE_BACKEND", "postgres")
	t.Setenv("EVSTORE_POSTGRES_URL", "postgres://u:p@localhost/evstore")
	t.Setenv("EVSTORE_SNAPSHOTS", "redis")
	t.Setenv("EVSTORE_REDIS_DB", "2")
	t.Setenv("EVSTORE_RETENTION_INTERVAL", "15m")
	t.Setenv("EVSTORE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://u:p@localhost/evstore", cfg.Postgres.URL)
	assert.Equal(t, SnapshotsRedis, cfg.Snapshots)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 15*time.Minute, cfg.RetentionInterval)
	assert.Equal(t, "k1:9092,k2:9092", cfg.Kafka.Brokers)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("EVSTORE_RETENTION_DAYS", "not-an-int")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{Backend: BackendMemory, Snapshots: SnapshotsDefault, RetentionDays: 30}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "mongo" }, errMsg: `unknown backend "mongo"`},
		{name: "unknown snapshots", mutate: func(c *Config) { c.Snapshots = "s3" }, errMsg: `unknown snapshot backend "s3"`},
		{name: "postgres without url", mutate: func(c *Config) { c.Backend = BackendPostgres }, errMsg: "EVSTORE_POSTGRES_URL"},
		{name: "negative retention", mutate: func(c *Config) { c.RetentionDays = -1 }, errMsg: "retention days"},
		{name: "load test without workers", mutate: func(c *Config) {
			c.LoadTest = LoadTest{Events: 10, Aggregates: 1, BatchSize: 1}
		}, errMsg: "load test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
