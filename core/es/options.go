package es

import (
	"log/slog"
	"time"
)

const (
	DefaultStatisticsInterval = time.Minute
	DefaultRetentionInterval  = time.Hour
	DefaultRetentionDays      = 30
	DefaultVersionCacheSize   = 4096
)

type storeOptions struct {
	log                *slog.Logger
	events             EventLog
	snapshots          SnapshotStore
	metrics            Metrics
	publisher          Publisher
	statisticsInterval time.Duration
	retentionInterval  time.Duration
	retentionDays      int
	versionCacheSize   int
	now                func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

func WithLog(l *slog.Logger) StoreOption            { return func(o *storeOptions) { o.log = l } }
func WithEventLog(l EventLog) StoreOption           { return func(o *storeOptions) { o.events = l } }
func WithSnapshotStore(s SnapshotStore) StoreOption { return func(o *storeOptions) { o.snapshots = s } }
func WithMetrics(m Metrics) StoreOption             { return func(o *storeOptions) { o.metrics = m } }

// WithPublisher registers a hook that receives every committed batch.
func WithPublisher(p Publisher) StoreOption { return func(o *storeOptions) { o.publisher = p } }

// WithStatisticsInterval sets how often statistics are recomputed from
// storage. Zero or negative disables the periodic refresh.
func WithStatisticsInterval(d time.Duration) StoreOption {
	return func(o *storeOptions) { o.statisticsInterval = d }
}

// WithRetentionInterval sets how often expired snapshots are swept. Zero or
// negative disables the periodic sweep.
func WithRetentionInterval(d time.Duration) StoreOption {
	return func(o *storeOptions) { o.retentionInterval = d }
}

// WithRetentionDays sets the retention passed to the periodic sweep.
func WithRetentionDays(days int) StoreOption {
	return func(o *storeOptions) {
		if days >= 0 {
			o.retentionDays = days
		}
	}
}

// WithVersionCacheSize bounds the number of aggregate versions kept in
// memory between appends. Zero disables the cache.
func WithVersionCacheSize(n int) StoreOption {
	return func(o *storeOptions) {
		if n >= 0 {
			o.versionCacheSize = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func newStoreOptions(opts ...StoreOption) storeOptions {
	options := storeOptions{
		statisticsInterval: DefaultStatisticsInterval,
		retentionInterval:  DefaultRetentionInterval,
		retentionDays:      DefaultRetentionDays,
		versionCacheSize:   DefaultVersionCacheSize,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.events == nil {
		options.events = NewInMemoryEventLog()
	}
	if options.snapshots == nil {
		options.snapshots = NewInMemorySnapshotStore()
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}
	return options
}
