// Package redis implements kv.Store on Redis. Snapshots written through
// es.KVSnapshotStore expire on their own when they carry a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/codewandler/evstore/ports/kv"
)

const scanBatch = 256

type Config struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key, default "evstore".
	Namespace string
}

// KvStore is a kv.Store on a single Redis database.
type KvStore struct {
	rdb       *redis.Client
	namespace string
}

type storedEntry struct {
	Data []byte         `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

func NewKvStore(cfg Config) *KvStore {
	return NewKvStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Namespace)
}

func NewKvStoreWithClient(rdb *redis.Client, namespace string) *KvStore {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "evstore"
	}
	return &KvStore{rdb: rdb, namespace: namespace + ":"}
}

func (k *KvStore) Ping(ctx context.Context) error { return k.rdb.Ping(ctx).Err() }

func (k *KvStore) Close() error { return k.rdb.Close() }

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	data, err := json.Marshal(storedEntry{Data: entry.Data, Meta: entry.Meta})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	// zero TTL keeps the key forever
	if err := k.rdb.Set(ctx, k.namespace+key, data, opts.TTL).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := k.rdb.Get(ctx, k.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	var e storedEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return kv.Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return kv.Entry{Data: e.Data, Meta: e.Meta}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.rdb.Del(ctx, k.namespace+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys walks the keyspace with SCAN, so it does not block the server.
func (k *KvStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := k.rdb.Scan(ctx, 0, escapePattern(k.namespace+prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), k.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	// SCAN may return a key more than once
	slices.Sort(out)
	return slices.Compact(out), nil
}

func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ kv.Store = (*KvStore)(nil)
