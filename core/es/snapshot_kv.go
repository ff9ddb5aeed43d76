package es

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/evstore/ports/kv"
)

const defaultSnapshotKeyPrefix = "snap"

// KVSnapshotStore keeps snapshots in any kv.Store. Keys have the form
// <prefix>.<base64url(aggregate id)>.<zero padded version>, so a lexical
// key listing per aggregate is also a version ordering.
type KVSnapshotStore struct {
	kv     kv.Store
	prefix string
	now    func() time.Time
}

type KVSnapshotStoreOption func(*KVSnapshotStore)

// WithKeyPrefix sets the key namespace (default "snap").
func WithKeyPrefix(prefix string) KVSnapshotStoreOption {
	return func(s *KVSnapshotStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewKVSnapshotStore(store kv.Store, opts ...KVSnapshotStoreOption) *KVSnapshotStore {
	s := &KVSnapshotStore{kv: store, prefix: defaultSnapshotKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVSnapshotStore) aggPrefix(aggregateID string) string {
	return s.prefix + "." + base64.RawURLEncoding.EncodeToString([]byte(aggregateID)) + "."
}

func (s *KVSnapshotStore) key(aggregateID string, version Version) string {
	return fmt.Sprintf("%s%020d", s.aggPrefix(aggregateID), uint64(version))
}

func (s *KVSnapshotStore) Save(ctx context.Context, snapshot SnapshotRecord) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	opts := kv.PutOptions{}
	if snapshot.ExpirationTime != nil {
		if ttl := snapshot.ExpirationTime.Sub(s.now()); ttl > 0 {
			opts.TTL = ttl
		}
	}
	return s.kv.Put(ctx, s.key(snapshot.AggregateID, snapshot.Version), kv.Entry{Data: data}, opts)
}

func (s *KVSnapshotStore) getKey(ctx context.Context, key string) (*SnapshotRecord, error) {
	rec, err := kv.GetJSON[SnapshotRecord](ctx, s.kv, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *KVSnapshotStore) Get(ctx context.Context, aggregateID string, version Version) (*SnapshotRecord, error) {
	return s.getKey(ctx, s.key(aggregateID, version))
}

func (s *KVSnapshotStore) Latest(ctx context.Context, aggregateID string) (*SnapshotRecord, error) {
	keys, err := s.kv.Keys(ctx, s.aggPrefix(aggregateID))
	if err != nil {
		return nil, err
	}
	// highest version first; skip keys that vanished since listing
	for i := len(keys) - 1; i >= 0; i-- {
		rec, err := s.getKey(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *KVSnapshotStore) Delete(ctx context.Context, aggregateID string, version Version) (bool, error) {
	key := s.key(aggregateID, version)
	if _, err := s.kv.Get(ctx, key); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func (s *KVSnapshotStore) DeleteAll(ctx context.Context, aggregateID string) (int, error) {
	keys, err := s.kv.Keys(ctx, s.aggPrefix(aggregateID))
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

func (s *KVSnapshotStore) Expired(ctx context.Context, now time.Time) ([]SnapshotKey, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+".")
	if err != nil {
		return nil, err
	}
	var out []SnapshotKey
	for _, k := range keys {
		rec, err := s.getKey(ctx, k)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Expired(now) {
			out = append(out, rec.Key())
		}
	}
	return out, nil
}

func (s *KVSnapshotStore) Count(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+".")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

var _ SnapshotStore = (*KVSnapshotStore)(nil)
