// Package kv is a narrow key/value port. The event store keeps snapshots
// behind it so any bucket-like backend (NATS KV, Redis, memory) can hold them.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kv: key not found")

// Entry is a stored value. Meta travels with Data but is opaque to callers
// that only use PutJSON and GetJSON.
type Entry struct {
	Data []byte
	Meta map[string]any
}

type PutOptions struct {
	// TTL lets the backend drop the entry on its own. Zero keeps it forever.
	// Backends without per-key expiry ignore it.
	TTL time.Duration
}

type Reader interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Keys lists all keys starting with prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type Writer interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Delete(ctx context.Context, key string) error
}

type Store interface {
	Reader
	Writer
}

// PutJSON stores v encoded as JSON.
func PutJSON[T any](ctx context.Context, w Writer, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return w.Put(ctx, key, Entry{Data: data}, opts)
}

// GetJSON loads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, r Reader, key string) (T, error) {
	var out T
	entry, err := r.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(entry.Data, &out); err != nil {
		return out, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return out, nil
}
