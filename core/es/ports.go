package es

import (
	"context"
	"time"
)

type (
	// EventLog is the storage port for the per-aggregate event sequences and
	// the version index.
	//
	// Append must behave as a single compare-and-swap per aggregate: it
	// checks that the index equals expected, appends every record and
	// advances the index by len(records), or does nothing at all. On a
	// mismatch it returns a *ConflictError. Readers never observe a partially
	// appended batch.
	EventLog interface {
		// Version returns the current version of the aggregate, 0 when unknown.
		Version(ctx context.Context, aggregateID string) (Version, error)
		// Append appends records (versions expected+1..expected+n) atomically
		// and returns them as committed, with Seq assigned.
		Append(ctx context.Context, aggregateID string, expected Version, records []EventRecord) ([]EventRecord, error)
		// Load returns every record of the aggregate in version order,
		// tombstoned ones included.
		Load(ctx context.Context, aggregateID string) ([]EventRecord, error)
		// LoadAll returns every record of every aggregate in commit order,
		// tombstoned ones included.
		LoadAll(ctx context.Context) ([]EventRecord, error)
		// Get returns the record with the given id, nil when unknown.
		Get(ctx context.Context, eventID string) (*EventRecord, error)
		// Tombstone marks all records of the aggregate deleted and removes
		// its version index entry. It returns the number of records marked.
		Tombstone(ctx context.Context, aggregateID string) (int, error)
	}

	// SnapshotStore is the storage port for snapshots.
	SnapshotStore interface {
		Save(ctx context.Context, snapshot SnapshotRecord) error
		// Get returns the snapshot at exactly version, nil when absent.
		Get(ctx context.Context, aggregateID string, version Version) (*SnapshotRecord, error)
		// Latest returns the snapshot with the highest version, nil when absent.
		Latest(ctx context.Context, aggregateID string) (*SnapshotRecord, error)
		Delete(ctx context.Context, aggregateID string, version Version) (bool, error)
		DeleteAll(ctx context.Context, aggregateID string) (int, error)
		// Expired lists snapshots whose expiration time is at or before now.
		Expired(ctx context.Context, now time.Time) ([]SnapshotKey, error)
		Count(ctx context.Context) (int, error)
	}

	// Publisher receives batches after they are committed. Errors are logged
	// by the store and never change the outcome of the append.
	Publisher interface {
		Publish(ctx context.Context, records []EventRecord) error
	}
)
