package es

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
)

// EventRecord is the unit of storage in an EventLog. Records are immutable
// once committed; only Deleted flips from false to true.
type EventRecord struct {
	ID          string `json:"id"`
	// Seq is the global commit position assigned by the log. Records of one
	// batch may share it; (Seq, Version) is a total order.
	Seq         uint64 `json:"seq"`
	AggregateID string `json:"aggregate_id"`
	Type        string `json:"type"`

	Payload  json.RawMessage `json:"payload"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Version  Version         `json:"version"`

	TenantID      string `json:"tenant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`

	CreatedAt time.Time `json:"created_at"` // when the event occurred, not when it was written
	Deleted   bool      `json:"deleted"`
	Checksum  string    `json:"checksum"`
}

func (r EventRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: event id is empty", ErrInvalidArgument)
	}
	if r.AggregateID == "" {
		return fmt.Errorf("%w: event aggregate id is empty", ErrInvalidArgument)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: event type is empty (id=%s)", ErrInvalidArgument, r.ID)
	}
	if r.Version == 0 {
		return fmt.Errorf("%w: event version is zero (id=%s)", ErrInvalidArgument, r.ID)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("%w: event created at is zero (id=%s)", ErrInvalidArgument, r.ID)
	}
	return nil
}

// Size approximates the stored size of the record in bytes.
func (r EventRecord) Size() int {
	n := len(r.Payload)
	if len(r.Metadata) > 0 {
		if md, err := json.Marshal(r.Metadata); err == nil {
			n += len(md)
		}
	}
	return n
}

// ComputeChecksum returns the blake2b-256 digest over the identity and
// payload of the record.
func (r EventRecord) ComputeChecksum() string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	h.Write([]byte(r.AggregateID))
	h.Write([]byte{0})
	binary.BigEndian.PutUint64(buf[:], uint64(r.Version))
	h.Write(buf[:])
	h.Write([]byte(r.Type))
	h.Write([]byte{0})
	h.Write(r.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the stored checksum matches the record contents.
func (r EventRecord) Verify() bool {
	return r.Checksum != "" && r.Checksum == r.ComputeChecksum()
}

func (r EventRecord) logAttrs() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", r.ID),
		slog.String("aggregate_id", r.AggregateID),
		slog.String("type", r.Type),
		r.Version.SlogAttr(),
		slog.Uint64("seq", r.Seq),
	)
}

// SnapshotRecord is a cached, non-authoritative copy of aggregate state at
// Version. The event log can always rebuild state without it.
type SnapshotRecord struct {
	ID             string          `json:"snapshot_id"`
	AggregateID    string          `json:"aggregate_id"`
	Version        Version         `json:"version"`
	Data           json.RawMessage `json:"data"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	TenantID       string          `json:"tenant_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpirationTime *time.Time      `json:"expiration_time,omitempty"`
	Size           int             `json:"size"`
}

// Key returns the (aggregate, version) identity of the snapshot.
func (s SnapshotRecord) Key() SnapshotKey {
	return SnapshotKey{AggregateID: s.AggregateID, Version: s.Version}
}

// Expired reports whether the snapshot's expiration time is at or before now.
func (s SnapshotRecord) Expired(now time.Time) bool {
	return s.ExpirationTime != nil && !s.ExpirationTime.After(now)
}

func (s SnapshotRecord) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.ID),
		slog.String("aggregate_id", s.AggregateID),
		s.Version.SlogAttr(),
		slog.Int("size", s.Size),
	)
}

// SnapshotKey identifies one snapshot.
type SnapshotKey struct {
	AggregateID string
	Version     Version
}

// ValidateBatch checks that records form the next contiguous run of the
// aggregate after expected and are individually valid. EventLog
// implementations call it before writing anything.
func ValidateBatch(aggregateID string, expected Version, records []EventRecord) error {
	if aggregateID == "" {
		return fmt.Errorf("%w: aggregate id is empty", ErrInvalidArgument)
	}
	if len(records) == 0 {
		return ErrNoEvents
	}
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.AggregateID != aggregateID {
			return fmt.Errorf("%w: record %s belongs to aggregate %q", ErrInvalidArgument, r.ID, r.AggregateID)
		}
		if want := expected.Add(i + 1); r.Version != want {
			return fmt.Errorf("%w: record %s has version %d, want %d", ErrInvalidArgument, r.ID, r.Version, want)
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate event id %s", ErrInvalidArgument, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
