package es

import "time"

// OperationResult is the outcome shape of report-style operations
// (StoreEvents, CreateSnapshot, CleanupExpiredData). They never return a Go
// error: failures are reported with Success=false, a description in Error
// and the underlying error in Err for errors.Is/As.
type OperationResult struct {
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

func (r *OperationResult) fail(err error) {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
}

// AppendResult is returned by StoreEvents.
type AppendResult struct {
	OperationResult
	Version       Version `json:"version"`
	EventCount    int     `json:"event_count"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// SnapshotResult is returned by CreateSnapshot.
type SnapshotResult struct {
	OperationResult
	SnapshotID string  `json:"snapshot_id,omitempty"`
	Version    Version `json:"version"`
	Size       int     `json:"size"`
}

// CleanupResult is returned by CleanupExpiredData.
type CleanupResult struct {
	OperationResult
	RetentionDays    int `json:"retention_days"`
	SnapshotsRemoved int `json:"snapshots_removed"`
}

// Health is returned by HealthCheck.
type Health struct {
	Healthy   bool      `json:"healthy"`
	Started   bool      `json:"started"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
