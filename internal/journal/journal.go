// Package journal persists a local append-only record of pipeline events for
// audit and replay queries. It complements (never replaces) the per-service
// event lists in the shared store.
package journal

import (
	"context"
	"time"
)

// Event types emitted by the build pipeline.
const (
	EventBuildStarted     = "build_started"
	EventImageBuilt       = "image_built"
	EventDecisionRecorded = "decision_recorded"
	EventBuildFinalized   = "build_finalized"
	EventBuildFailed      = "build_failed"
)

// Entry is one journaled pipeline event.
type Entry struct {
	ID          int64
	BuildID     string
	ServicePath string
	EventType   string
	Timestamp   time.Time
	Payload     []byte
	Metadata    map[string]string
}

// Journal defines the interface for persisting and querying pipeline events.
type Journal interface {
	// Append adds a new event. ID and Timestamp are assigned by the journal.
	Append(ctx context.Context, buildID, servicePath, eventType string, payload []byte, metadata map[string]string) error

	// GetByBuildID retrieves all events for a specific build, oldest first.
	GetByBuildID(ctx context.Context, buildID string) ([]Entry, error)

	// GetByServicePath retrieves all events for a service path, oldest first.
	GetByServicePath(ctx context.Context, servicePath string) ([]Entry, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Entry, error)

	// Prune deletes events older than the cutoff and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Close closes the journal and releases resources.
	Close() error
}
