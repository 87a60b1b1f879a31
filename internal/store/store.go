// Package store abstracts the shared key-value store used for build specs,
// change signals, build records and review decisions.
//
// Keys are dot- or slash-delimited strings following the conventions of the
// wider platform: change signals live at `<service_path>/<marker>`, build
// specs at `<service_path>/Dockerfile`, decisions at
// `<service_path>.build.result`.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Operation classifies a watch update.
type Operation string

const (
	OpPut    Operation = "put"
	OpDelete Operation = "delete"
)

// Update is a single change notification from Watch.
type Update struct {
	Key   string
	Value []byte
	Op    Operation
}

// Store provides typed access to the shared key-value store.
//
// No transactions are assumed across keys; each operation is individually
// durable at the level of a simple persistent key/value service.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL writes value under key with a bounded lifetime. Replacing
	// an existing key is last-writer-wins, not atomic: concurrent writers
	// may observe each other's values and watchers may see a transient
	// delete. Suitable for change signals, not for read-modify-write state.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Append pushes value onto the durable list stored under key. Appends
	// are never rewritten; the list is the audit/replay source of truth.
	Append(ctx context.Context, key string, value []byte) error

	// Watch delivers change notifications for keys matching pattern until
	// ctx is canceled. The returned channel is closed on cancellation.
	Watch(ctx context.Context, pattern string) (<-chan Update, error)

	// Close releases the underlying connection.
	Close() error
}
