package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and the local dev mode.
// TTLs are enforced at read time rather than by a background sweeper.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]memoryEntry
	lists    map[string][][]byte
	watchers []*memoryWatcher
	closed   bool
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memoryWatcher struct {
	pattern string
	ch      chan Update
	done    <-chan struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryEntry),
		lists:  make(map[string][][]byte),
	}
}

// Get returns the value for key, or ErrNotFound. Expired entries read as missing.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set writes value under key and notifies watchers.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.put(key, value, 0)
	return nil
}

// SetWithTTL writes value under key with a read-time-enforced expiry.
func (m *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.values[key] = entry
	watchers := make([]*memoryWatcher, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	update := Update{Key: key, Value: stored, Op: OpPut}
	for _, w := range watchers {
		if !matchPattern(w.pattern, key) {
			continue
		}
		select {
		case w.ch <- update:
		case <-w.done:
		}
	}
}

// Append pushes value onto the list stored under key.
func (m *MemoryStore) Append(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], stored)
	return nil
}

// List returns the appended values for key. Test helper.
func (m *MemoryStore) List(key string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.lists[key]))
	copy(out, m.lists[key])
	return out
}

// Watch delivers updates for keys matching pattern until ctx is canceled.
func (m *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan Update, error) {
	w := &memoryWatcher{
		pattern: pattern,
		ch:      make(chan Update, 16),
		done:    ctx.Done(),
	}

	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	out := make(chan Update)
	go func() {
		defer close(out)
		defer m.removeWatcher(w)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-w.ch:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemoryStore) removeWatcher(w *memoryWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.watchers {
		if existing == w {
			m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
			return
		}
	}
}

// Close marks the store closed. Existing watchers stop via their contexts.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// matchPattern supports the subset of subject matching the daemon uses:
// ">" matches everything, a trailing ".>"/"*" segment matches a prefix, and
// anything else is an exact match.
func matchPattern(pattern, key string) bool {
	switch {
	case pattern == "" || pattern == ">" || pattern == "*":
		return true
	case strings.HasSuffix(pattern, ">"):
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, ">"))
	default:
		return pattern == key
	}
}
