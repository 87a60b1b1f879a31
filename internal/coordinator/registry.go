package coordinator

import "sync"

// InProgress is the build-in-progress registry: at most one in-flight build
// per service path. It is injected into the Coordinator rather than shared as
// a package global so tests get per-instance isolation.
type InProgress struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInProgress creates an empty registry.
func NewInProgress() *InProgress {
	return &InProgress{active: make(map[string]struct{})}
}

// TryAcquire atomically inserts servicePath if absent. It returns false when
// a build for that path is already running; the caller must drop the signal.
func (r *InProgress) TryAcquire(servicePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[servicePath]; exists {
		return false
	}
	r.active[servicePath] = struct{}{}
	return true
}

// Release removes servicePath unconditionally. Safe to call for paths that
// were never acquired.
func (r *InProgress) Release(servicePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, servicePath)
}

// Has reports whether a build for servicePath is in flight.
func (r *InProgress) Has(servicePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.active[servicePath]
	return exists
}

// Active returns the number of in-flight builds.
func (r *InProgress) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
