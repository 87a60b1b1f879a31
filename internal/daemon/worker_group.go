package daemon

import (
	"context"
	"sync"
)

// WorkerGroup tracks daemon-owned build goroutines and provides a safe
// shutdown boundary so we never call WaitGroup.Add concurrently with Wait.
// It satisfies the coordinator's TaskRunner.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	active   int
	stopping bool
}

// Go starts a worker if the group is not stopping. Returns false once
// shutdown has begun; callers must treat that as a dropped task.
func (g *WorkerGroup) Go(fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	g.active++
	go func() {
		defer func() {
			g.mu.Lock()
			g.active--
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
	return true
}

// Active reports the number of currently running workers.
func (g *WorkerGroup) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// StopAndWait prevents new workers from being started and waits for all
// current workers to exit, bounded by ctx.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
