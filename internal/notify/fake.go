package notify

import (
	"context"
	"sync"
)

// FakePublisher records published events for tests.
type FakePublisher struct {
	mu        sync.Mutex
	Err       error
	Published []FakePublish
}

// FakePublish captures one Publish invocation.
type FakePublish struct {
	Group string
	Event []byte
}

var _ Publisher = &FakePublisher{}

func (f *FakePublisher) Publish(_ context.Context, group string, event []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	stored := make([]byte, len(event))
	copy(stored, event)
	f.Published = append(f.Published, FakePublish{Group: group, Event: stored})
	return nil
}

// Count returns the number of delivered events. Safe for concurrent use.
func (f *FakePublisher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published)
}
