package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/promoter/internal/store"
)

type recordingHandler struct {
	mu   sync.Mutex
	keys []string
}

func (h *recordingHandler) OnChange(_ context.Context, key, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keys = append(h.keys, key)
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

func TestListenerDispatchesMarkerKeys(t *testing.T) {
	ms := store.NewMemoryStore()
	handler := &recordingHandler{}
	l, err := New(ms, handler, ".metadata")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	// Give the watch a moment to register before writing.
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, ms.Set(ctx, "teamA/serviceX/.metadata", []byte("x")))
	require.NoError(t, ms.Set(ctx, "teamA/serviceX/Dockerfile", []byte("FROM scratch")))
	require.NoError(t, ms.Set(ctx, "teamB/serviceY/.metadata", []byte("y")))

	require.Eventually(t, func() bool {
		return len(handler.seen()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"teamA/serviceX/.metadata", "teamB/serviceY/.metadata"}, handler.seen())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestListenerValidatesInputs(t *testing.T) {
	ms := store.NewMemoryStore()

	_, err := New(nil, &recordingHandler{}, "")
	assert.Error(t, err)

	_, err = New(ms, nil, "")
	assert.Error(t, err)

	l, err := New(ms, &recordingHandler{}, "")
	require.NoError(t, err)
	assert.Equal(t, ".metadata", l.markerSuffix)
}
