package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/promoter/internal/imagebuilder"
	"git.home.luguber.info/inful/promoter/internal/notify"
	"git.home.luguber.info/inful/promoter/internal/store"
)

// faultStore wraps a MemoryStore and fails selected operations per key.
type faultStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	getErrs   map[string]error
	setErrs   map[string]error
	appendErr map[string]error
}

func newFaultStore() *faultStore {
	return &faultStore{
		MemoryStore: store.NewMemoryStore(),
		getErrs:     make(map[string]error),
		setErrs:     make(map[string]error),
		appendErr:   make(map[string]error),
	}
}

func (f *faultStore) failGet(key string, err error)    { f.mu.Lock(); f.getErrs[key] = err; f.mu.Unlock() }
func (f *faultStore) failSet(key string, err error)    { f.mu.Lock(); f.setErrs[key] = err; f.mu.Unlock() }
func (f *faultStore) failAppend(key string, err error) { f.mu.Lock(); f.appendErr[key] = err; f.mu.Unlock() }

func (f *faultStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	err := f.getErrs[key]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *faultStore) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	err := f.setErrs[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *faultStore) Append(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	err := f.appendErr[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Append(ctx, key, value)
}

type testEnv struct {
	store     *faultStore
	builder   *imagebuilder.FakeBuilder
	publisher *notify.FakePublisher
	coord     *Coordinator
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newFaultStore(),
		builder:   &imagebuilder.FakeBuilder{},
		publisher: &notify.FakePublisher{},
	}
	cfg := Config{
		RegistryHost:         "reg",
		NotifyGroup:          "deployer",
		DecisionPollInterval: 5 * time.Millisecond,
		DecisionTimeout:      time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	coord, err := New(cfg, Deps{
		Store:     env.store,
		Builder:   env.builder,
		Publisher: env.publisher,
	})
	require.NoError(t, err)
	env.coord = coord
	return env
}

func (e *testEnv) putSpec(t *testing.T, servicePath string) {
	t.Helper()
	require.NoError(t, e.store.Set(context.Background(), servicePath+"/Dockerfile", []byte("FROM scratch")))
}

// decide waits for the pipeline to reset the decision key and then writes the verdict.
func (e *testEnv) decide(t *testing.T, servicePath string, outcome DecisionOutcome) {
	t.Helper()
	key := DecisionKey(servicePath)
	require.Eventually(t, func() bool {
		v, err := e.store.Get(context.Background(), key)
		return err == nil && string(v) == string(DecisionPending)
	}, 2*time.Second, time.Millisecond, "pipeline never reached the decision wait")
	require.NoError(t, e.store.Set(context.Background(), key, []byte(outcome)))
}

// waitIdle blocks until no build for servicePath is in flight.
func (e *testEnv) waitIdle(t *testing.T, servicePath string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !e.coord.registry.Has(servicePath)
	}, 5*time.Second, time.Millisecond, "registry entry leaked for %s", servicePath)
}

func TestServicePathFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
		ok   bool
	}{
		{"teamA/serviceX/.metadata", "teamA/serviceX", true},
		{"world/navigation/.metadata", "world/navigation", true},
		{"single/.metadata", "single", true},
		{".metadata", "", false},
		{"/leading", "", false},
	}
	for _, c := range cases {
		got, ok := ServicePathFromKey(c.key)
		if got != c.want || ok != c.ok {
			t.Errorf("ServicePathFromKey(%q) = (%q, %v), want (%q, %v)", c.key, got, ok, c.want, c.ok)
		}
	}
}

func TestAcceptedBuildIsPromoted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putSpec(t, "teamA/serviceX")

	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	env.decide(t, "teamA/serviceX", DecisionAccepted)
	env.waitIdle(t, "teamA/serviceX")

	// Image was built under the timestamped ref and retagged to :latest.
	require.Equal(t, 1, env.builder.BuildCount())
	built := env.builder.Built[0]
	assert.Equal(t, "teamA/serviceX", built.ServicePath)
	assert.Regexp(t, `^reg/teamA_serviceX:\d{14}$`, built.ImageRef)

	require.Len(t, env.builder.Retags, 1)
	assert.Equal(t, built.ImageRef, env.builder.Retags[0][0])
	assert.Equal(t, "reg/teamA_serviceX:latest", env.builder.Retags[0][1])
	assert.Empty(t, env.builder.Deleted)

	// Verdict persisted.
	v, err := env.store.Get(t.Context(), "teamA/serviceX.build.result")
	require.NoError(t, err)
	assert.Equal(t, "accepted", string(v))

	// Build record persisted with logs.
	raw, err := env.store.Get(t.Context(), "teamA/serviceX.build.details")
	require.NoError(t, err)
	var record BuildRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, StatusBuilt, record.BuildStatus)
	assert.Equal(t, built.ImageRef, record.ImageName)
	assert.NotEmpty(t, record.Logs)

	// Event appended to the durable list and published to the group.
	events := env.store.List("teamA/serviceX.events")
	require.Len(t, events, 1)
	var event BuildEvent
	require.NoError(t, json.Unmarshal(events[0], &event))
	assert.Equal(t, ActionBuildComplete, event.Action)
	assert.Equal(t, built.ImageRef, event.ImageName)
	assert.Equal(t, 1, env.publisher.Count())
}

func TestDecisionTimeoutRejectsAndDeletes(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.DecisionTimeout = 50 * time.Millisecond
	})
	env.putSpec(t, "teamA/serviceX")

	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	env.waitIdle(t, "teamA/serviceX")

	require.Len(t, env.builder.Deleted, 1)
	assert.Regexp(t, `^reg/teamA_serviceX:\d{14}$`, env.builder.Deleted[0])
	assert.Empty(t, env.builder.Retags)

	v, err := env.store.Get(t.Context(), "teamA/serviceX.build.result")
	require.NoError(t, err)
	assert.Equal(t, "rejected", string(v))
}

func TestExplicitRejectionDeletesImage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putSpec(t, "teamA/serviceX")

	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	env.decide(t, "teamA/serviceX", DecisionRejected)
	env.waitIdle(t, "teamA/serviceX")

	require.Len(t, env.builder.Deleted, 1)
	assert.Empty(t, env.builder.Retags)
}

// strictStore refuses every operation once the context is gone, like the
// network-backed store does.
type strictStore struct {
	*store.MemoryStore
}

func (s strictStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s strictStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s strictStore) Append(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Append(ctx, key, value)
}

// strictBuilder mirrors the docker CLI: exec.CommandContext fails outright
// under a canceled context.
type strictBuilder struct {
	inner *imagebuilder.FakeBuilder
}

func (b *strictBuilder) BuildAndPush(ctx context.Context, servicePath string, buildSpec []byte, imageRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.inner.BuildAndPush(ctx, servicePath, buildSpec, imageRef)
}

func (b *strictBuilder) Retag(ctx context.Context, imageRef, newRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.inner.Retag(ctx, imageRef, newRef)
}

func (b *strictBuilder) Delete(ctx context.Context, imageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.inner.Delete(ctx, imageRef)
}

func TestCanceledWaitStillDiscardsImage(t *testing.T) {
	ms := store.NewMemoryStore()
	inner := &imagebuilder.FakeBuilder{}
	coord, err := New(Config{
		RegistryHost:         "reg",
		DecisionPollInterval: 5 * time.Millisecond,
		DecisionTimeout:      time.Minute,
	}, Deps{
		Store:   strictStore{ms},
		Builder: &strictBuilder{inner: inner},
	})
	require.NoError(t, err)

	require.NoError(t, ms.Set(context.Background(), "teamA/serviceX/Dockerfile", []byte("FROM scratch")))

	ctx, cancel := context.WithCancel(context.Background())
	coord.OnChange(ctx, "teamA/serviceX/.metadata", "put")

	// Wait until the pipeline is parked in the decision wait, then pull the
	// run context out from under it.
	key := DecisionKey("teamA/serviceX")
	require.Eventually(t, func() bool {
		v, err := ms.Get(context.Background(), key)
		return err == nil && string(v) == string(DecisionPending)
	}, 2*time.Second, time.Millisecond, "pipeline never reached the decision wait")
	cancel()

	require.Eventually(t, func() bool {
		return !coord.registry.Has("teamA/serviceX")
	}, 5*time.Second, time.Millisecond)

	// The unreviewed image is discarded and the verdict persisted even
	// though the run context is gone.
	require.Len(t, inner.Deleted, 1)
	assert.Empty(t, inner.Retags)

	v, err := ms.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "rejected", string(v))
}

func TestDuplicateSignalIsDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putSpec(t, "teamA/serviceX")

	// Hold the pipeline inside the decision wait so the build stays in flight.
	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	require.Eventually(t, func() bool {
		return env.coord.registry.Has("teamA/serviceX")
	}, time.Second, time.Millisecond)

	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	assert.Equal(t, 1, env.coord.InFlight())

	env.decide(t, "teamA/serviceX", DecisionAccepted)
	env.waitIdle(t, "teamA/serviceX")

	// Only one build ran for the burst of three signals.
	assert.Equal(t, 1, env.builder.BuildCount())
}

func TestSignalWithoutServicePathIsIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.OnChange(t.Context(), ".metadata", "put")
	assert.Equal(t, 0, env.coord.InFlight())
	assert.Equal(t, 0, env.builder.BuildCount())
}

func TestRegistryReleasedOnEveryFailure(t *testing.T) {
	boom := errors.New("boom")

	cases := []struct {
		name   string
		mutate func(env *testEnv)
	}{
		{"spec missing", func(env *testEnv) {
			// no spec written
		}},
		{"spec read error", func(env *testEnv) {
			env.putSpec(t, "teamA/serviceX")
			env.store.failGet("teamA/serviceX/Dockerfile", boom)
		}},
		{"builder failure", func(env *testEnv) {
			env.putSpec(t, "teamA/serviceX")
			env.builder.BuildErr = boom
		}},
		{"record write failure", func(env *testEnv) {
			env.putSpec(t, "teamA/serviceX")
			env.store.failSet("teamA/serviceX.build.details", boom)
		}},
		{"event append failure", func(env *testEnv) {
			env.putSpec(t, "teamA/serviceX")
			env.store.failAppend("teamA/serviceX.events", boom)
		}},
		{"retag failure", func(env *testEnv) {
			env.putSpec(t, "teamA/serviceX")
			env.builder.RetagErr = boom
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, func(cfg *Config) {
				cfg.DecisionTimeout = 100 * time.Millisecond
				cfg.RetryPolicy.Initial = time.Millisecond
				cfg.RetryPolicy.Max = time.Millisecond
			})
			tc.mutate(env)

			env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
			if tc.name == "retag failure" {
				env.decide(t, "teamA/serviceX", DecisionAccepted)
			}
			env.waitIdle(t, "teamA/serviceX")

			assert.Equal(t, 0, env.coord.InFlight(), "no leaked registry entries")

			// A fresh signal can start a new build after the failure.
			env.putSpec(t, "teamA/serviceX")
			env.store.failGet("teamA/serviceX/Dockerfile", nil)
			require.True(t, env.coord.registry.TryAcquire("teamA/serviceX"),
				"path must be acquirable after cleanup")
			env.coord.registry.Release("teamA/serviceX")
		})
	}
}

func TestPublishFailureDoesNotAbortPipeline(t *testing.T) {
	env := newTestEnv(t, nil)
	env.putSpec(t, "teamA/serviceX")
	env.publisher.Err = errors.New("transport down")

	env.coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	env.decide(t, "teamA/serviceX", DecisionAccepted)
	env.waitIdle(t, "teamA/serviceX")

	// Promotion completed despite the publish failure.
	require.Len(t, env.builder.Retags, 1)
	// The durable event list still has the event.
	assert.Len(t, env.store.List("teamA/serviceX.events"), 1)
}

func TestConcurrentBuildsAreIsolated(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.DecisionTimeout = 200 * time.Millisecond
	})
	env.putSpec(t, "teamA/serviceX")
	env.putSpec(t, "teamB/serviceY")

	// A's builder call fails; B proceeds normally.
	buildErrFor := func(servicePath string) error {
		if servicePath == "teamA/serviceX" {
			return errors.New("boom")
		}
		return nil
	}
	builder := &selectiveFailBuilder{inner: env.builder, failFor: buildErrFor}
	coord, err := New(Config{
		RegistryHost:         "reg",
		DecisionPollInterval: 5 * time.Millisecond,
		DecisionTimeout:      200 * time.Millisecond,
	}, Deps{Store: env.store, Builder: builder, Publisher: env.publisher})
	require.NoError(t, err)

	coord.OnChange(t.Context(), "teamA/serviceX/.metadata", "put")
	coord.OnChange(t.Context(), "teamB/serviceY/.metadata", "put")

	require.Eventually(t, func() bool {
		v, err := env.store.Get(t.Context(), DecisionKey("teamB/serviceY"))
		return err == nil && string(v) == string(DecisionPending)
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, env.store.Set(t.Context(), DecisionKey("teamB/serviceY"), []byte(DecisionAccepted)))

	require.Eventually(t, func() bool {
		return coord.InFlight() == 0
	}, 5*time.Second, time.Millisecond)

	// B was promoted even though A failed.
	require.Len(t, env.builder.Retags, 1)
	assert.Equal(t, "reg/teamB_serviceY:latest", env.builder.Retags[0][1])
	// A never produced a record.
	_, err = env.store.Get(t.Context(), "teamA/serviceX.build.details")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// selectiveFailBuilder fails BuildAndPush for chosen service paths and
// delegates everything else.
type selectiveFailBuilder struct {
	inner   *imagebuilder.FakeBuilder
	failFor func(servicePath string) error
}

func (s *selectiveFailBuilder) BuildAndPush(ctx context.Context, servicePath string, buildSpec []byte, imageRef string) (string, error) {
	if err := s.failFor(servicePath); err != nil {
		return "", err
	}
	return s.inner.BuildAndPush(ctx, servicePath, buildSpec, imageRef)
}

func (s *selectiveFailBuilder) Retag(ctx context.Context, imageRef, newRef string) error {
	return s.inner.Retag(ctx, imageRef, newRef)
}

func (s *selectiveFailBuilder) Delete(ctx context.Context, imageRef string) error {
	return s.inner.Delete(ctx, imageRef)
}
