// Package coordinator owns the build-lifecycle state machine: change intake
// and de-duplication, the build→notify→await-decision→finalize pipeline, and
// the decision-wait protocol.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/promoter/internal/imagebuilder"
	"git.home.luguber.info/inful/promoter/internal/journal"
	"git.home.luguber.info/inful/promoter/internal/metrics"
	"git.home.luguber.info/inful/promoter/internal/notify"
	"git.home.luguber.info/inful/promoter/internal/observability"
	"git.home.luguber.info/inful/promoter/internal/retry"
	"git.home.luguber.info/inful/promoter/internal/store"

	perrors "git.home.luguber.info/inful/promoter/internal/errors"
)

// Config tunes one Coordinator instance.
type Config struct {
	// RegistryHost is the prefix for built image references.
	RegistryHost string
	// SpecFile is the store key component holding the build spec (usually "Dockerfile").
	SpecFile string
	// NotifyGroup is the subscriber group build events are published to.
	NotifyGroup string
	// DecisionPollInterval is how often the decision key is checked.
	DecisionPollInterval time.Duration
	// DecisionTimeout bounds the decision wait; expiry is rejection.
	DecisionTimeout time.Duration
	// RetryPolicy applies to transient store and publish failures.
	RetryPolicy retry.Policy
}

// TaskRunner dispatches one pipeline per accepted change signal. The daemon's
// worker group satisfies this; tests can substitute a synchronous runner.
type TaskRunner interface {
	Go(fn func()) bool
}

// goRunner is the default runner for standalone use: one plain goroutine per build.
type goRunner struct{}

func (goRunner) Go(fn func()) bool {
	go fn()
	return true
}

// Deps carries the Coordinator's collaborators. Store and Builder are
// required; the rest default to no-ops or fresh instances.
type Deps struct {
	Store     store.Store
	Builder   imagebuilder.Builder
	Publisher notify.Publisher
	Journal   journal.Journal
	Registry  *InProgress
	Tasks     TaskRunner
	Metrics   metrics.Recorder
}

// Coordinator reacts to change signals and drives build pipelines.
type Coordinator struct {
	cfg       Config
	timingsMu sync.RWMutex
	store     store.Store
	builder   imagebuilder.Builder
	publisher notify.Publisher
	journal   journal.Journal
	registry  *InProgress
	tasks     TaskRunner
	metrics   metrics.Recorder
	now       func() time.Time

	lastMu    sync.RWMutex
	lastBuild *LastBuild
}

// LastBuild summarizes the most recently finished pipeline for the status
// endpoint.
type LastBuild struct {
	ServicePath string    `json:"service_path"`
	Outcome     string    `json:"outcome"`
	FinishedAt  time.Time `json:"finished_at"`
}

// New validates cfg and deps and builds a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, perrors.ValidationFailed("store", "is required")
	}
	if deps.Builder == nil {
		return nil, perrors.ValidationFailed("builder", "is required")
	}
	if cfg.RegistryHost == "" {
		return nil, perrors.ConfigRequired("registry host")
	}
	if cfg.SpecFile == "" {
		cfg.SpecFile = "Dockerfile"
	}
	if cfg.NotifyGroup == "" {
		cfg.NotifyGroup = "deployer"
	}
	if cfg.DecisionPollInterval <= 0 {
		cfg.DecisionPollInterval = 5 * time.Second
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = 300 * time.Second
	}
	if err := cfg.RetryPolicy.Validate(); err != nil {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	if deps.Registry == nil {
		deps.Registry = NewInProgress()
	}
	if deps.Tasks == nil {
		deps.Tasks = goRunner{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}

	return &Coordinator{
		cfg:       cfg,
		store:     deps.Store,
		builder:   deps.Builder,
		publisher: deps.Publisher,
		journal:   deps.Journal,
		registry:  deps.Registry,
		tasks:     deps.Tasks,
		metrics:   deps.Metrics,
		now:       time.Now,
	}, nil
}

// OnChange handles one store-level change notification. It is cheap and
// non-blocking: the signal either schedules a pipeline task or is dropped
// because a build for the same service path is already in flight.
func (c *Coordinator) OnChange(ctx context.Context, key, eventType string) {
	servicePath, ok := ServicePathFromKey(key)
	if !ok {
		slog.Debug("Ignoring signal without service path", "key", key, "event_type", eventType)
		return
	}

	if !c.registry.TryAcquire(servicePath) {
		slog.Info("Build already in progress, skipping signal",
			"service_path", servicePath, "key", key, "event_type", eventType)
		c.metrics.IncSignalDropped()
		return
	}
	c.metrics.SetBuildsInProgress(c.registry.Active())

	slog.Info("Change signal accepted", "service_path", servicePath, "key", key, "event_type", eventType)

	if !c.tasks.Go(func() { c.processBuild(ctx, servicePath) }) {
		// Shutting down; the signal is dropped, not queued.
		c.registry.Release(servicePath)
		c.metrics.SetBuildsInProgress(c.registry.Active())
		slog.Warn("Task runner rejected build, dropping signal", "service_path", servicePath)
	}
}

// SetDecisionTimings adjusts the decision poll interval and timeout.
// Takes effect for builds that enter the decision wait after the call.
func (c *Coordinator) SetDecisionTimings(pollInterval, timeout time.Duration) {
	if pollInterval <= 0 || timeout <= 0 {
		return
	}
	c.timingsMu.Lock()
	c.cfg.DecisionPollInterval = pollInterval
	c.cfg.DecisionTimeout = timeout
	c.timingsMu.Unlock()
}

func (c *Coordinator) decisionTimings() (pollInterval, timeout time.Duration) {
	c.timingsMu.RLock()
	defer c.timingsMu.RUnlock()
	return c.cfg.DecisionPollInterval, c.cfg.DecisionTimeout
}

// InFlight reports the number of running pipelines (status endpoint).
func (c *Coordinator) InFlight() int {
	return c.registry.Active()
}

// LastBuild returns the most recently finished build, or nil before the
// first one completes.
func (c *Coordinator) LastBuild() *LastBuild {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	if c.lastBuild == nil {
		return nil
	}
	lb := *c.lastBuild
	return &lb
}

func (c *Coordinator) recordLastBuild(servicePath, outcome string) {
	c.lastMu.Lock()
	c.lastBuild = &LastBuild{ServicePath: servicePath, Outcome: outcome, FinishedAt: c.now()}
	c.lastMu.Unlock()
}

// journalAppend records a pipeline event when a journal is configured.
// Journal failures are logged and never fail a build.
func (c *Coordinator) journalAppend(ctx context.Context, buildID, servicePath, eventType string, payload []byte, metadata map[string]string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(ctx, buildID, servicePath, eventType, payload, metadata); err != nil {
		observability.WarnContext(ctx, "Failed to journal pipeline event",
			slog.String("event_type", eventType), slog.Any("error", err))
	}
}
