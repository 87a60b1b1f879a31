// Package daemon assembles the promoter's long-running components: the store
// listener, the build coordinator, the journal janitor and the operational
// HTTP endpoints.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/promoter/internal/config"
	"git.home.luguber.info/inful/promoter/internal/coordinator"
	"git.home.luguber.info/inful/promoter/internal/imagebuilder"
	"git.home.luguber.info/inful/promoter/internal/journal"
	"git.home.luguber.info/inful/promoter/internal/listener"
	"git.home.luguber.info/inful/promoter/internal/metrics"
	"git.home.luguber.info/inful/promoter/internal/notify"
	"git.home.luguber.info/inful/promoter/internal/retry"
	"git.home.luguber.info/inful/promoter/internal/store"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Deps carries externally constructed collaborators. Zero-value fields are
// filled with production implementations by New; tests inject fakes.
type Deps struct {
	Store     store.Store
	Builder   imagebuilder.Builder
	Publisher notify.Publisher
	Journal   journal.Journal
}

// Daemon is the main promoter service.
type Daemon struct {
	mu             sync.RWMutex
	config         *config.Config
	configFilePath string
	status         atomic.Value // Status
	startTime      time.Time

	store     store.Store
	builder   imagebuilder.Builder
	publisher notify.Publisher
	journal   journal.Journal

	coordinator   *coordinator.Coordinator
	listener      *listener.Listener
	workers       *WorkerGroup
	scheduler     *Scheduler
	httpServer    *HTTPServer
	configWatcher *ConfigWatcher
	promRegistry  *prom.Registry

	cancelRun context.CancelFunc
}

// New creates a daemon from configuration, constructing the production
// collaborators: a NATS-backed store and publisher, the docker CLI builder
// and the sqlite journal.
func New(ctx context.Context, cfg *config.Config, configFilePath string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	st, err := store.NewNATSStore(ctx, store.NATSConfig{
		URL:           cfg.NATS.URL,
		Bucket:        cfg.NATS.Bucket,
		EventStream:   cfg.NATS.EventStream,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect store: %w", err)
	}

	pub, err := notify.NewNATSPublisher(cfg.NATS.URL, cfg.Notify.SubjectPrefix)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect publisher: %w", err)
	}

	jrnl, err := journal.NewSQLiteJournal(cfg.Journal.Path)
	if err != nil {
		pub.Close()
		st.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	builder := imagebuilder.NewDockerBuilder(imagebuilder.ExecRunner{}, cfg.Build.DockerBin)
	if err := builder.CheckInstalled(ctx); err != nil {
		jrnl.Close()
		pub.Close()
		st.Close()
		return nil, err
	}

	return NewWithDeps(cfg, configFilePath, Deps{
		Store:     st,
		Builder:   builder,
		Publisher: pub,
		Journal:   jrnl,
	})
}

// NewWithDeps creates a daemon with injected collaborators.
func NewWithDeps(cfg *config.Config, configFilePath string, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if deps.Store == nil || deps.Builder == nil {
		return nil, fmt.Errorf("store and builder are required")
	}

	d := &Daemon{
		config:         cfg,
		configFilePath: configFilePath,
		store:          deps.Store,
		builder:        deps.Builder,
		publisher:      deps.Publisher,
		journal:        deps.Journal,
		workers:        &WorkerGroup{},
		promRegistry:   prom.NewRegistry(),
	}
	d.status.Store(StatusStopped)

	recorder := metrics.NewPrometheusRecorder(d.promRegistry)

	coord, err := coordinator.New(coordinator.Config{
		RegistryHost:         cfg.Registry.Host,
		SpecFile:             cfg.Build.SpecFile,
		NotifyGroup:          cfg.Notify.Group,
		DecisionPollInterval: cfg.Decision.PollIntervalDuration(),
		DecisionTimeout:      cfg.Decision.TimeoutDuration(),
		RetryPolicy: retry.NewPolicy(
			retry.BackoffMode(cfg.Build.RetryBackoff),
			cfg.Build.RetryInitialDelayDuration(),
			cfg.Build.RetryMaxDelayDuration(),
			cfg.Build.MaxRetries,
		),
	}, coordinator.Deps{
		Store:     deps.Store,
		Builder:   deps.Builder,
		Publisher: deps.Publisher,
		Journal:   deps.Journal,
		Tasks:     d.workers,
		Metrics:   recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	d.coordinator = coord

	lst, err := listener.New(deps.Store, coord, cfg.Build.MarkerSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	d.listener = lst

	d.scheduler, err = NewScheduler()
	if err != nil {
		return nil, err
	}

	d.httpServer = NewHTTPServer(cfg.Daemon.HTTPAddr, d)

	if configFilePath != "" {
		d.configWatcher, err = NewConfigWatcher(configFilePath, d)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	return d, nil
}

// Start brings up all components and blocks until ctx is canceled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	if d.GetStatus() != StatusStopped {
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}

	d.status.Store(StatusStarting)
	d.mu.Lock()
	d.startTime = time.Now()
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelRun = cancel
	d.mu.Unlock()

	slog.Info("Starting promoter daemon",
		slog.String("registry", d.config.Registry.Host),
		slog.String("nats_url", d.config.NATS.URL))

	if err := d.httpServer.Start(runCtx); err != nil {
		d.status.Store(StatusError)
		cancel()
		return err
	}

	if d.journal != nil {
		if _, err := d.scheduler.ScheduleJournalJanitor(
			d.journal,
			d.config.Daemon.JanitorIntervalDuration(),
			d.config.Journal.RetentionDuration(),
			d.coordinator.InFlight,
		); err != nil {
			slog.Error("Failed to schedule journal janitor", "error", err)
		}
	}
	d.scheduler.Start()

	if d.configWatcher != nil {
		if err := d.configWatcher.Start(runCtx); err != nil {
			slog.Error("Failed to start config watcher", "error", err)
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("Promoter daemon started")

	// The listener is the daemon's main loop; it exits on context
	// cancellation, after which shutdown proceeds.
	err := d.listener.Run(runCtx)

	// Stop may already have driven the state to stopped; only a running
	// daemon transitions to stopping here.
	d.status.CompareAndSwap(StatusRunning, StatusStopping)
	slog.Info("Listener exited, daemon stopping")
	return err
}

// Stop cancels intake and drains in-flight builds, bounded by the configured
// shutdown grace period.
func (d *Daemon) Stop(ctx context.Context) error {
	current := d.GetStatus()
	if current == StatusStopped {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping promoter daemon")

	d.mu.Lock()
	cancel := d.cancelRun
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			slog.Error("Failed to stop config watcher", "error", err)
		}
	}

	if err := d.scheduler.Stop(); err != nil {
		slog.Error("Failed to stop scheduler", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, d.config.Daemon.ShutdownGraceDuration())
	defer drainCancel()
	if err := d.workers.StopAndWait(drainCtx); err != nil {
		slog.Warn("Shutdown grace expired with builds still in flight",
			slog.Int("in_flight", d.coordinator.InFlight()))
	}

	if err := d.httpServer.Stop(ctx); err != nil {
		slog.Error("Failed to stop HTTP server", "error", err)
	}

	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			slog.Error("Failed to close journal", "error", err)
		}
	}
	if d.publisher != nil {
		if c, ok := d.publisher.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Error("Failed to close publisher", "error", err)
			}
		}
	}
	if err := d.store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}

	d.status.Store(StatusStopped)
	slog.Info("Promoter daemon stopped")
	return nil
}

// GetStatus returns the daemon's lifecycle state.
func (d *Daemon) GetStatus() Status {
	if s, ok := d.status.Load().(Status); ok {
		return s
	}
	return StatusStopped
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// ReloadConfig applies runtime-tunable settings from a freshly loaded
// configuration: decision timings and the log level. Connection-level
// settings are validated by the config watcher before this is called.
func (d *Daemon) ReloadConfig(_ context.Context, newConfig *config.Config) error {
	if newConfig == nil {
		return fmt.Errorf("new configuration is required")
	}

	d.coordinator.SetDecisionTimings(
		newConfig.Decision.PollIntervalDuration(),
		newConfig.Decision.TimeoutDuration(),
	)
	applyLogLevel(newConfig.Logging.Level)

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()

	slog.Info("Applied configuration",
		slog.String("decision_poll", newConfig.Decision.PollIntervalDuration().String()),
		slog.String("decision_timeout", newConfig.Decision.TimeoutDuration().String()),
		slog.String("log_level", newConfig.Logging.Level))
	return nil
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
}

// StatusSnapshot is the payload served by the /status endpoint.
type StatusSnapshot struct {
	Status       Status                 `json:"status"`
	StartedAt    time.Time              `json:"started_at,omitempty"`
	UptimeSec    int64                  `json:"uptime_seconds"`
	ActiveBuilds int                    `json:"active_builds"`
	LastBuild    *coordinator.LastBuild `json:"last_build,omitempty"`
	RegistryHost string                 `json:"registry_host"`
	NotifyGroup  string                 `json:"notify_group"`
}

// StatusSnapshot builds a point-in-time view of the daemon for /status.
func (d *Daemon) StatusSnapshot() StatusSnapshot {
	d.mu.RLock()
	started := d.startTime
	cfg := d.config
	d.mu.RUnlock()

	snap := StatusSnapshot{
		Status:       d.GetStatus(),
		RegistryHost: cfg.Registry.Host,
		NotifyGroup:  cfg.Notify.Group,
		ActiveBuilds: d.coordinator.InFlight(),
		LastBuild:    d.coordinator.LastBuild(),
	}
	if !started.IsZero() {
		snap.StartedAt = started
		snap.UptimeSec = int64(time.Since(started).Seconds())
	}
	return snap
}
