package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/promoter/internal/config"
	"git.home.luguber.info/inful/promoter/internal/coordinator"
	"git.home.luguber.info/inful/promoter/internal/daemon"
	"git.home.luguber.info/inful/promoter/internal/journal"
	"git.home.luguber.info/inful/promoter/internal/store"
	"git.home.luguber.info/inful/promoter/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"promoter.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Daemon struct {
	} `cmd:"" help:"Run the promoter daemon: watch change signals, build and promote images"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Trigger struct {
		ServicePath string `arg:"" help:"Service path to trigger a build for, e.g. teamA/serviceX"`
		TTL         string `help:"Lifetime of the change signal" default:"1h"`
	} `cmd:"" help:"Write a change signal so the daemon builds the service"`

	Decide struct {
		ServicePath string `arg:"" help:"Service path awaiting a decision"`
		Verdict     string `arg:"" enum:"accepted,rejected" help:"Review verdict: accepted or rejected"`
	} `cmd:"" help:"Record a review decision for a built image"`

	History struct {
		ServicePath string `short:"s" help:"Filter by service path"`
		BuildID     string `short:"b" help:"Filter by build ID"`
	} `cmd:"" help:"Show journaled pipeline events"`
}

func main() {
	// Local overrides (registry credentials, NATS URL) live in .env if present.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	ctx := kong.Parse(&CLI, kong.Vars{"version": version.String()})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch {
	case ctx.Command() == "daemon":
		if err := runDaemon(CLI.Config); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case ctx.Command() == "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case strings.HasPrefix(ctx.Command(), "trigger"):
		if err := runTrigger(CLI.Config, CLI.Trigger.ServicePath, CLI.Trigger.TTL); err != nil {
			slog.Error("Trigger failed", "error", err)
			os.Exit(1)
		}
	case strings.HasPrefix(ctx.Command(), "decide"):
		if err := runDecide(CLI.Config, CLI.Decide.ServicePath, CLI.Decide.Verdict); err != nil {
			slog.Error("Decide failed", "error", err)
			os.Exit(1)
		}
	case ctx.Command() == "history":
		if err := runHistory(CLI.Config, CLI.History.ServicePath, CLI.History.BuildID); err != nil {
			slog.Error("History failed", "error", err)
			os.Exit(1)
		}
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, configPath)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownGraceDuration()+10*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

func runInit(configPath string, force bool) error {
	slog.Info("Initializing configuration", "path", configPath, "force", force)
	if err := config.Init(configPath, force); err != nil {
		return err
	}
	fmt.Printf("Wrote starter configuration to %s\n", configPath)
	return nil
}

func runTrigger(configPath, servicePath, ttl string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ttlDur, err := time.ParseDuration(ttl)
	if err != nil {
		return fmt.Errorf("invalid ttl %q: %w", ttl, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	key := coordinator.SignalKey(servicePath, cfg.Build.MarkerSuffix)
	payload := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := st.SetWithTTL(ctx, key, payload, ttlDur); err != nil {
		return err
	}
	fmt.Printf("Triggered build for %s (signal %s)\n", servicePath, key)
	return nil
}

func runDecide(configPath, servicePath, verdict string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	key := coordinator.DecisionKey(servicePath)
	if err := st.Set(ctx, key, []byte(verdict)); err != nil {
		return err
	}
	fmt.Printf("Recorded %s for %s\n", verdict, servicePath)
	return nil
}

func runHistory(configPath, servicePath, buildID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	jrnl, err := journal.NewSQLiteJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var entries []journal.Entry
	switch {
	case buildID != "":
		entries, err = jrnl.GetByBuildID(ctx, buildID)
	case servicePath != "":
		entries, err = jrnl.GetByServicePath(ctx, servicePath)
	default:
		entries, err = jrnl.GetRange(ctx, time.Now().Add(-24*time.Hour), time.Now())
	}
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No pipeline events found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-20s %-24s build=%s\n",
			e.Timestamp.Format(time.RFC3339), e.EventType, e.ServicePath, e.BuildID)
	}
	return nil
}

func connectStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return store.NewNATSStore(ctx, store.NATSConfig{
		URL:           cfg.NATS.URL,
		Bucket:        cfg.NATS.Bucket,
		EventStream:   cfg.NATS.EventStream,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	})
}
