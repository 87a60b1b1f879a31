package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/promoter/internal/journal"
)

// Scheduler wraps gocron for the daemon's periodic housekeeping tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// ScheduleJournalJanitor registers a periodic job that prunes journal entries
// older than retention and reports build occupancy. inFlight may be nil.
// Returns the job ID for later management.
func (s *Scheduler) ScheduleJournalJanitor(j journal.Journal, interval, retention time.Duration, inFlight func() int) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			cutoff := time.Now().Add(-retention)
			pruned, err := j.Prune(ctx, cutoff)
			if err != nil {
				slog.Error("Journal janitor failed", "error", err)
				return
			}

			active := 0
			if inFlight != nil {
				active = inFlight()
			}
			slog.Info("Journal janitor run",
				slog.Int64("pruned", pruned),
				slog.Time("cutoff", cutoff),
				slog.Int("builds_in_flight", active))
		}),
		gocron.WithName("journal-janitor"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create janitor job: %w", err)
	}
	return job.ID().String(), nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}
