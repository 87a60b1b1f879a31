package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/promoter/internal/observability"
	"git.home.luguber.info/inful/promoter/internal/store"
)

// awaitDecision implements the decision-wait protocol: poll the decision key
// on a fixed interval until a verdict appears or the configured timeout
// expires. Timeout and cancellation both resolve to rejection; an
// unreviewed build is never promoted.
//
// The wait suspends only this build's task; intake and other pipelines keep
// running.
func (c *Coordinator) awaitDecision(ctx context.Context, servicePath, imageRef string) DecisionResult {
	key := DecisionKey(servicePath)
	start := time.Now()
	pollInterval, timeout := c.decisionTimings()

	observability.InfoContext(ctx, "Waiting for review decision",
		slog.String("key", key),
		slog.Duration("timeout", timeout))

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	record := func(result DecisionResult) DecisionResult {
		c.metrics.ObserveDecisionWait(time.Since(start), string(result.Outcome))
		return result
	}

	for {
		value, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			switch DecisionOutcome(value) {
			case DecisionAccepted:
				observability.InfoContext(ctx, "Build accepted by reviewer")
				return record(DecisionResult{Outcome: DecisionAccepted})
			case DecisionRejected:
				observability.InfoContext(ctx, "Build rejected by reviewer")
				return record(DecisionResult{Outcome: DecisionRejected})
			}
			// pending or unrecognized value; keep polling
		case errors.Is(err, store.ErrNotFound):
			// no verdict yet
		default:
			// Transient read failures do not abort the wait; the timeout
			// bounds how long they can persist.
			observability.WarnContext(ctx, "Decision poll failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			observability.WarnContext(ctx, "Decision wait canceled, treating as rejection",
				slog.String("image", imageRef))
			return record(DecisionResult{Outcome: DecisionRejected})
		case <-deadline.C:
			observability.WarnContext(ctx, "Decision wait timed out, treating as rejection",
				slog.String("image", imageRef),
				slog.Duration("waited", time.Since(start)))
			return record(DecisionResult{Outcome: DecisionRejected, TimedOut: true})
		case <-ticker.C:
		}
	}
}
