package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/promoter/internal/journal"
	"git.home.luguber.info/inful/promoter/internal/metrics"
	"git.home.luguber.info/inful/promoter/internal/observability"
	"git.home.luguber.info/inful/promoter/internal/store"

	perrors "git.home.luguber.info/inful/promoter/internal/errors"
)

// processBuild drives one build through the full pipeline. It owns the
// registry entry for servicePath for its entire lifetime and releases it
// unconditionally, whatever state the pipeline terminates in.
func (c *Coordinator) processBuild(ctx context.Context, servicePath string) {
	buildID := uuid.NewString()
	ctx = observability.WithBuildID(ctx, buildID)
	ctx = observability.WithServicePath(ctx, servicePath)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			observability.ErrorContext(ctx, "Build pipeline panicked", slog.Any("panic", r))
			c.journalAppend(ctx, buildID, servicePath, journalFailed, nil,
				map[string]string{"error": fmt.Sprint(r)})
			c.metrics.IncBuildOutcome("failed")
		}
		c.registry.Release(servicePath)
		c.metrics.SetBuildsInProgress(c.registry.Active())
		c.metrics.ObserveBuildDuration(time.Since(start))
	}()

	observability.InfoContext(ctx, "Build pipeline started")
	c.journalAppend(ctx, buildID, servicePath, journalStarted, nil, nil)

	outcome, err := c.runPipeline(ctx, buildID, servicePath)
	if err != nil {
		observability.ErrorContext(ctx, "Build pipeline failed",
			slog.String("category", string(perrors.GetCategory(err))),
			slog.Any("error", err))
		c.journalAppend(ctx, buildID, servicePath, journalFailed, nil,
			map[string]string{"error": err.Error()})
		c.metrics.IncBuildOutcome("failed")
		c.recordLastBuild(servicePath, "failed")
		return
	}

	observability.InfoContext(ctx, "Build pipeline finished", slog.String("outcome", string(outcome)))
	c.metrics.IncBuildOutcome(string(outcome))
	c.recordLastBuild(servicePath, string(outcome))
}

// Aliases keep the journal call sites short.
const (
	journalStarted   = journal.EventBuildStarted
	journalBuilt     = journal.EventImageBuilt
	journalDecision  = journal.EventDecisionRecorded
	journalFinalized = journal.EventBuildFinalized
	journalFailed    = journal.EventBuildFailed
)

// runPipeline executes the ordered stages and returns the terminal outcome.
func (c *Coordinator) runPipeline(ctx context.Context, buildID, servicePath string) (DecisionOutcome, error) {
	// Fetching: load the build spec for the service.
	var buildSpec []byte
	if err := c.runStage(ctx, StageFetching, func(ctx context.Context) error {
		key := specKey(servicePath, c.cfg.SpecFile)
		spec, err := c.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) || (err == nil && len(spec) == 0) {
			return perrors.SpecMissing(key)
		}
		if err != nil {
			return perrors.StoreReadError(key, err)
		}
		buildSpec = spec
		return nil
	}); err != nil {
		return "", err
	}

	// Building: compute the unique image reference and build + push.
	timestampTag := c.now().UTC().Format("20060102150405")
	imageRef := imageName(c.cfg.RegistryHost, servicePath) + ":" + timestampTag
	ctx = observability.WithImageRef(ctx, imageRef)

	var buildLogs string
	if err := c.runStage(ctx, StageBuilding, func(ctx context.Context) error {
		observability.InfoContext(ctx, "Building and pushing image")
		logs, err := c.builder.BuildAndPush(ctx, servicePath, buildSpec, imageRef)
		buildLogs = logs
		return err
	}); err != nil {
		return "", err
	}

	// Recording: persist the build record. Transient store failures retry.
	record := BuildRecord{
		BuildID:     buildID,
		ImageName:   imageRef,
		Timestamp:   timestampTag,
		BuildStatus: StatusBuilt,
		Logs:        buildLogs,
	}
	if err := c.runStage(ctx, StageRecording, func(ctx context.Context) error {
		data, err := json.Marshal(record)
		if err != nil {
			return perrors.InternalError("failed to encode build record", err)
		}
		key := detailsKey(servicePath)
		err = c.cfg.RetryPolicy.Do(ctx, func() error {
			return c.store.Set(ctx, key, data)
		}, func(int) { c.metrics.IncRetry(StageRecording) })
		if err != nil {
			return perrors.StoreWriteError(key, err)
		}
		return nil
	}); err != nil {
		return "", err
	}

	// Notifying: append to the durable event list (authoritative), then
	// publish to the review group (best effort).
	event := BuildEvent{
		ServicePath: servicePath,
		ImageName:   imageRef,
		Action:      ActionBuildComplete,
		Timestamp:   timestampTag,
		BuildID:     buildID,
	}
	if err := c.runStage(ctx, StageNotifying, func(ctx context.Context) error {
		data, err := json.Marshal(event)
		if err != nil {
			return perrors.InternalError("failed to encode build event", err)
		}

		// Reset the decision key before announcing the build so a verdict
		// left over from an earlier build is never consumed for this one,
		// and a prompt reviewer is never overwritten.
		if err := c.store.Set(ctx, DecisionKey(servicePath), []byte(DecisionPending)); err != nil {
			return perrors.StoreWriteError(DecisionKey(servicePath), err)
		}

		key := eventsKey(servicePath)
		err = c.cfg.RetryPolicy.Do(ctx, func() error {
			return c.store.Append(ctx, key, data)
		}, func(int) { c.metrics.IncRetry(StageNotifying) })
		if err != nil {
			return perrors.StoreWriteError(key, err)
		}

		if c.publisher != nil {
			if err := c.publisher.Publish(ctx, c.cfg.NotifyGroup, data); err != nil {
				// Non-fatal: the event list above is the durable record.
				observability.WarnContext(ctx, "Review notification publish failed",
					slog.String("group", c.cfg.NotifyGroup), slog.Any("error", err))
			}
		}
		return nil
	}); err != nil {
		return "", err
	}
	c.journalAppend(ctx, buildID, servicePath, journalBuilt, mustJSON(record), nil)

	// AwaitingDecision: block this pipeline (and only this pipeline) until
	// a verdict arrives or the wait times out.
	var decision DecisionResult
	_ = c.runStage(ctx, StageAwaiting, func(ctx context.Context) error {
		decision = c.awaitDecision(ctx, servicePath, imageRef)
		return nil
	})

	// A canceled wait (daemon shutdown) resolves to rejection, and the
	// cleanup still has to reach the store and the registry: a canceled
	// context would make every store write and docker call below fail,
	// leaving the unreviewed image behind. Finalize on a detached context
	// with its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	c.journalAppend(ctx, buildID, servicePath, journalDecision, nil, map[string]string{
		"outcome":   string(decision.Outcome),
		"timed_out": fmt.Sprintf("%t", decision.TimedOut),
	})

	// Finalizing: promote or discard, then persist the verdict.
	if err := c.runStage(ctx, StageFinalizing, func(ctx context.Context) error {
		return c.finalize(ctx, servicePath, imageRef, decision)
	}); err != nil {
		return "", err
	}

	c.journalAppend(ctx, buildID, servicePath, journalFinalized, nil,
		map[string]string{"outcome": string(decision.Outcome)})
	return decision.Outcome, nil
}

// finalizeTimeout bounds the detached finalizing stage.
const finalizeTimeout = 60 * time.Second

// finalize promotes an accepted image to :latest or deletes a rejected one,
// and persists the verdict under the decision key.
func (c *Coordinator) finalize(ctx context.Context, servicePath, imageRef string, decision DecisionResult) error {
	key := DecisionKey(servicePath)
	if decision.Outcome == DecisionAccepted {
		latestRef := imageName(c.cfg.RegistryHost, servicePath) + ":latest"
		if err := c.builder.Retag(ctx, imageRef, latestRef); err != nil {
			return err
		}
		if err := c.store.Set(ctx, key, []byte(DecisionAccepted)); err != nil {
			return perrors.StoreWriteError(key, err)
		}
		observability.InfoContext(ctx, "Image promoted", slog.String("latest", latestRef))
		return nil
	}

	if err := c.builder.Delete(ctx, imageRef); err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, []byte(DecisionRejected)); err != nil {
		return perrors.StoreWriteError(key, err)
	}
	observability.InfoContext(ctx, "Image discarded", slog.Bool("timed_out", decision.TimedOut))
	return nil
}

// runStage times fn and feeds the stage metrics.
func (c *Coordinator) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx = observability.WithStage(ctx, stage)
	start := time.Now()
	err := fn(ctx)
	c.metrics.ObserveStageDuration(stage, time.Since(start))
	if err != nil {
		c.metrics.IncStageResult(stage, metrics.ResultFailure)
		return err
	}
	c.metrics.IncStageResult(stage, metrics.ResultSuccess)
	return nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
