// Package metrics defines observability hooks for the build pipeline.
package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailure ResultLabel = "failure"
)

// Recorder defines observability hooks for build and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(outcome string) // outcome: accepted|rejected|failed
	ObserveDecisionWait(d time.Duration, outcome string)
	IncSignalDropped()
	SetBuildsInProgress(n int)
	IncRetry(stage string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)  {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)          {}
func (NoopRecorder) IncStageResult(string, ResultLabel)          {}
func (NoopRecorder) IncBuildOutcome(string)                      {}
func (NoopRecorder) ObserveDecisionWait(time.Duration, string)   {}
func (NoopRecorder) IncSignalDropped()                           {}
func (NoopRecorder) SetBuildsInProgress(int)                     {}
func (NoopRecorder) IncRetry(string)                             {}
