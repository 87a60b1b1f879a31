package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	stageDuration    *prom.HistogramVec
	buildDuration    prom.Histogram
	stageResults     *prom.CounterVec
	buildOutcome     *prom.CounterVec
	decisionWait     *prom.HistogramVec
	signalsDropped   prom.Counter
	buildsInProgress prom.Gauge
	retries          *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "promoter",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "promoter",
			Name:      "build_duration_seconds",
			Help:      "Total build pipeline duration including decision wait",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "promoter",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "promoter",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.decisionWait = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "promoter",
			Name:      "decision_wait_seconds",
			Help:      "Time spent waiting for a review decision",
			Buckets:   prom.ExponentialBuckets(1, 2, 10),
		}, []string{"outcome"})
		pr.signalsDropped = prom.NewCounter(prom.CounterOpts{
			Namespace: "promoter",
			Name:      "signals_dropped_total",
			Help:      "Change signals dropped because a build was already in progress",
		})
		pr.buildsInProgress = prom.NewGauge(prom.GaugeOpts{
			Namespace: "promoter",
			Name:      "builds_in_progress",
			Help:      "Number of currently running build pipelines",
		})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "promoter",
			Name:      "stage_retries_total",
			Help:      "Total stage retries (transient failures)",
		}, []string{"stage"})
		reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageResults, pr.buildOutcome, pr.decisionWait, pr.signalsDropped, pr.buildsInProgress, pr.retries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveDecisionWait(d time.Duration, outcome string) {
	if p == nil || p.decisionWait == nil {
		return
	}
	p.decisionWait.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSignalDropped() {
	if p == nil || p.signalsDropped == nil {
		return
	}
	p.signalsDropped.Inc()
}

func (p *PrometheusRecorder) SetBuildsInProgress(n int) {
	if p == nil || p.buildsInProgress == nil {
		return
	}
	p.buildsInProgress.Set(float64(n))
}

func (p *PrometheusRecorder) IncRetry(stage string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(stage).Inc()
}
