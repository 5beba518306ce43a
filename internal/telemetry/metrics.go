package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StepMetrics counts step executions and workflow outcomes. A nil *StepMetrics
// is valid and records nothing.
type StepMetrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cacheHits  *prometheus.CounterVec
	runs       *prometheus.CounterVec
}

func NewStepMetrics(reg prometheus.Registerer) *StepMetrics {
	m := &StepMetrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docflow",
			Name:      "step_executions_total",
			Help:      "Step executions by step name and resulting status.",
		}, []string{"step", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docflow",
			Name:      "step_duration_seconds",
			Help:      "Wall time of step executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docflow",
			Name:      "step_cache_hits_total",
			Help:      "Steps answered from a prior attempt's persisted output.",
		}, []string{"step"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docflow",
			Name:      "workflow_runs_total",
			Help:      "Finished workflow runs by terminal status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.executions, m.duration, m.cacheHits, m.runs)
	return m
}

func (m *StepMetrics) ObserveStep(step, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(step, status).Inc()
	m.duration.WithLabelValues(step).Observe(elapsed.Seconds())
}

func (m *StepMetrics) CacheHit(step string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(step).Inc()
}

func (m *StepMetrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}
