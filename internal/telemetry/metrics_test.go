package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStepMetrics(t *testing.T) {
	m := NewStepMetrics(prometheus.NewRegistry())

	m.ObserveStep("FILE_PARSE", "SUCCESS", 20*time.Millisecond)
	m.ObserveStep("FILE_PARSE", "SUCCESS", 10*time.Millisecond)
	m.ObserveStep("FILE_PARSE", "FAILED", time.Millisecond)
	m.CacheHit("FILE_PARSE")
	m.RunFinished("COMPLETED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.executions.WithLabelValues("FILE_PARSE", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("FILE_PARSE", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("FILE_PARSE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("COMPLETED")))
}

func TestStepMetrics_NilIsNoop(t *testing.T) {
	var m *StepMetrics
	assert.NotPanics(t, func() {
		m.ObserveStep("X", "SUCCESS", time.Second)
		m.CacheHit("X")
		m.RunFinished("FAILED")
	})
}

func TestNoopTracerSpans(t *testing.T) {
	ctx, span := StartSpan(context.Background(), NoopTracer(), "step")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		SetError(span, errors.New("boom"))
		span.End()
	})
}
