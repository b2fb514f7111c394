package metrics_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveInvestigation("hybrid", "completed")
	m.ObserveInvestigation("hybrid", "completed")
	m.ObserveAgent("metrics", "complete", 3*time.Second)
	m.ObserveToolCall("logs", "timeout")

	gt.Equal(t, testutil.ToFloat64(m.Investigations.WithLabelValues("hybrid", "completed")), 2.0)
	gt.Equal(t, testutil.ToFloat64(m.AgentRuns.WithLabelValues("metrics", "complete")), 1.0)
	gt.Equal(t, testutil.ToFloat64(m.ToolCalls.WithLabelValues("logs", "timeout")), 1.0)
	gt.Equal(t, testutil.CollectAndCount(m.AgentDuration), 1)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveInvestigation("live_only", "completed")
	m.ObserveAgent("logs", "incomplete", time.Second)
	m.ObserveToolCall("logs", "ok")
	m.ObserveMemory("retrieve", "ok")
}
