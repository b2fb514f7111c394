package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pika"

// Metrics holds Prometheus metrics of investigations. A nil *Metrics records nothing.
type Metrics struct {
	Investigations *prometheus.CounterVec   // strategy, outcome
	AgentRuns      *prometheus.CounterVec   // domain, status
	AgentDuration  *prometheus.HistogramVec // domain
	ToolCalls      *prometheus.CounterVec   // domain, outcome
	MemoryOps      *prometheus.CounterVec   // operation, outcome
}

// New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Investigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investigations_total",
			Help:      "Investigations by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		AgentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Specialist agent runs by domain and finding status",
		}, []string{"domain", "status"}),
		AgentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_duration_seconds",
			Help:      "Wall-clock time of specialist agent runs",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"domain"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by domain and outcome (ok or a tool error kind)",
		}, []string{"domain", "outcome"}),
		MemoryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Memory store operations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(m.Investigations, m.AgentRuns, m.AgentDuration, m.ToolCalls, m.MemoryOps)
	return m
}

func (m *Metrics) ObserveInvestigation(strategy, outcome string) {
	if m == nil {
		return
	}
	m.Investigations.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveAgent(domain, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AgentRuns.WithLabelValues(domain, status).Inc()
	m.AgentDuration.WithLabelValues(domain).Observe(d.Seconds())
}

func (m *Metrics) ObserveToolCall(domain, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(domain, outcome).Inc()
}

func (m *Metrics) ObserveMemory(operation, outcome string) {
	if m == nil {
		return
	}
	m.MemoryOps.WithLabelValues(operation, outcome).Inc()
}

// Serve exposes gatherer on addr at /metrics until ctx is done
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.From(ctx).Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "metrics server failed", goerr.V("addr", addr))
	}
	return nil
}
