package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the platform's Prometheus collectors behind a private
// registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	toolsTotal     *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	llmRequests    *prometheus.CounterVec
	llmLatency     prometheus.Histogram
	llmTokens      *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aibrowser",
			Name:      "sessions_active",
			Help:      "Browser sessions currently alive.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aibrowser",
			Name:      "runs_total",
			Help:      "Completed runs by terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aibrowser",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of completed runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		toolsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aibrowser",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aibrowser",
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aibrowser",
			Name:      "llm_requests_total",
			Help:      "LLM completions by outcome.",
		}, []string{"outcome"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aibrowser",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM completions.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aibrowser",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.sessionsActive,
		m.runsTotal,
		m.runDuration,
		m.toolsTotal,
		m.toolDuration,
		m.llmRequests,
		m.llmLatency,
		m.llmTokens,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() { m.sessionsActive.Inc() }
func (m *Metrics) SessionClosed() { m.sessionsActive.Dec() }

// RunFinished records a run's terminal status and duration.
func (m *Metrics) RunFinished(status string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// ToolExecuted records one tool call.
func (m *Metrics) ToolExecuted(tool string, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.toolsTotal.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// LLMRequest records one completion round-trip.
func (m *Metrics) LLMRequest(err error, elapsed time.Duration, promptTokens, completionTokens int) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
	m.llmLatency.Observe(elapsed.Seconds())
	if promptTokens > 0 {
		m.llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}
