package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexcodex/codeforge/framework"
)

const metricsNamespace = "codeforge"

// Metrics is a telemetry sink that turns pipeline events into Prometheus
// series. Each instance owns its registry so tests and multiple servers do
// not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	cache        *prometheus.CounterVec
	score        *prometheus.HistogramVec
	corrections  *prometheus.CounterVec
	runtimeFixes *prometheus.CounterVec
	retries      *prometheus.CounterVec
	llmCalls     *prometheus.CounterVec
	llmLatency   *prometheus.HistogramVec
	suggestions  *prometheus.CounterVec
	filesUpdated prometheus.Counter
}

// NewMetrics registers the codeforge series on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Workflow runs by terminal status",
		}, []string{"status"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "steps_total",
			Help:      "Workflow steps by agent and terminal status",
		}, []string{"agent", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of completed workflow steps",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"agent"}),
		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		score: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "validation_score",
			Help:      "Validation scores of step outputs",
			Buckets:   []float64{10, 25, 50, 60, 70, 80, 90, 95, 100},
		}, []string{"agent"}),
		corrections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "correction_attempts_total",
			Help:      "Self-correction rounds by agent and whether the revision was kept",
		}, []string{"agent", "accepted"}),
		runtimeFixes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runtime_fix_attempts_total",
			Help:      "Runtime failure fix rounds by whether the revision was kept",
		}, []string{"accepted"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_retries_total",
			Help:      "Retried completion calls after recoverable provider errors",
		}, []string{"agent"}),
		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_calls_total",
			Help:      "Completion calls by outcome",
		}, []string{"outcome"}),
		llmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Completion call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"agent"}),
		suggestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "suggestions_total",
			Help:      "Suggestions registered by agent and priority",
		}, []string{"agent", "priority"}),
		filesUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "artifact_updates_total",
			Help:      "Artifact write-backs",
		}),
	}
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Emit updates the series matching event.
func (m *Metrics) Emit(event framework.Event) {
	meta := event.Metadata
	switch event.Type {
	case framework.EventRunFinish:
		m.runs.WithLabelValues("completed").Inc()
	case framework.EventRunError:
		m.runs.WithLabelValues("failed").Inc()
	case framework.EventStepFinish:
		m.steps.WithLabelValues(event.Agent, "completed").Inc()
		if ms, ok := number(meta, "duration_ms"); ok {
			m.stepDuration.WithLabelValues(event.Agent).Observe(ms / 1000)
		}
	case framework.EventStepError:
		m.steps.WithLabelValues(event.Agent, "error").Inc()
	case framework.EventCacheHit:
		m.cache.WithLabelValues("hit").Inc()
	case framework.EventCacheMiss:
		m.cache.WithLabelValues("miss").Inc()
	case framework.EventValidation:
		if score, ok := number(meta, "score"); ok {
			m.score.WithLabelValues(event.Agent).Observe(score)
		}
	case framework.EventCorrectionAttempt:
		m.corrections.WithLabelValues(event.Agent, boolLabel(meta, "accepted")).Inc()
	case framework.EventRuntimeFixAttempt:
		m.runtimeFixes.WithLabelValues(boolLabel(meta, "accepted")).Inc()
	case framework.EventProviderRetry:
		m.retries.WithLabelValues(event.Agent).Inc()
	case framework.EventLLMResponse:
		outcome := "ok"
		if _, failed := meta["error"]; failed {
			outcome = "error"
		}
		m.llmCalls.WithLabelValues(outcome).Inc()
		if ms, ok := number(meta, "elapsed_ms"); ok {
			m.llmLatency.WithLabelValues(event.Agent).Observe(ms / 1000)
		}
	case framework.EventSuggestionAdded:
		priority, _ := meta["priority"].(string)
		m.suggestions.WithLabelValues(event.Agent, priority).Inc()
	case framework.EventArtifactUpdated:
		m.filesUpdated.Inc()
	}
}

func number(meta map[string]interface{}, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func boolLabel(meta map[string]interface{}, key string) string {
	if v, _ := meta[key].(bool); v {
		return "true"
	}
	return "false"
}
