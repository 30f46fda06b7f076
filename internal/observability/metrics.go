package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a Sink that records companion events as Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	StatusTransitions *prometheus.CounterVec
	SessionsTotal     *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionDuration   prometheus.Histogram
	ToolCallsTotal    *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	MemoriesSaved     prometheus.Counter
	SpeechTotal       *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "companion"
	}

	registry := prometheus.NewRegistry()

	statusTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status transitions by target status",
		},
		[]string{"status"},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Conversation sessions by outcome",
		},
		[]string{"outcome"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Conversation sessions currently open",
		},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Conversation session duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Client tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Client tool latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)

	memoriesSaved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_saved_total",
			Help:      "Memories persisted at session end",
		},
	)

	speechTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_requests_total",
			Help:      "Text-to-speech requests by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		statusTransitions,
		sessionsTotal,
		sessionsActive,
		sessionDuration,
		toolCallsTotal,
		toolDuration,
		memoriesSaved,
		speechTotal,
	)

	return &Metrics{
		registry:          registry,
		StatusTransitions: statusTransitions,
		SessionsTotal:     sessionsTotal,
		SessionsActive:    sessionsActive,
		SessionDuration:   sessionDuration,
		ToolCallsTotal:    toolCallsTotal,
		ToolDuration:      toolDuration,
		MemoriesSaved:     memoriesSaved,
		SpeechTotal:       speechTotal,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Emit implements Sink.
func (m *Metrics) Emit(ev Event) {
	switch ev.Name {
	case EventStatusChanged:
		m.StatusTransitions.WithLabelValues(ev.Status).Inc()
	case EventSessionStarted:
		if ev.Err != nil {
			m.SessionsTotal.WithLabelValues("failed").Inc()
			return
		}
		m.SessionsActive.Inc()
	case EventSessionEnded:
		m.SessionsActive.Dec()
		m.SessionsTotal.WithLabelValues(ev.Outcome).Inc()
		m.SessionDuration.Observe(ev.Duration.Seconds())
	case EventToolCalled:
		m.ToolCallsTotal.WithLabelValues(ev.Tool, ev.Outcome).Inc()
		m.ToolDuration.WithLabelValues(ev.Tool).Observe(ev.Duration.Seconds())
	case EventMemoriesSaved:
		m.MemoriesSaved.Add(float64(ev.Count))
	case EventSpeechSynthesized:
		m.SpeechTotal.WithLabelValues(ev.Outcome).Inc()
	}
}
