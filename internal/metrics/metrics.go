package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections counts open chat sockets.
	ActiveConnections prometheus.Gauge

	// EventsTotal counts inbound socket events by name and outcome.
	EventsTotal *prometheus.CounterVec

	// LLMTokensTotal counts tokens reported by the model provider.
	LLMTokensTotal *prometheus.CounterVec

	// LLMDuration observes model round trips.
	LLMDuration prometheus.Histogram

	// ToolCallsTotal counts tool invocations by tool and outcome.
	ToolCallsTotal *prometheus.CounterVec

	// TicketsTotal counts escalation tickets by outcome.
	TicketsTotal *prometheus.CounterVec
)

func init() {
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "libchat",
		Subsystem: "socket",
		Name:      "active_connections",
		Help:      "Number of open chat sockets",
	})

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "libchat",
			Subsystem: "socket",
			Name:      "events_total",
			Help:      "Inbound socket events",
		},
		[]string{"event", "status"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "libchat",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by the model provider",
		},
		[]string{"kind"},
	)

	LLMDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "libchat",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Model round trip duration in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "libchat",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool invocations",
		},
		[]string{"tool", "status"},
	)

	TicketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "libchat",
			Subsystem: "tickets",
			Name:      "created_total",
			Help:      "Escalation tickets",
		},
		[]string{"status"},
	)

	prometheus.MustRegister(ActiveConnections, EventsTotal, LLMTokensTotal, LLMDuration, ToolCallsTotal, TicketsTotal)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records one handled socket event.
func RecordEvent(event, status string) {
	if status == "" {
		status = "unknown"
	}
	EventsTotal.WithLabelValues(event, status).Inc()
}

// RecordLLMCall records a model round trip and its token usage.
func RecordLLMCall(durationSec float64, promptTokens, completionTokens int) {
	LLMDuration.Observe(durationSec)
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// RecordToolCall records a tool invocation.
func RecordToolCall(tool, status string) {
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordTicket records a ticket submission.
func RecordTicket(status string) {
	TicketsTotal.WithLabelValues(status).Inc()
}
