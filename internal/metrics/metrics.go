// Package metrics exposes Prometheus instrumentation for the Streamable
// HTTP transport and Task Subsystem using promauto/promhttp.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts Streamable HTTP requests by method/path/status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_http_requests_total",
			Help: "Total number of Streamable HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency for the Streamable HTTP endpoint.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_http_request_duration_seconds",
			Help:    "Streamable HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently open Streamable HTTP sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_active_sessions",
			Help: "Number of open Streamable HTTP sessions",
		},
	)

	// SessionDuration tracks how long a session stays open.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_session_duration_seconds",
			Help:    "Session lifetime in seconds, by how it ended",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"reason"},
	)

	// StandaloneStreams tracks open standalone (GET) SSE streams.
	StandaloneStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_standalone_sse_streams",
			Help: "Number of open standalone SSE streams",
		},
	)

	// PerRequestStreams tracks open per-request SSE streams.
	PerRequestStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_per_request_sse_streams",
			Help: "Number of open per-request SSE streams",
		},
	)

	// ToolCalls tracks MCP tools/call invocations by tool name and outcome.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	// TasksByStatus tracks task status transitions.
	TasksByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_task_status_transitions_total",
			Help: "Total number of task status transitions, by resulting status",
		},
		[]string{"status"},
	)

	// TaskDuration tracks time from task creation to terminal status.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_task_duration_seconds",
			Help:    "Task duration from creation to terminal status",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"status"},
	)

	// EventBufferDrops tracks SSE events dropped because no stream or event
	// store could accept them.
	EventBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_event_buffer_drops_total",
			Help: "Total number of SSE events dropped (no open stream, no event store)",
		},
		[]string{"session_id"},
	)

	// RateLimitRejections counts requests rejected by the auth rate limiter.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"key_kind"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so wrapping doesn't break SSE streaming.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments every Streamable HTTP request with RequestsTotal
// and RequestDuration.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses the Streamable HTTP endpoint's path (and common
// ops paths) to avoid unbounded label cardinality.
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/mcp", "/mcp/", "/metrics":
		return path
	default:
		if len(path) > 5 && path[:5] == "/mcp/" {
			return "/mcp"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionOpen increments the active-session gauge.
func RecordSessionOpen() { ActiveSessions.Inc() }

// RecordSessionClose decrements the active-session gauge and records the
// session's lifetime, tagged by why it ended ("deleted", "ttl", "closed").
func RecordSessionClose(reason string, lifetime time.Duration) {
	ActiveSessions.Dec()
	SessionDuration.WithLabelValues(reason).Observe(lifetime.Seconds())
}

// RecordToolCall records an MCP tool invocation outcome.
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordTaskStatus records a task reaching status, and its duration since
// creation if status is terminal.
func RecordTaskStatus(status string, sinceCreated time.Duration) {
	TasksByStatus.WithLabelValues(status).Inc()
	if sinceCreated > 0 {
		TaskDuration.WithLabelValues(status).Observe(sinceCreated.Seconds())
	}
}

// RecordEventDrop records an SSE event that could not be delivered or
// buffered for sessionID.
func RecordEventDrop(sessionID string) {
	EventBufferDrops.WithLabelValues(sessionID).Inc()
}

// RecordRateLimitRejection records a rejection by keyKind ("token" or "ip").
func RecordRateLimitRejection(keyKind string) {
	RateLimitRejections.WithLabelValues(keyKind).Inc()
}
