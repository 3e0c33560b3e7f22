// Package metrics exposes the Prometheus instrumentation for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docgraph_build_info",
		Help: "Build information, value is always 1",
	}, []string{"version", "commit", "date"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgraph_http_requests_total",
		Help: "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgraph_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	anthropicRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgraph_anthropic_requests_total",
		Help: "Anthropic API requests by operation and outcome",
	}, []string{"operation", "outcome"})

	anthropicDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgraph_anthropic_request_duration_seconds",
		Help:    "Anthropic API request latency by operation",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	anthropicTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgraph_anthropic_tokens_total",
		Help: "Anthropic token usage by direction",
	}, []string{"direction"})

	agentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgraph_agent_runs_total",
		Help: "Agent runs by terminal outcome (done, error code, or cancelled)",
	}, []string{"outcome"})

	agentIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docgraph_agent_iterations",
		Help:    "Plan/evaluate iterations per agent run",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgraph_tool_calls_total",
		Help: "Tool executions by tool and outcome",
	}, []string{"tool", "outcome"})
)

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards flushes so SSE streaming keeps working under the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RecordAnthropicRequest records one provider call.
func RecordAnthropicRequest(operation string, duration time.Duration, inputTokens, outputTokens int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	anthropicRequests.WithLabelValues(operation, outcome).Inc()
	anthropicDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if inputTokens > 0 {
		anthropicTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		anthropicTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// RecordAgentRun records a finished agent run.
func RecordAgentRun(outcome string, iterations int) {
	agentRuns.WithLabelValues(outcome).Inc()
	if iterations > 0 {
		agentIterations.Observe(float64(iterations))
	}
}

// RecordToolCall records one tool execution.
func RecordToolCall(tool string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	toolCalls.WithLabelValues(tool, outcome).Inc()
}
