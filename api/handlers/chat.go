package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fengtai/docgraph/agent/pkg/agent"
	"github.com/fengtai/docgraph/api/audit"
	"github.com/fengtai/docgraph/api/metrics"
)

const heartbeatInterval = 15 * time.Second

// Runner produces the event stream for one question.
type Runner interface {
	Run(ctx context.Context, question string, history []agent.Message) <-chan agent.StreamEvent
}

// ChatMessage is a single turn of conversation history from the client.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the incoming chat request.
type ChatRequest struct {
	Message string        `json:"message"`
	History []ChatMessage `json:"history"`
}

// ChatResponse is the non-streaming chat result.
type ChatResponse struct {
	Answer     string           `json:"answer"`
	Sources    []map[string]any `json:"sources"`
	ToolsUsed  []string         `json:"tools_used"`
	Iterations int              `json:"iterations"`
	LatencyMS  int64            `json:"latency_ms"`
	Error      string           `json:"error,omitempty"`
	Code       string           `json:"code,omitempty"`
}

// ChatHandler serves the chat endpoints on top of an agent runner.
type ChatHandler struct {
	log    *slog.Logger
	runner Runner
	audit  *audit.Recorder
	model  string
}

// NewChatHandler creates a handler. recorder may be nil.
func NewChatHandler(log *slog.Logger, runner Runner, recorder *audit.Recorder, model string) *ChatHandler {
	return &ChatHandler{log: log, runner: runner, audit: recorder, model: model}
}

func convertHistory(messages []ChatMessage) []agent.Message {
	history := make([]agent.Message, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		history = append(history, agent.Message{Role: role, Content: msg.Content})
	}
	return history
}

// ChatStream answers a question over SSE. Each stream event is framed as
// "event: <type>" with the event JSON as data; heartbeat comments keep the
// connection alive through proxies.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendEvent := func(event agent.StreamEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			h.log.Error("failed to marshal stream event", "type", event.Type, "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		flusher.Flush()
	}

	ctx := r.Context()
	events := h.runner.Run(ctx, req.Message, convertHistory(req.History))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	run := audit.Run{
		RunID:    uuid.New(),
		Question: req.Message,
		Model:    h.model,
		Outcome:  "cancelled",
	}
	defer h.finish(&run)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			trackRun(&run, event)
			sendEvent(event)
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Chat answers a question in a single JSON response, collecting the event
// stream internally.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	events := h.runner.Run(ctx, req.Message, convertHistory(req.History))

	run := audit.Run{
		RunID:    uuid.New(),
		Question: req.Message,
		Model:    h.model,
		Outcome:  "cancelled",
	}

	var answer strings.Builder
	resp := ChatResponse{Sources: []map[string]any{}, ToolsUsed: []string{}}
	for event := range events {
		trackRun(&run, event)
		switch event.Type {
		case agent.EventToken:
			answer.WriteString(event.Token)
		case agent.EventSources:
			if event.Sources != nil {
				resp.Sources = event.Sources
			}
		case agent.EventDone:
			resp.ToolsUsed = event.ToolsUsed
			resp.Iterations = event.Iterations
			resp.LatencyMS = event.LatencyMS
		case agent.EventError:
			resp.Error = event.Err
			resp.Code = string(event.Code)
		}
	}
	resp.Answer = answer.String()
	h.finish(&run)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// trackRun folds stream events into the audit record.
func trackRun(run *audit.Run, event agent.StreamEvent) {
	switch event.Type {
	case agent.EventToolCall:
		run.ToolCalls++
	case agent.EventDone:
		run.Outcome = "done"
		run.Iterations = event.Iterations
		run.ToolsUsed = event.ToolsUsed
		run.LatencyMS = event.LatencyMS
	case agent.EventError:
		run.Outcome = "error"
		run.ErrorCode = string(event.Code)
	}
}

func (h *ChatHandler) finish(run *audit.Run) {
	outcome := run.Outcome
	if outcome == "error" && run.ErrorCode != "" {
		outcome = run.ErrorCode
	}
	metrics.RecordAgentRun(outcome, run.Iterations)
	if h.audit != nil {
		h.audit.Record(*run)
	}
}
