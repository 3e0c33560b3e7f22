package agent

import "encoding/json"

// EventType discriminates StreamEvent variants on the wire.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventSources    EventType = "sources"
	EventToken      EventType = "token"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// ErrorCode classifies terminal stream failures.
type ErrorCode string

const (
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeServiceError  ErrorCode = "SERVICE_ERROR"
	CodeStreamTimeout ErrorCode = "STREAM_TIMEOUT"
)

// StreamEvent is one element of the ordered event sequence an orchestrator
// run produces. Exactly one variant's fields are populated, per Type.
type StreamEvent struct {
	Type EventType

	// thinking
	Step string

	// thinking, tool_call, tool_result
	StepIndex int

	// tool_call, tool_result
	Tool   string
	Params map[string]any

	// tool_result
	Summary string
	Count   int

	// sources
	Sources        []map[string]any
	RetrievalCount int

	// token
	Token string

	// done
	LatencyMS  int64
	Model      string
	ToolsUsed  []string
	Iterations int

	// error
	Err  string
	Code ErrorCode
}

// MarshalJSON writes the variant's wire shape: one JSON object per event,
// discriminated by "type", with only that variant's fields present.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventThinking:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Step      string    `json:"step"`
			StepIndex int       `json:"step_index"`
		}{e.Type, e.Step, e.StepIndex})
	case EventToolCall:
		return json.Marshal(struct {
			Type      EventType      `json:"type"`
			Tool      string         `json:"tool"`
			Params    map[string]any `json:"params"`
			StepIndex int            `json:"step_index"`
		}{e.Type, e.Tool, e.Params, e.StepIndex})
	case EventToolResult:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Tool      string    `json:"tool"`
			Summary   string    `json:"summary"`
			Count     int       `json:"count"`
			StepIndex int       `json:"step_index"`
		}{e.Type, e.Tool, e.Summary, e.Count, e.StepIndex})
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []map[string]any{}
		}
		return json.Marshal(struct {
			Type           EventType        `json:"type"`
			Sources        []map[string]any `json:"sources"`
			RetrievalCount int              `json:"retrieval_count"`
		}{e.Type, sources, e.RetrievalCount})
	case EventToken:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Token string    `json:"token"`
		}{e.Type, e.Token})
	case EventDone:
		tools := e.ToolsUsed
		if tools == nil {
			tools = []string{}
		}
		return json.Marshal(struct {
			Type       EventType `json:"type"`
			LatencyMS  int64     `json:"latency_ms"`
			Model      string    `json:"model"`
			ToolsUsed  []string  `json:"tools_used"`
			Iterations int       `json:"iterations"`
		}{e.Type, e.LatencyMS, e.Model, tools, e.Iterations})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
			Code  ErrorCode `json:"code"`
		}{e.Type, e.Err, e.Code})
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
	}{e.Type})
}
