package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/fengtai/docgraph/agent/pkg/intent"
	"github.com/jonboulle/clockwork"
)

// Hint keys recognized by the planner. Absence of a key means "unknown";
// hints never carry sentinel values.
const (
	HintSender        = "sender"
	HintReceiver      = "receiver"
	HintDocType       = "doc_type"
	HintStatus        = "status"
	HintDateFrom      = "date_from"
	HintDateTo        = "date_to"
	HintKeywords      = "keywords"
	HintRelatedEntity = "related_entity"
	HintCategory      = "category"
)

// Hints is the flat field mapping extracted from a question before planning.
// Created once per request and read-only afterward.
type Hints map[string]any

// String returns the hint value as a string, or "" when absent or not a string.
func (h Hints) String(key string) string {
	s, _ := h[key].(string)
	return s
}

// Strings returns the hint value as a string slice. Scalar strings are
// returned as a one-element slice so callers can treat keywords uniformly.
func (h Hints) Strings(key string) []string {
	switch v := h[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// ToolCall is a single requested tool invocation.
type ToolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Plan is an ordered set of tool invocations plus the model's justification.
type Plan struct {
	Reasoning string     `json:"reasoning"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolResult is the outcome of one executed tool call. The core only
// inspects "count" and "error" in the result payload; everything else is
// opaque and flows through to synthesis.
type ToolResult struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	Result map[string]any `json:"result"`
}

// Count returns the result's count field, tolerating the numeric types
// produced by JSON decoding and by the tool implementations.
func (r ToolResult) Count() int {
	switch v := r.Result["count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Err returns the result's error field, if any. A tool-reported error is
// data fed to the evaluator, not a fault.
func (r ToolResult) Err() string {
	s, _ := r.Result["error"].(string)
	return s
}

// Message is one turn of conversation history given to the planner.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CompleteOptions holds options for an LLM completion.
type CompleteOptions struct {
	MaxTokens   int64
	Temperature float64
	JSONOnly    bool // ask for a single strict JSON object response
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithMaxTokens bounds the completion's token budget.
func WithMaxTokens(n int64) CompleteOption {
	return func(o *CompleteOptions) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CompleteOption {
	return func(o *CompleteOptions) { o.Temperature = t }
}

// WithJSONResponse constrains the response to a single JSON object.
func WithJSONResponse() CompleteOption {
	return func(o *CompleteOptions) { o.JSONOnly = true }
}

// LLM is the completion endpoint used by the planner and the layered
// intent parser.
type LLM interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message, opts ...CompleteOption) (string, error)
}

// StreamingLLM extends LLM with token streaming, used by answer synthesis.
type StreamingLLM interface {
	LLM

	// CompleteStream emits response fragments through emit as they arrive.
	// A non-nil error from emit aborts the stream.
	CompleteStream(ctx context.Context, systemPrompt string, messages []Message, emit func(token string) error, opts ...CompleteOption) error
}

// ToolExecutor runs a single tool call. Tool-level failures are reported
// inside the returned payload under "error"; a Go error means a
// non-recoverable fault (e.g. context cancellation) and aborts the run.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (map[string]any, error)
}

// IntentParser is the layered (rules → history → LLM) intent parser.
type IntentParser interface {
	Parse(ctx context.Context, question string) (intent.Result, error)
}

// RuleMatcher is the rule-engine-only matcher used when the layered
// parser is unavailable.
type RuleMatcher interface {
	Match(question string) (intent.Intent, float64)
}

// Config holds the orchestrator's injected collaborators. Collaborators are
// constructed once at process start and passed by reference so tests can
// substitute fakes.
type Config struct {
	Logger *slog.Logger
	LLM    StreamingLLM
	Tools  ToolExecutor
	Parser IntentParser // optional; preprocessor falls back to Rules when nil or failing
	Rules  RuleMatcher
	Clock  clockwork.Clock

	Model         string        // model identifier reported in the done event
	MaxIterations int           // hard ceiling on plan/evaluate rounds (default 3)
	HistoryTurns  int           // conversation turns embedded in the planning prompt (default 6)
	MaxTokens     int64         // planner token budget (default 1024)
	LLMTimeout    time.Duration // per-LLM-call deadline (default 90s)
}

const (
	// DefaultMaxIterations bounds plan/evaluate rounds as defense in depth
	// over the evaluator's own anti-repetition guards.
	DefaultMaxIterations = 3

	// DefaultHistoryTurns is how many trailing conversation turns the
	// planner sees.
	DefaultHistoryTurns = 6

	// DefaultMaxTokens is the planner's completion budget.
	DefaultMaxTokens = 1024

	// DefaultLLMTimeout bounds each planner and synthesis LLM call so a
	// hung upstream surfaces as a stream-timeout error instead of a stuck
	// run.
	DefaultLLMTimeout = 90 * time.Second
)

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	return cfg
}
