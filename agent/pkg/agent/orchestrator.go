package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxSources bounds the sources event payload.
const maxSources = 10

// finalEventGrace bounds how long a terminal error event may wait for a
// consumer whose context already expired.
const finalEventGrace = 5 * time.Second

// Agent drives one question through preprocess, plan, execute, evaluate and
// synthesis, emitting the run as an ordered event sequence.
type Agent struct {
	cfg     Config
	pre     *Preprocessor
	planner *Planner
	eval    *Evaluator
	synth   *Synthesizer
}

// New constructs an agent from its collaborators.
func New(cfg *Config) (*Agent, error) {
	c := cfg.withDefaults()
	if c.LLM == nil {
		return nil, fmt.Errorf("agent config requires an LLM client")
	}
	if c.Tools == nil {
		return nil, fmt.Errorf("agent config requires a tool executor")
	}

	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	return &Agent{
		cfg:     c,
		pre:     NewPreprocessor(c.Logger, c.Parser, c.Rules),
		planner: NewPlanner(c.Logger, c.LLM, prompts, c.Clock, c.HistoryTurns, c.MaxTokens),
		eval:    NewEvaluator(c.Logger),
		synth:   NewSynthesizer(c.Logger, c.LLM, prompts),
	}, nil
}

// Run answers the question, streaming progress and the answer as events.
// The returned channel is closed after the terminal done or error event.
// Cancelling ctx stops the run at the next suspension point; an in-flight
// tool call is allowed to complete.
func (a *Agent) Run(ctx context.Context, question string, history []Message) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		a.run(ctx, question, history, events)
	}()
	return events
}

func (a *Agent) run(ctx context.Context, question string, history []Message, events chan<- StreamEvent) {
	start := a.cfg.Clock.Now()
	step := 0

	emit := func(e StreamEvent) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		code := ClassifyError(err)
		a.cfg.Logger.Error("agent run failed", "code", code, "error", err)
		// Terminal events are delivered even after the run context expires;
		// a consumer whose deadline fired is still draining the channel.
		select {
		case events <- StreamEvent{Type: EventError, Err: userMessage(code), Code: code}:
		case <-a.cfg.Clock.After(finalEventGrace):
		}
	}
	// halted reports whether the run context is done. Deadline expiry is a
	// classified failure the caller must see; consumer cancellation ends
	// the stream without a terminal event.
	halted := func() bool {
		ctxErr := ctx.Err()
		if ctxErr == nil {
			return false
		}
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			fail(fmt.Errorf("run deadline exceeded: %w", ctxErr))
		}
		return true
	}

	if !emit(StreamEvent{Type: EventThinking, Step: "分析問題", StepIndex: step}) {
		halted()
		return
	}
	hints := a.pre.Preprocess(ctx, question)
	if halted() {
		return
	}

	step++
	if !emit(StreamEvent{Type: EventThinking, Step: "規劃查詢", StepIndex: step}) {
		halted()
		return
	}
	planCtx, cancelPlan := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	plan, err := a.planner.Plan(planCtx, question, history, hints)
	cancelPlan()
	if err != nil {
		if halted() {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			fail(fmt.Errorf("planner timed out: %w", err))
			return
		}
		a.cfg.Logger.Warn("planner failed, using fallback plan", "error", err)
		plan = a.planner.FallbackPlan(question, hints)
	}

	var results []ToolResult
	var toolsUsed []string
	seen := map[string]bool{}
	iterations := 0

	for {
		iterations++
		for _, call := range plan.ToolCalls {
			if halted() {
				return
			}
			step++
			if !emit(StreamEvent{Type: EventToolCall, Tool: call.Name, Params: call.Params, StepIndex: step}) {
				halted()
				return
			}

			payload, err := a.cfg.Tools.Execute(ctx, call)
			if err != nil {
				if halted() {
					return
				}
				fail(fmt.Errorf("tool %s failed: %w", call.Name, err))
				return
			}

			result := ToolResult{Tool: call.Name, Params: call.Params, Result: payload}
			results = append(results, result)
			if !seen[call.Name] {
				seen[call.Name] = true
				toolsUsed = append(toolsUsed, call.Name)
			}

			if !emit(StreamEvent{Type: EventToolResult, Tool: call.Name, Summary: summarize(result), Count: result.Count(), StepIndex: step}) {
				halted()
				return
			}
		}

		if iterations >= a.cfg.MaxIterations {
			a.cfg.Logger.Info("iteration ceiling reached", "iterations", iterations)
			break
		}
		correction := a.eval.Evaluate(question, results)
		if correction == nil {
			break
		}
		step++
		if !emit(StreamEvent{Type: EventThinking, Step: "補查資料", StepIndex: step}) {
			halted()
			return
		}
		plan = *correction
	}

	sources := collectSources(results)
	if !emit(StreamEvent{Type: EventSources, Sources: sources, RetrievalCount: len(sources)}) {
		halted()
		return
	}

	synthCtx, cancelSynth := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancelSynth()
	err = a.synth.Synthesize(synthCtx, question, history, results, func(token string) error {
		select {
		case events <- StreamEvent{Type: EventToken, Token: token}:
			return nil
		case <-synthCtx.Done():
			return synthCtx.Err()
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			halted()
			return
		}
		fail(err)
		return
	}

	emit(StreamEvent{
		Type:       EventDone,
		LatencyMS:  a.cfg.Clock.Since(start).Milliseconds(),
		Model:      a.cfg.Model,
		ToolsUsed:  toolsUsed,
		Iterations: iterations,
	})
}

// summarize builds the short human-readable line shown next to a tool result.
func summarize(r ToolResult) string {
	if errMsg := r.Err(); errMsg != "" {
		return fmt.Sprintf("查詢失敗：%s", errMsg)
	}
	if r.Tool == ToolGetStatistics {
		return "已取得整體統計"
	}
	return fmt.Sprintf("找到 %d 筆資料", r.Count())
}

// sourcePayloadKeys are the result payload lists whose entries are shown to
// the caller as answer sources, in precedence order.
var sourcePayloadKeys = []string{"documents", "orders", "entities"}

// collectSources gathers source references from tool results, preserving
// execution order, capped at maxSources.
func collectSources(results []ToolResult) []map[string]any {
	sources := []map[string]any{}
	for _, r := range results {
		if r.Err() != "" {
			continue
		}
		for _, key := range sourcePayloadKeys {
			for _, item := range payloadMaps(r.Result[key]) {
				if len(sources) == maxSources {
					return sources
				}
				sources = append(sources, item)
			}
		}
	}
	return sources
}

// payloadMaps reads a payload list as maps, tolerating both Go-built slices
// and JSON-decoded ones.
func payloadMaps(v any) []map[string]any {
	switch items := v.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, raw := range items {
			if m, ok := raw.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// userMessage maps a wire code to the message shown to the caller. Internal
// error details stay in the logs.
func userMessage(code ErrorCode) string {
	switch code {
	case CodeRateLimited:
		return "系統忙碌中，請稍後再試。"
	case CodeStreamTimeout:
		return "回應逾時，請稍後再試。"
	default:
		return "系統發生錯誤，請稍後再試。"
	}
}
