package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jonboulle/clockwork"
)

// maxQuestionRunes bounds the sanitized question embedded into prompts.
const maxQuestionRunes = 500

// maxPlannerCalls is the hard cap on tool calls in a planner-issued plan.
// Forced and correction plans are capped by construction instead.
const maxPlannerCalls = 3

// dispatchNoPattern extracts an explicit dispatch-order number like
// 派工單號014 or 派工單 014.
var dispatchNoPattern = regexp.MustCompile(`派工單[號]? *(\d{2,4})`)

// promptStructureChars are stripped from the question before it is embedded
// in a prompt, so user text cannot masquerade as prompt structure. A
// best-effort prompt-injection mitigation, not a security boundary.
var promptStructureChars = strings.NewReplacer(
	"{", " ",
	"}", " ",
	"`", " ",
	"<", " ",
	">", " ",
)

// Planner builds the planning prompt, calls the LLM for a JSON plan,
// repairs unusable plans, and merges extracted hints into the result.
type Planner struct {
	log          *slog.Logger
	llm          LLM
	prompts      *Prompts
	clock        clockwork.Clock
	historyTurns int
	maxTokens    int64
}

// NewPlanner creates a planner.
func NewPlanner(log *slog.Logger, llm LLM, prompts *Prompts, clock clockwork.Clock, historyTurns int, maxTokens int64) *Planner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Planner{
		log:          log,
		llm:          llm,
		prompts:      prompts,
		clock:        clock,
		historyTurns: historyTurns,
		maxTokens:    maxTokens,
	}
}

// Plan produces a tool plan for the question. An error means the LLM call
// itself failed; the caller's visible fallback branch is FallbackPlan.
// Malformed LLM output is repaired locally and never surfaces as an error.
func (p *Planner) Plan(ctx context.Context, question string, history []Message, hints Hints) (Plan, error) {
	sanitized := SanitizeQuestion(question)
	system := buildPlannerPrompt(p.prompts.Planner, p.clock.Now(), hints)
	messages := p.buildMessages(sanitized, history)

	raw, err := p.llm.Complete(ctx, system, messages,
		WithJSONResponse(),
		WithTemperature(0.1),
		WithMaxTokens(p.maxTokens),
	)
	if err != nil {
		return Plan{}, fmt.Errorf("planner llm call failed: %w", err)
	}

	plan, parsed := parsePlan(raw)
	if !parsed {
		p.log.Warn("planner returned unparseable plan, using stub", "raw_len", len(raw))
		plan = Plan{Reasoning: "無法解析規劃結果，改用提示欄位。", ToolCalls: []ToolCall{}}
	}

	plan = mergeHints(plan, hints)

	if len(plan.ToolCalls) == 0 && hintsNonTrivial(hints) {
		forced := buildForcedCalls(sanitized, question, hints)
		if len(forced) > 0 {
			p.log.Info("repaired empty plan from hints", "calls", len(forced))
			plan.ToolCalls = forced
		}
	}

	p.log.Info("plan ready", "tool_calls", len(plan.ToolCalls))
	return plan, nil
}

// FallbackPlan is used when the planner's LLM call fails outright: a single
// document search built from hints, or from the raw question when there are
// no hint keywords.
func (p *Planner) FallbackPlan(question string, hints Hints) Plan {
	params := map[string]any{}
	keywords := hints.Strings(HintKeywords)
	if len(keywords) == 0 {
		keywords = []string{truncateRunes(question, 100)}
	}
	params["keywords"] = keywords
	for _, key := range []string{HintSender, HintReceiver, HintDocType, HintStatus, HintDateFrom, HintDateTo} {
		if v := hints.String(key); v != "" {
			params[key] = v
		}
	}
	return Plan{
		Reasoning: "規劃服務暫時無法使用，以關鍵字搜尋公文。",
		ToolCalls: []ToolCall{{Name: ToolSearchDocuments, Params: params}},
	}
}

// buildMessages appends the bounded conversation history as alternating
// role turns, then the sanitized question inside its delimiter tag.
func (p *Planner) buildMessages(sanitized string, history []Message) []Message {
	if len(history) > p.historyTurns {
		history = history[len(history)-p.historyTurns:]
	}
	messages := make([]Message, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	messages = append(messages, Message{
		Role:    "user",
		Content: "<user_question>" + sanitized + "</user_question>",
	})
	return messages
}

// SanitizeQuestion strips characters that could read as prompt structure
// and truncates to 500 runes.
func SanitizeQuestion(question string) string {
	cleaned := promptStructureChars.Replace(question)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return truncateRunes(cleaned, maxQuestionRunes)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// parsePlan decodes the LLM's JSON defensively. The boolean tags the
// result: false means parse failure, and the caller substitutes the stub
// plan. Unknown tool names are dropped; planner plans are capped at 3
// calls.
func parsePlan(raw string) (Plan, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Plan{}, false
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return Plan{}, false
	}

	valid := make([]ToolCall, 0, len(plan.ToolCalls))
	for _, call := range plan.ToolCalls {
		if !knownTools[call.Name] {
			continue
		}
		if call.Params == nil {
			call.Params = map[string]any{}
		}
		valid = append(valid, call)
	}
	if len(valid) > maxPlannerCalls {
		valid = valid[:maxPlannerCalls]
	}
	plan.ToolCalls = valid
	return plan, true
}

// docFilterHints are the search_documents params filled from hints when the
// LLM left them out. Existing params are never overwritten.
var docFilterHints = []string{HintSender, HintReceiver, HintDocType, HintDateFrom, HintDateTo, HintStatus}

// mergeHints folds extracted hints into the plan. A no-op for empty hints.
func mergeHints(plan Plan, hints Hints) Plan {
	if len(hints) == 0 {
		return plan
	}

	for i, call := range plan.ToolCalls {
		if call.Name != ToolSearchDocuments {
			continue
		}
		if call.Params == nil {
			call.Params = map[string]any{}
		}
		for _, key := range docFilterHints {
			if _, present := call.Params[key]; present {
				continue
			}
			if v := hints.String(key); v != "" {
				call.Params[key] = v
			}
		}
		call.Params["keywords"] = unionKeywords(paramStrings(call.Params["keywords"]), hints.Strings(HintKeywords))
		if kws, ok := call.Params["keywords"].([]string); ok && len(kws) == 0 {
			delete(call.Params, "keywords")
		}
		plan.ToolCalls[i] = call
	}

	// A confident dispatch-order intent gets its own search when the plan
	// has none, there are keywords to search with, and the call cap still
	// has room.
	if hints.String(HintRelatedEntity) == "dispatch_order" &&
		!hasCall(plan.ToolCalls, ToolSearchDispatchOrders) &&
		len(plan.ToolCalls) < maxPlannerCalls {
		if keywords := hints.Strings(HintKeywords); len(keywords) > 0 {
			plan.ToolCalls = append(plan.ToolCalls, ToolCall{
				Name:   ToolSearchDispatchOrders,
				Params: map[string]any{"search": strings.Join(keywords, " ")},
			})
		}
	}

	return plan
}

// unionKeywords appends hint keywords not already present, preserving the
// original order with no duplicates.
func unionKeywords(existing, extra []string) []string {
	out := append([]string(nil), existing...)
	for _, kw := range extra {
		found := false
		for _, have := range out {
			if have == kw {
				found = true
				break
			}
		}
		if !found {
			out = append(out, kw)
		}
	}
	return out
}

func paramStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	}
	return nil
}

func hasCall(calls []ToolCall, name string) bool {
	for _, call := range calls {
		if call.Name == name {
			return true
		}
	}
	return false
}

// hintsNonTrivial reports whether the hints justify forcing a plan when the
// LLM declined to act.
func hintsNonTrivial(hints Hints) bool {
	if len(hints.Strings(HintKeywords)) > 0 {
		return true
	}
	for _, key := range []string{HintSender, HintReceiver, HintDocType, HintDateFrom, HintDateTo, HintRelatedEntity} {
		if hints.String(key) != "" {
			return true
		}
	}
	return false
}

// buildForcedCalls synthesizes tool calls from hints alone, so a confident
// intent never yields a no-op plan just because the model declined to act.
func buildForcedCalls(sanitized, raw string, hints Hints) []ToolCall {
	var calls []ToolCall

	if hints.String(HintRelatedEntity) == "dispatch_order" {
		params := map[string]any{}
		if m := dispatchNoPattern.FindStringSubmatch(sanitized); m != nil {
			params["dispatch_no"] = m[1]
		} else if keywords := hints.Strings(HintKeywords); len(keywords) > 0 {
			params["search"] = strings.Join(keywords, " ")
		} else {
			params["search"] = truncateRunes(raw, 50)
		}
		calls = append(calls, ToolCall{Name: ToolSearchDispatchOrders, Params: params})
	}

	keywords := hints.Strings(HintKeywords)
	hasFilter := false
	for _, key := range []string{HintSender, HintReceiver, HintDocType, HintDateFrom, HintDateTo} {
		if hints.String(key) != "" {
			hasFilter = true
			break
		}
	}
	if len(keywords) > 0 || hasFilter {
		params := map[string]any{}
		if len(keywords) > 0 {
			params["keywords"] = keywords
		}
		for _, key := range []string{HintSender, HintReceiver, HintDocType, HintDateFrom, HintDateTo} {
			if v := hints.String(key); v != "" {
				params[key] = v
			}
		}
		calls = append(calls, ToolCall{Name: ToolSearchDocuments, Params: params})
	}

	return calls
}
