package agent

import (
	"log/slog"
)

// maxEntityDetailCalls bounds strategy 6's expansion.
const maxEntityDetailCalls = 2

// maxDocSearchRetries is the total number of zero-result document searches
// tolerated before the retry strategy stops firing.
const maxDocSearchRetries = 2

// Evaluator decides, from tool results alone, whether the run needs more
// tool calls. It never calls the LLM: every decision is a pure predicate
// over the last result and the accumulated history, so retries are bounded
// by construction.
type Evaluator struct {
	log        *slog.Logger
	strategies []strategy
}

// strategy is one predicate-action pair. Strategies run in fixed order and
// the first plan wins. Each guard references either a bounded counter or a
// used-tools membership check, so no strategy can fire twice for the same
// reason.
type strategy struct {
	name  string
	apply func(*evalContext) *Plan
}

// evalContext is the read-only view a strategy sees.
type evalContext struct {
	question        string
	results         []ToolResult
	last            ToolResult
	used            map[string]bool
	zeroDocSearches int
}

// NewEvaluator creates an evaluator with the default strategy chain.
func NewEvaluator(log *slog.Logger) *Evaluator {
	return &Evaluator{
		log: log,
		strategies: []strategy{
			{name: "empty_doc_search", apply: retryDocSearchRelaxed},
			{name: "empty_entity_search", apply: switchToDocSearch},
			{name: "doc_empty_try_dispatch", apply: tryDispatchSearch},
			{name: "total_failure", apply: fetchStatistics},
			{name: "similar_failed", apply: substituteDocSearch},
			{name: "entity_expansion", apply: expandEntities},
		},
	}
}

// Evaluate returns a correction plan, or nil when the accumulated results
// are good enough to synthesize from.
func (e *Evaluator) Evaluate(question string, results []ToolResult) *Plan {
	if len(results) == 0 {
		return nil
	}

	ec := &evalContext{
		question: question,
		results:  results,
		last:     results[len(results)-1],
		used:     map[string]bool{},
	}
	for _, r := range results {
		ec.used[r.Tool] = true
		if r.Tool == ToolSearchDocuments && r.Count() == 0 && r.Err() == "" {
			ec.zeroDocSearches++
		}
	}

	for _, s := range e.strategies {
		if plan := s.apply(ec); plan != nil {
			e.log.Info("correction strategy matched", "strategy", s.name, "tool_calls", len(plan.ToolCalls))
			return plan
		}
	}

	// Fast path: any non-error result with data means we have enough to
	// answer from. With all strategies exhausted and nothing found we also
	// stop, and synthesis gives a best-effort answer from what exists.
	total := 0
	for _, r := range results {
		if r.Err() == "" {
			total += r.Count()
		}
	}
	if total == 0 {
		e.log.Warn("no tool returned data, proceeding to synthesis anyway")
	}
	return nil
}

// retryDocSearchRelaxed re-issues an empty document search with filters
// relaxed to keyword-only, adding an entity search if untried. Bounded by
// the zero-result counter.
func retryDocSearchRelaxed(ec *evalContext) *Plan {
	if ec.last.Tool != ToolSearchDocuments || ec.last.Count() != 0 || ec.last.Err() != "" {
		return nil
	}
	if ec.zeroDocSearches >= maxDocSearchRetries {
		return nil
	}

	keywords := paramStrings(ec.last.Params["keywords"])
	if len(keywords) == 0 {
		keywords = []string{ec.question}
	}
	calls := []ToolCall{{
		Name:   ToolSearchDocuments,
		Params: map[string]any{"keywords": keywords},
	}}
	if !ec.used[ToolSearchEntities] {
		calls = append(calls, ToolCall{
			Name:   ToolSearchEntities,
			Params: map[string]any{"query": ec.question, "limit": 5},
		})
	}
	return &Plan{
		Reasoning: "公文搜尋無結果，放寬條件改用關鍵字搜尋。",
		ToolCalls: calls,
	}
}

// switchToDocSearch falls back to full-text document search when an entity
// search found nothing and documents were never searched.
func switchToDocSearch(ec *evalContext) *Plan {
	if ec.last.Tool != ToolSearchEntities || ec.last.Count() != 0 || ec.last.Err() != "" {
		return nil
	}
	if ec.used[ToolSearchDocuments] {
		return nil
	}
	return &Plan{
		Reasoning: "找不到相關單位或人員，改以全文搜尋公文。",
		ToolCalls: []ToolCall{{
			Name:   ToolSearchDocuments,
			Params: map[string]any{"keywords": []string{ec.question}},
		}},
	}
}

// tryDispatchSearch reroutes an empty document search to dispatch orders
// when that tool has not been tried.
func tryDispatchSearch(ec *evalContext) *Plan {
	if ec.last.Tool != ToolSearchDocuments || ec.last.Count() != 0 {
		return nil
	}
	if ec.used[ToolSearchDispatchOrders] {
		return nil
	}
	return &Plan{
		Reasoning: "公文中查無資料，改查派工單。",
		ToolCalls: []ToolCall{{
			Name:   ToolSearchDispatchOrders,
			Params: map[string]any{"search": ec.question},
		}},
	}
}

// fetchStatistics grabs overview statistics once when every result so far
// is empty or errored, so synthesis has at least some grounding context.
func fetchStatistics(ec *evalContext) *Plan {
	if ec.used[ToolGetStatistics] {
		return nil
	}
	for _, r := range ec.results {
		if r.Err() == "" && r.Count() > 0 {
			return nil
		}
	}
	return &Plan{
		Reasoning: "所有查詢皆無結果，取得整體統計作為回答依據。",
		ToolCalls: []ToolCall{{
			Name:   ToolGetStatistics,
			Params: map[string]any{},
		}},
	}
}

// substituteDocSearch replaces a failed similarity lookup with a keyword
// document search.
func substituteDocSearch(ec *evalContext) *Plan {
	if ec.last.Tool != ToolFindSimilar || ec.last.Err() == "" {
		return nil
	}
	if ec.used[ToolSearchDocuments] {
		return nil
	}
	return &Plan{
		Reasoning: "相似文件查詢失敗，改用關鍵字搜尋。",
		ToolCalls: []ToolCall{{
			Name:   ToolSearchDocuments,
			Params: map[string]any{"keywords": []string{ec.question}},
		}},
	}
}

// expandEntities looks up details for entities a successful entity search
// returned, at most two, in the order the search returned them. Unlike the
// other strategies this one inspects the whole history, not just the last
// result.
func expandEntities(ec *evalContext) *Plan {
	if ec.used[ToolGetEntityDetail] {
		return nil
	}

	for _, r := range ec.results {
		if r.Tool != ToolSearchEntities || r.Count() == 0 || r.Err() != "" {
			continue
		}
		entities := payloadMaps(r.Result["entities"])
		var calls []ToolCall
		for _, entity := range entities {
			id, ok := entity["id"]
			if !ok || id == nil {
				continue
			}
			calls = append(calls, ToolCall{
				Name:   ToolGetEntityDetail,
				Params: map[string]any{"entity_id": id},
			})
			if len(calls) == maxEntityDetailCalls {
				break
			}
		}
		if len(calls) > 0 {
			return &Plan{
				Reasoning: "取得相關單位或人員的詳細資料，補充回答內容。",
				ToolCalls: calls,
			}
		}
	}
	return nil
}
