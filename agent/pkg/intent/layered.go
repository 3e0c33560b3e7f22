package intent

import (
	"context"
	"log/slog"
)

// Layering thresholds. Rules short-circuit when they alone are conclusive;
// an LLM parse that succeeds is trusted at a fixed confidence.
const (
	rulesConclusive = 0.8
	llmConfidence   = 0.85
)

// LayeredParser runs rules, then history similarity, then an LLM field
// extraction, and merges the layers. Collaborators are injected; history
// and llm may be nil, in which case those layers are skipped.
type LayeredParser struct {
	log     *slog.Logger
	rules   *RuleEngine
	history *HistoryMatcher
	llm     *LLMParser
}

// NewLayeredParser creates the layered parser.
func NewLayeredParser(log *slog.Logger, rules *RuleEngine, history *HistoryMatcher, llm *LLMParser) *LayeredParser {
	return &LayeredParser{log: log, rules: rules, history: history, llm: llm}
}

// Parse returns the merged intent, the deepest layer that contributed, and
// a confidence score. It only returns an error when every layer failed to
// produce anything.
func (p *LayeredParser) Parse(ctx context.Context, question string) (Result, error) {
	ruleIntent, ruleConf := p.rules.Match(question)
	if ruleConf >= rulesConclusive {
		return Result{Intent: ruleIntent, Source: SourceRules, Confidence: ruleConf}, nil
	}

	if p.history != nil {
		histIntent, sim, err := p.history.Match(ctx, question)
		if err != nil {
			p.log.Debug("history match unavailable", "error", err)
		} else if sim > 0 {
			// A near-identical past question carries its full intent;
			// rule fields fill any gaps.
			return Result{Intent: histIntent.merge(ruleIntent), Source: SourceHistory, Confidence: sim}, nil
		}
	}

	if p.llm != nil {
		llmIntent, err := p.llm.Parse(ctx, question)
		if err != nil {
			p.log.Debug("llm intent parse unavailable", "error", err)
		} else if !llmIntent.IsEmpty() {
			merged := llmIntent.merge(ruleIntent)
			p.record(ctx, question, merged)
			return Result{Intent: merged, Source: SourceLLM, Confidence: llmConfidence}, nil
		}
	}

	return Result{Intent: ruleIntent, Source: SourceRules, Confidence: ruleConf}, nil
}

// record persists a successful parse for future history matches,
// best-effort.
func (p *LayeredParser) record(ctx context.Context, question string, it Intent) {
	if p.history == nil {
		return
	}
	if err := p.history.Record(ctx, question, it); err != nil {
		p.log.Debug("failed to record intent history", "error", err)
	}
}
