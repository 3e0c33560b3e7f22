package agent

import (
	"context"
	"log/slog"

	"github.com/fengtai/docgraph/agent/pkg/intent"
)

// Confidence floors for hint extraction. The layered parser is trusted at a
// lower floor than the rule-only fallback because it cross-checks layers.
const (
	layeredConfidenceFloor = 0.3
	rulesConfidenceFloor   = 0.5
)

// Preprocessor turns the raw question into the Hint mapping the planner
// consumes. It never fails: any internal error degrades to an emptier
// mapping through the rule-engine fallback.
type Preprocessor struct {
	log    *slog.Logger
	parser IntentParser
	rules  RuleMatcher
}

// NewPreprocessor creates a preprocessor. parser may be nil, forcing the
// rule-only path.
func NewPreprocessor(log *slog.Logger, parser IntentParser, rules RuleMatcher) *Preprocessor {
	return &Preprocessor{log: log, parser: parser, rules: rules}
}

// Preprocess extracts hints from the question. The returned mapping is
// created once per request and must not be mutated afterward.
func (p *Preprocessor) Preprocess(ctx context.Context, question string) Hints {
	if p.parser != nil {
		result, err := p.parser.Parse(ctx, question)
		if err == nil {
			if result.Confidence < layeredConfidenceFloor {
				p.log.Debug("intent below confidence floor", "source", result.Source, "confidence", result.Confidence)
				return Hints{}
			}
			hints := hintsFromIntent(result.Intent, true)
			p.log.Info("extracted hints", "source", result.Source, "hints", len(hints), "confidence", result.Confidence)
			return hints
		}
		p.log.Warn("layered intent parse failed, falling back to rules", "error", err)
	}

	if p.rules == nil {
		return Hints{}
	}

	it, conf := p.rules.Match(question)
	if conf < rulesConfidenceFloor {
		return Hints{}
	}
	// The rule-only path extracts the overlapping field subset; rules have
	// no category taxonomy.
	hints := hintsFromIntent(it, false)
	p.log.Info("extracted hints", "source", intent.SourceRules, "hints", len(hints), "confidence", conf)
	return hints
}

// hintsFromIntent copies every field the intent actually set. Unset fields
// never appear in the mapping; there are no sentinels.
func hintsFromIntent(it intent.Intent, includeCategory bool) Hints {
	hints := Hints{}
	if it.Sender != "" {
		hints[HintSender] = it.Sender
	}
	if it.Receiver != "" {
		hints[HintReceiver] = it.Receiver
	}
	if it.DocType != "" {
		hints[HintDocType] = it.DocType
	}
	if it.Status != "" {
		hints[HintStatus] = it.Status
	}
	if it.DateFrom != "" {
		hints[HintDateFrom] = it.DateFrom
	}
	if it.DateTo != "" {
		hints[HintDateTo] = it.DateTo
	}
	if len(it.Keywords) > 0 {
		hints[HintKeywords] = append([]string(nil), it.Keywords...)
	}
	if it.RelatedEntity != "" {
		hints[HintRelatedEntity] = it.RelatedEntity
	}
	if includeCategory && it.Category != "" {
		hints[HintCategory] = it.Category
	}
	return hints
}
