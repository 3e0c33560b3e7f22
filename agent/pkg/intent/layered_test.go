package intent

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
)

func newLayered(history *HistoryMatcher, llm *LLMParser) *LayeredParser {
	log := slog.New(slog.DiscardHandler)
	rules := NewRuleEngine(log, clockwork.NewFakeClockAt(anchor))
	return NewLayeredParser(log, rules, history, llm)
}

func TestLayeredParse_ConclusiveRulesShortCircuit(t *testing.T) {
	// The LLM layer errors; a conclusive rule match must never reach it.
	llm := NewLLMParser(slog.New(slog.DiscardHandler), &fakeCompleter{err: errors.New("must not be called")})
	p := newLayered(nil, llm)

	res, err := p.Parse(context.Background(), "查114年3月工務局發的函")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if res.Source != SourceRules {
		t.Errorf("Source = %s, want %s", res.Source, SourceRules)
	}
	if res.Confidence < rulesConclusive {
		t.Errorf("Confidence = %.2f, want at least %.2f", res.Confidence, rulesConclusive)
	}
	if res.Intent.Sender != "桃園市政府工務局" || res.Intent.DocType != "函" {
		t.Errorf("Intent = %+v, want the rule extraction", res.Intent)
	}
}

func TestLayeredParse_HistoryLayerMerges(t *testing.T) {
	store := &memStore{entries: []HistoryEntry{{
		Question:  "會勘的公文",
		Embedding: []float32{1, 0},
		Intent:    Intent{Keywords: []string{"會勘"}, Category: "道路工程"},
	}}}
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"已結案會勘的公文": {1, 0},
	}}
	history := NewHistoryMatcher(slog.New(slog.DiscardHandler), store, embedder, 0.88)
	p := newLayered(history, nil)

	res, err := p.Parse(context.Background(), "已結案會勘的公文")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if res.Source != SourceHistory {
		t.Fatalf("Source = %s, want %s", res.Source, SourceHistory)
	}
	// History intent wins, rule fields fill the gaps.
	if res.Intent.Category != "道路工程" {
		t.Errorf("Category = %q, want the stored value", res.Intent.Category)
	}
	if res.Intent.Status != "已結案" {
		t.Errorf("Status = %q, want the rule extraction merged in", res.Intent.Status)
	}
}

func TestLayeredParse_LLMLayerMerges(t *testing.T) {
	llm := NewLLMParser(slog.New(slog.DiscardHandler), &fakeCompleter{
		response: `{"category":"地籍測量","keywords":["鑑界"]}`,
	})
	p := newLayered(nil, llm)

	res, err := p.Parse(context.Background(), "已結案鑑界案件")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if res.Source != SourceLLM {
		t.Fatalf("Source = %s, want %s", res.Source, SourceLLM)
	}
	if res.Confidence != llmConfidence {
		t.Errorf("Confidence = %.2f, want %.2f", res.Confidence, llmConfidence)
	}
	if res.Intent.Category != "地籍測量" {
		t.Errorf("Category = %q, want the llm extraction", res.Intent.Category)
	}
	if res.Intent.Status != "已結案" {
		t.Errorf("Status = %q, want the rule extraction merged in", res.Intent.Status)
	}
}

func TestLayeredParse_DegradesToRules(t *testing.T) {
	llm := NewLLMParser(slog.New(slog.DiscardHandler), &fakeCompleter{err: errors.New("api down")})
	p := newLayered(nil, llm)

	res, err := p.Parse(context.Background(), "道路會勘")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if res.Source != SourceRules {
		t.Errorf("Source = %s, want rule degradation", res.Source)
	}
	if len(res.Intent.Keywords) == 0 {
		t.Errorf("Intent = %+v, want the rule keywords kept", res.Intent)
	}
}

func TestLayeredParse_RecordsLLMResult(t *testing.T) {
	store := &memStore{}
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"鑑界案件進度": {0, 1},
	}}
	history := NewHistoryMatcher(slog.New(slog.DiscardHandler), store, embedder, 0.88)
	llm := NewLLMParser(slog.New(slog.DiscardHandler), &fakeCompleter{
		response: `{"category":"地籍測量"}`,
	})
	p := newLayered(history, llm)

	if _, err := p.Parse(context.Background(), "鑑界案件進度"); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("history has %d entries, want the parse recorded", len(store.entries))
	}
	if store.entries[0].Intent.Category != "地籍測量" {
		t.Errorf("recorded intent = %+v, want the merged result", store.entries[0].Intent)
	}
}
