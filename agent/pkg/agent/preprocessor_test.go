package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/fengtai/docgraph/agent/pkg/intent"
)

type fakeParser struct {
	result intent.Result
	err    error
}

func (f *fakeParser) Parse(_ context.Context, _ string) (intent.Result, error) {
	return f.result, f.err
}

type fakeRules struct {
	intent     intent.Intent
	confidence float64
}

func (f *fakeRules) Match(_ string) (intent.Intent, float64) {
	return f.intent, f.confidence
}

func TestPreprocess_ConfidentParse(t *testing.T) {
	parser := &fakeParser{result: intent.Result{
		Intent: intent.Intent{
			Sender:   "桃園市政府工務局",
			DocType:  "函",
			Keywords: []string{"會勘"},
			Category: "document_search",
		},
		Source:     intent.SourceRules,
		Confidence: 0.85,
	}}
	p := NewPreprocessor(discardLogger(), parser, &fakeRules{})

	hints := p.Preprocess(context.Background(), "查工務局的會勘函")
	if got := hints.String(HintSender); got != "桃園市政府工務局" {
		t.Errorf("sender hint = %q, want 桃園市政府工務局", got)
	}
	if got := hints.String(HintDocType); got != "函" {
		t.Errorf("doc_type hint = %q, want 函", got)
	}
	if got := hints.Strings(HintKeywords); len(got) != 1 || got[0] != "會勘" {
		t.Errorf("keywords hint = %v, want [會勘]", got)
	}
	if got := hints.String(HintCategory); got != "document_search" {
		t.Errorf("category hint = %q, want document_search", got)
	}
}

func TestPreprocess_LowConfidenceYieldsEmptyHints(t *testing.T) {
	parser := &fakeParser{result: intent.Result{
		Intent:     intent.Intent{Keywords: []string{"東西"}},
		Source:     intent.SourceLLM,
		Confidence: 0.2,
	}}
	p := NewPreprocessor(discardLogger(), parser, nil)

	if hints := p.Preprocess(context.Background(), "那個東西"); len(hints) != 0 {
		t.Errorf("Preprocess() = %v, want empty hints below the floor", hints)
	}
}

func TestPreprocess_ParserErrorFallsBackToRules(t *testing.T) {
	parser := &fakeParser{err: errors.New("history store down")}
	rules := &fakeRules{
		intent: intent.Intent{
			DocType:  "派工單",
			Category: "dispatch",
		},
		confidence: 0.7,
	}
	p := NewPreprocessor(discardLogger(), parser, rules)

	hints := p.Preprocess(context.Background(), "查派工單")
	if got := hints.String(HintDocType); got != "派工單" {
		t.Errorf("doc_type hint = %q, want 派工單", got)
	}
	// The rule-only path has no category taxonomy.
	if _, present := hints[HintCategory]; present {
		t.Error("rule fallback populated category, want it absent")
	}
}

func TestPreprocess_RulesBelowFloor(t *testing.T) {
	parser := &fakeParser{err: errors.New("down")}
	rules := &fakeRules{intent: intent.Intent{Keywords: []string{"嗯"}}, confidence: 0.3}
	p := NewPreprocessor(discardLogger(), parser, rules)

	if hints := p.Preprocess(context.Background(), "嗯"); len(hints) != 0 {
		t.Errorf("Preprocess() = %v, want empty hints below the rules floor", hints)
	}
}

func TestPreprocess_NoParserNoRules(t *testing.T) {
	p := NewPreprocessor(discardLogger(), nil, nil)
	if hints := p.Preprocess(context.Background(), "查公文"); len(hints) != 0 {
		t.Errorf("Preprocess() = %v, want empty hints", hints)
	}
}
