package agent

import (
	"context"
	"strings"
	"testing"
)

func TestBuildUserPrompt(t *testing.T) {
	s := NewSynthesizer(discardLogger(), &fakeStreamLLM{}, &Prompts{})

	results := []ToolResult{
		{
			Tool:   ToolSearchDocuments,
			Result: map[string]any{"count": 1, "documents": []map[string]any{{"doc_no": "桃工字第1140001號"}}},
		},
		{
			Tool:   ToolSearchDispatchOrders,
			Result: map[string]any{"count": 0, "error": "timeout"},
		},
	}
	prompt := s.buildUserPrompt("查{會勘}公文", results)

	if !strings.HasPrefix(prompt, "<user_question>查 會勘 公文</user_question>") {
		t.Errorf("prompt question not sanitized and wrapped: %q", prompt)
	}
	if !strings.Contains(prompt, "## 1. search_documents") {
		t.Error("prompt missing the first result section")
	}
	if !strings.Contains(prompt, "桃工字第1140001號") {
		t.Error("prompt missing the result payload")
	}
	if !strings.Contains(prompt, "查詢失敗：timeout") {
		t.Error("prompt does not surface the tool-reported error as data")
	}
}

func TestBuildUserPrompt_NoResults(t *testing.T) {
	s := NewSynthesizer(discardLogger(), &fakeStreamLLM{}, &Prompts{})

	prompt := s.buildUserPrompt("查公文", nil)
	if !strings.Contains(prompt, "（未執行任何查詢）") {
		t.Errorf("prompt = %q, want the no-results marker", prompt)
	}
}

func TestSynthesize_SkipsEmptyHistoryTurns(t *testing.T) {
	llm := &recordingStreamLLM{tokens: []string{"答案"}}
	s := NewSynthesizer(discardLogger(), llm, &Prompts{Synthesis: "system"})

	history := []Message{
		{Role: "user", Content: "之前的問題"},
		{Role: "assistant", Content: ""},
	}
	var got strings.Builder
	err := s.Synthesize(context.Background(), "查公文", history, nil, func(tok string) error {
		got.WriteString(tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}
	if got.String() != "答案" {
		t.Errorf("streamed answer = %q, want 答案", got.String())
	}
	if len(llm.messages) != 2 {
		t.Errorf("Synthesize() sent %d messages, want 2 (empty turn skipped)", len(llm.messages))
	}
}

// recordingStreamLLM captures the messages CompleteStream receives.
type recordingStreamLLM struct {
	tokens   []string
	messages []Message
}

func (r *recordingStreamLLM) Complete(_ context.Context, _ string, _ []Message, _ ...CompleteOption) (string, error) {
	return "", nil
}

func (r *recordingStreamLLM) CompleteStream(_ context.Context, _ string, messages []Message, emit func(string) error, _ ...CompleteOption) error {
	r.messages = messages
	for _, tok := range r.tokens {
		if err := emit(tok); err != nil {
			return err
		}
	}
	return nil
}
