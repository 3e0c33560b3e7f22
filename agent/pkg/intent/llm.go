package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Completer is the minimal completion surface the LLM parser needs.
type Completer interface {
	CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const llmParseSystemPrompt = `You extract search fields from questions about a surveying firm's official document archive.
Return ONLY a JSON object with any of these keys (omit keys you cannot extract, never use null):
  sender, receiver, doc_type, status, date_from, date_to, keywords, related_entity, category
Rules:
- sender/receiver are full government agency or company names.
- doc_type is one of: 函, 書函, 公告, 開會通知單, 會勘通知單, 簽呈.
- date_from/date_to use YYYY-MM-DD. Convert ROC years (add 1911).
- keywords is an array of short retrieval terms, at most 5.
- related_entity is "dispatch_order" when the question concerns 派工單.
- category is a coarse topic like 道路工程, 地籍測量, 水利工程 when obvious.`

// LLMParser extracts intent fields with a single low-cost completion.
type LLMParser struct {
	log *slog.Logger
	llm Completer
}

// NewLLMParser creates an LLM-backed field extractor.
func NewLLMParser(log *slog.Logger, llm Completer) *LLMParser {
	return &LLMParser{log: log, llm: llm}
}

// Parse asks the model for the fields and decodes them defensively. A
// malformed response is an error; the layered parser degrades to rules.
func (p *LLMParser) Parse(ctx context.Context, question string) (Intent, error) {
	raw, err := p.llm.CompleteText(ctx, llmParseSystemPrompt, question)
	if err != nil {
		return Intent{}, fmt.Errorf("llm intent parse failed: %w", err)
	}

	raw = strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a code fence despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var it Intent
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &it); err != nil {
		return Intent{}, fmt.Errorf("llm intent response is not valid JSON: %w", err)
	}
	return it, nil
}
