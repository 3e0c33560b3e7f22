package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// synthesisMaxTokens is the answer budget, larger than the planner's since
// answers carry prose rather than JSON.
const synthesisMaxTokens = 2048

// Synthesizer turns accumulated tool results into a streamed natural-language
// answer.
type Synthesizer struct {
	log     *slog.Logger
	llm     StreamingLLM
	prompts *Prompts
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(log *slog.Logger, llm StreamingLLM, prompts *Prompts) *Synthesizer {
	return &Synthesizer{log: log, llm: llm, prompts: prompts}
}

// Synthesize streams answer fragments through emit. The question is
// sanitized the same way the planner sanitizes it.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, history []Message, results []ToolResult, emit func(token string) error) error {
	messages := make([]Message, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	messages = append(messages, Message{
		Role:    "user",
		Content: s.buildUserPrompt(question, results),
	})

	err := s.llm.CompleteStream(ctx, s.prompts.Synthesis, messages, emit, WithMaxTokens(synthesisMaxTokens))
	if err != nil {
		return fmt.Errorf("answer synthesis failed: %w", err)
	}
	return nil
}

func (s *Synthesizer) buildUserPrompt(question string, results []ToolResult) string {
	var sb strings.Builder
	sb.WriteString("<user_question>")
	sb.WriteString(SanitizeQuestion(question))
	sb.WriteString("</user_question>\n\n# 查詢結果\n")

	if len(results) == 0 {
		sb.WriteString("\n（未執行任何查詢）\n")
		return sb.String()
	}

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("\n## %d. %s\n", i+1, r.Tool))
		if errMsg := r.Err(); errMsg != "" {
			sb.WriteString(fmt.Sprintf("查詢失敗：%s\n", errMsg))
			continue
		}
		data, err := json.Marshal(r.Result)
		if err != nil {
			s.log.Warn("failed to serialize tool result for synthesis", "tool", r.Tool, "error", err)
			sb.WriteString(fmt.Sprintf("共 %d 筆資料（內容無法序列化）\n", r.Count()))
			continue
		}
		sb.Write(data)
		sb.WriteString("\n")
	}
	return sb.String()
}
