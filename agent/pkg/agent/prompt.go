package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/fengtai/docgraph/agent/pkg/agent/prompts"
)

// Prompts holds the prompt templates loaded from embedded files.
type Prompts struct {
	Planner   string // planning system prompt with catalog and few-shot examples composed in
	Synthesis string // answer synthesis system prompt
}

// LoadPrompts loads and composes the embedded prompt files.
func LoadPrompts() (*Prompts, error) {
	system, err := loadPrompt("SYSTEM.md")
	if err != nil {
		return nil, err
	}
	fewShot, err := loadPrompt("FEWSHOT.md")
	if err != nil {
		return nil, err
	}
	synthesis, err := loadPrompt("SYNTHESIS.md")
	if err != nil {
		return nil, err
	}

	planner := strings.ReplaceAll(system, "{{TOOL_CATALOG}}", renderCatalog())
	planner = strings.ReplaceAll(planner, "{{FEW_SHOT}}", fewShot)

	return &Prompts{Planner: planner, Synthesis: synthesis}, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// buildPlannerPrompt prepends the current date and appends the serialized
// hints, when any, to the planner system prompt.
func buildPlannerPrompt(base string, now time.Time, hints Hints) string {
	prompt := fmt.Sprintf("Today's date: %s\n\n%s", now.Format("2006-01-02"), base)

	if len(hints) > 0 {
		var sb strings.Builder
		sb.WriteString("\n\n# Extracted hints\n\nFields already extracted from the question. Use them to fill tool params unless the question clearly says otherwise:\n")
		for _, key := range []string{HintSender, HintReceiver, HintDocType, HintStatus, HintDateFrom, HintDateTo, HintKeywords, HintRelatedEntity, HintCategory} {
			if v, ok := hints[key]; ok {
				sb.WriteString(fmt.Sprintf("- %s: %v\n", key, v))
			}
		}
		prompt += sb.String()
	}

	return prompt
}
