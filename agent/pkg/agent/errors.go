package agent

import (
	"context"
	"errors"
)

// ErrRateLimited marks provider rate-limit responses. LLM client
// implementations wrap their 429s with it so the orchestrator can classify
// without knowing the provider SDK.
var ErrRateLimited = errors.New("llm provider rate limited")

// ClassifyError maps a run-fatal error to its wire code.
func ClassifyError(err error) ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeStreamTimeout
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeServiceError
	}
}
