// Package llm implements the agent's completion interfaces on the Anthropic
// Messages API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"

	"github.com/fengtai/docgraph/agent/pkg/agent"
)

// DefaultModel is used when no model is configured.
const DefaultModel = anthropic.ModelClaudeHaiku4_5

// Recorder observes each provider call for metrics. Wired by the service
// entrypoint so this package stays free of the metrics registry.
type Recorder func(operation string, duration time.Duration, inputTokens, outputTokens int64, err error)

// Client implements agent.StreamingLLM and the intent parser's completion
// interface on the Anthropic API. Credentials come from the environment
// (ANTHROPIC_API_KEY), as the SDK expects.
type Client struct {
	log      *slog.Logger
	client   anthropic.Client
	model    anthropic.Model
	recorder Recorder
}

// NewClient creates a client for the given model. An empty model selects
// DefaultModel. recorder may be nil.
func NewClient(log *slog.Logger, model string, recorder Recorder) *Client {
	m := anthropic.Model(model)
	if model == "" {
		m = DefaultModel
	}
	if recorder == nil {
		recorder = func(string, time.Duration, int64, int64, error) {}
	}
	return &Client{
		log:      log,
		client:   anthropic.NewClient(),
		model:    m,
		recorder: recorder,
	}
}

// Model returns the model identifier reported in done events.
func (c *Client) Model() string {
	return string(c.model)
}

// Complete requests a single non-streamed completion.
func (c *Client) Complete(ctx context.Context, systemPrompt string, messages []agent.Message, opts ...agent.CompleteOption) (string, error) {
	options := buildOptions(opts)
	params := c.buildParams(systemPrompt, messages, options)

	span := startSpan(ctx, "gen_ai.chat", string(c.model), options.MaxTokens, false)
	ctx = span.Context()
	defer span.Finish()

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		c.recorder("messages", duration, 0, 0, err)
		return "", classify(err)
	}
	span.Status = sentry.SpanStatusOK
	span.SetData("gen_ai.usage.input_tokens", msg.Usage.InputTokens)
	span.SetData("gen_ai.usage.output_tokens", msg.Usage.OutputTokens)
	c.recorder("messages", duration, msg.Usage.InputTokens, msg.Usage.OutputTokens, nil)

	for _, block := range msg.Content {
		if block.Type == "text" {
			if options.JSONOnly {
				return "{" + block.Text, nil
			}
			return block.Text, nil
		}
	}
	return "", nil
}

// CompleteStream streams a completion, emitting text fragments as they
// arrive. A non-nil error from emit aborts the stream.
func (c *Client) CompleteStream(ctx context.Context, systemPrompt string, messages []agent.Message, emit func(token string) error, opts ...agent.CompleteOption) error {
	options := buildOptions(opts)
	params := c.buildParams(systemPrompt, messages, options)

	span := startSpan(ctx, "gen_ai.chat", string(c.model), options.MaxTokens, true)
	ctx = span.Context()
	defer span.Finish()

	start := time.Now()
	stream := c.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta()
		if delta.Delta.Type != "text_delta" || delta.Delta.Text == "" {
			continue
		}
		if err := emit(delta.Delta.Text); err != nil {
			span.Status = sentry.SpanStatusAborted
			c.recorder("messages/stream", time.Since(start), 0, 0, err)
			return err
		}
	}

	duration := time.Since(start)
	err := stream.Err()
	c.recorder("messages/stream", duration, 0, 0, err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return classify(err)
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

// CompleteText is the narrow single-shot form the intent parser uses.
func (c *Client) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.Complete(ctx, systemPrompt, []agent.Message{{Role: "user", Content: userPrompt}})
}

func buildOptions(opts []agent.CompleteOption) agent.CompleteOptions {
	options := agent.CompleteOptions{MaxTokens: agent.DefaultMaxTokens}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (c *Client) buildParams(systemPrompt string, messages []agent.Message, options agent.CompleteOptions) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: options.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: buildMessages(messages, options.JSONOnly),
	}
	if options.Temperature > 0 {
		params.Temperature = anthropic.Float(options.Temperature)
	}
	return params
}

// buildMessages converts history turns to SDK message params. When a JSON
// response is requested the assistant turn is prefilled with "{" so the
// model cannot preface the object with prose; Complete re-attaches the
// brace to the returned text.
func buildMessages(messages []agent.Message, jsonOnly bool) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages)+1)
	for _, m := range messages {
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if jsonOnly {
		out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock("{")))
	}
	return out
}

// classify maps provider errors onto the agent's error taxonomy while
// keeping the original error in the chain.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", agent.ErrRateLimited, err)
	}
	return err
}

func startSpan(ctx context.Context, op, model string, maxTokens int64, streaming bool) *sentry.Span {
	span := sentry.StartSpan(ctx, op, sentry.WithDescription(fmt.Sprintf("chat %s", model)))
	span.SetData("gen_ai.operation.name", "chat")
	span.SetData("gen_ai.request.model", model)
	span.SetData("gen_ai.request.max_tokens", maxTokens)
	span.SetData("gen_ai.system", "anthropic")
	span.SetData("gen_ai.request.stream", streaming)
	return span
}
