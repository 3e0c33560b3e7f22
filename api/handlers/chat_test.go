package handlers_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fengtai/docgraph/agent/pkg/agent"
	"github.com/fengtai/docgraph/api/handlers"
)

// fakeRunner replays a canned event sequence and records the question.
type fakeRunner struct {
	events   []agent.StreamEvent
	question string
	history  []agent.Message
}

func (f *fakeRunner) Run(_ context.Context, question string, history []agent.Message) <-chan agent.StreamEvent {
	f.question = question
	f.history = history
	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		for _, e := range f.events {
			ch <- e
		}
	}()
	return ch
}

func answeredRun() []agent.StreamEvent {
	return []agent.StreamEvent{
		{Type: agent.EventThinking, Step: "分析問題", StepIndex: 0},
		{Type: agent.EventToolCall, Tool: "search_documents", Params: map[string]any{}, StepIndex: 2},
		{Type: agent.EventToolResult, Tool: "search_documents", Summary: "找到 1 筆資料", Count: 1, StepIndex: 2},
		{Type: agent.EventSources, Sources: []map[string]any{{"doc_no": "桃工字第1140001號"}}, RetrievalCount: 1},
		{Type: agent.EventToken, Token: "找到一筆"},
		{Type: agent.EventToken, Token: "會勘紀錄。"},
		{Type: agent.EventDone, LatencyMS: 1200, Model: "claude-test", ToolsUsed: []string{"search_documents"}, Iterations: 1},
	}
}

func newChatHandler(runner handlers.Runner) *handlers.ChatHandler {
	return handlers.NewChatHandler(slog.New(slog.DiscardHandler), runner, nil, "claude-test")
}

func TestChat(t *testing.T) {
	runner := &fakeRunner{events: answeredRun()}
	h := newChatHandler(runner)

	body := `{"message":"查會勘公文","history":[{"role":"user","content":"之前的問題"},{"role":"assistant","content":"之前的回答"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Chat(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp handlers.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "找到一筆會勘紀錄。", resp.Answer)
	assert.Equal(t, []string{"search_documents"}, resp.ToolsUsed)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, int64(1200), resp.LatencyMS)
	assert.Len(t, resp.Sources, 1)
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.Code)

	assert.Equal(t, "查會勘公文", runner.question)
	require.Len(t, runner.history, 2)
	assert.Equal(t, "assistant", runner.history[1].Role)
}

func TestChat_ErrorEvent(t *testing.T) {
	runner := &fakeRunner{events: []agent.StreamEvent{
		{Type: agent.EventThinking, Step: "分析問題"},
		{Type: agent.EventError, Err: "系統忙碌中，請稍後再試。", Code: agent.CodeRateLimited},
	}}
	h := newChatHandler(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"查公文"}`))
	w := httptest.NewRecorder()
	h.Chat(w, req)

	var resp handlers.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "系統忙碌中，請稍後再試。", resp.Error)
	assert.Equal(t, "RATE_LIMITED", resp.Code)
	assert.Empty(t, resp.Answer)
}

func TestChat_BadRequests(t *testing.T) {
	h := newChatHandler(&fakeRunner{})

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"message":`},
		{name: "empty message", body: `{"message":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Chat(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestChatStream(t *testing.T) {
	runner := &fakeRunner{events: answeredRun()}
	h := newChatHandler(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"查會勘公文"}`))
	w := httptest.NewRecorder()
	h.ChatStream(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	body := w.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, len(answeredRun()))

	assert.True(t, strings.HasPrefix(frames[0], "event: thinking\ndata: "), "first frame: %q", frames[0])
	assert.True(t, strings.HasPrefix(frames[len(frames)-1], "event: done\ndata: "), "last frame: %q", frames[len(frames)-1])

	// Every data line must be the event's JSON wire shape.
	doneData := strings.TrimPrefix(frames[len(frames)-1], "event: done\ndata: ")
	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(doneData), &done))
	assert.Equal(t, "done", done["type"])
	assert.Equal(t, "claude-test", done["model"])
}

func TestChatStream_ErrorFrame(t *testing.T) {
	runner := &fakeRunner{events: []agent.StreamEvent{
		{Type: agent.EventError, Err: "系統發生錯誤，請稍後再試。", Code: agent.CodeServiceError},
	}}
	h := newChatHandler(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"查公文"}`))
	w := httptest.NewRecorder()
	h.ChatStream(w, req)

	assert.Contains(t, w.Body.String(), "event: error\n")
	assert.Contains(t, w.Body.String(), `"code":"SERVICE_ERROR"`)
}

func TestChatStream_EmptyMessage(t *testing.T) {
	h := newChatHandler(&fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":""}`))
	w := httptest.NewRecorder()
	h.ChatStream(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
