package agent

import (
	"encoding/json"
	"testing"
)

func TestStreamEventMarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		event StreamEvent
		want  string
	}{
		{
			name:  "thinking",
			event: StreamEvent{Type: EventThinking, Step: "分析問題", StepIndex: 0},
			want:  `{"type":"thinking","step":"分析問題","step_index":0}`,
		},
		{
			name: "tool_call",
			event: StreamEvent{
				Type:      EventToolCall,
				Tool:      ToolSearchDocuments,
				Params:    map[string]any{"doc_type": "函"},
				StepIndex: 2,
			},
			want: `{"type":"tool_call","tool":"search_documents","params":{"doc_type":"函"},"step_index":2}`,
		},
		{
			name: "tool_result with zero count",
			event: StreamEvent{
				Type:      EventToolResult,
				Tool:      ToolSearchDocuments,
				Summary:   "找到 0 筆資料",
				Count:     0,
				StepIndex: 2,
			},
			want: `{"type":"tool_result","tool":"search_documents","summary":"找到 0 筆資料","count":0,"step_index":2}`,
		},
		{
			name:  "sources nil becomes empty array",
			event: StreamEvent{Type: EventSources},
			want:  `{"type":"sources","sources":[],"retrieval_count":0}`,
		},
		{
			name: "sources with entries",
			event: StreamEvent{
				Type:           EventSources,
				Sources:        []map[string]any{{"doc_no": "桃工字第1140001號"}},
				RetrievalCount: 1,
			},
			want: `{"type":"sources","sources":[{"doc_no":"桃工字第1140001號"}],"retrieval_count":1}`,
		},
		{
			name:  "token",
			event: StreamEvent{Type: EventToken, Token: "找到"},
			want:  `{"type":"token","token":"找到"}`,
		},
		{
			name: "done",
			event: StreamEvent{
				Type:       EventDone,
				LatencyMS:  1420,
				Model:      "claude-test",
				ToolsUsed:  []string{"search_documents"},
				Iterations: 2,
			},
			want: `{"type":"done","latency_ms":1420,"model":"claude-test","tools_used":["search_documents"],"iterations":2}`,
		},
		{
			name:  "done nil tools becomes empty array",
			event: StreamEvent{Type: EventDone, Model: "claude-test"},
			want:  `{"type":"done","latency_ms":0,"model":"claude-test","tools_used":[],"iterations":0}`,
		},
		{
			name:  "error",
			event: StreamEvent{Type: EventError, Err: "系統忙碌中，請稍後再試。", Code: CodeRateLimited},
			want:  `{"type":"error","error":"系統忙碌中，請稍後再試。","code":"RATE_LIMITED"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}
