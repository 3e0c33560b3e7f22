package intent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) CompleteText(_ context.Context, _, _ string) (string, error) {
	return f.response, f.err
}

func TestLLMParse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		want     Intent
	}{
		{
			name:     "plain json",
			response: `{"doc_type":"函","sender":"桃園市政府工務局","keywords":["會勘"]}`,
			want:     Intent{DocType: "函", Sender: "桃園市政府工務局", Keywords: []string{"會勘"}},
		},
		{
			name:     "fenced json",
			response: "```json\n{\"related_entity\":\"dispatch_order\"}\n```",
			want:     Intent{RelatedEntity: "dispatch_order"},
		},
		{
			name:     "not json",
			response: "無法判斷",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewLLMParser(slog.New(slog.DiscardHandler), &fakeCompleter{response: tt.response})
			got, err := p.Parse(context.Background(), "問題")
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() = nil error, want parse failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if got.DocType != tt.want.DocType || got.Sender != tt.want.Sender || got.RelatedEntity != tt.want.RelatedEntity {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
			if len(got.Keywords) != len(tt.want.Keywords) {
				t.Errorf("Keywords = %v, want %v", got.Keywords, tt.want.Keywords)
			}
		})
	}
}

func TestLLMParse_CompleterError(t *testing.T) {
	p := NewLLMParser(slog.New(slog.DiscardHandler), &fakeCompleter{err: errors.New("api down")})
	if _, err := p.Parse(context.Background(), "問題"); err == nil {
		t.Fatal("Parse() = nil error, want completion error")
	}
}
