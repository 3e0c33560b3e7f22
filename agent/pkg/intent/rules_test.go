package intent

import (
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// anchor is a Wednesday, so week boundaries are unambiguous.
var anchor = time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)

func newTestEngine() *RuleEngine {
	return NewRuleEngine(slog.New(slog.DiscardHandler), clockwork.NewFakeClockAt(anchor))
}

func TestMatch_Fields(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name     string
		question string
		want     Intent
	}{
		{
			name:     "doc type and sender alias",
			question: "查詢工務局發的函",
			want: Intent{
				Sender:  "桃園市政府工務局",
				DocType: "函",
			},
		},
		{
			name:     "receiver cue",
			question: "發給水務局的公告",
			want: Intent{
				Receiver: "桃園市政府水務局",
				DocType:  "公告",
			},
		},
		{
			name:     "full agency name outside the alias table",
			question: "新北市政府水利局來函",
			want: Intent{
				Sender:  "新北市政府水利局",
				DocType: "函",
			},
		},
		{
			name:     "status token",
			question: "已結案的函",
			want: Intent{
				Status:  "已結案",
				DocType: "函",
			},
		},
		{
			name:     "longer doc type not shadowed",
			question: "查詢會勘通知單",
			want: Intent{
				DocType: "會勘通知單",
			},
		},
		{
			name:     "roc month converted",
			question: "查114年3月的函",
			want: Intent{
				DocType:  "函",
				DateFrom: "2025-03-01",
				DateTo:   "2025-03-31",
			},
		},
		{
			name:     "roc full date",
			question: "114年3月5日的簽呈",
			want: Intent{
				DocType:  "簽呈",
				DateFrom: "2025-03-05",
				DateTo:   "2025-03-05",
			},
		},
		{
			name:     "relative previous month",
			question: "上個月的公告",
			want: Intent{
				DocType:  "公告",
				DateFrom: "2026-02-01",
				DateTo:   "2026-02-28",
			},
		},
		{
			name:     "relative this week",
			question: "本週的開會通知單",
			want: Intent{
				DocType:  "開會通知單",
				DateFrom: "2026-03-16",
				DateTo:   "2026-03-22",
			},
		},
		{
			name:     "relative yesterday",
			question: "昨天的簽呈",
			want: Intent{
				DocType:  "簽呈",
				DateFrom: "2026-03-17",
				DateTo:   "2026-03-17",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := e.Match(tt.question)
			if got.Sender != tt.want.Sender {
				t.Errorf("Sender = %q, want %q", got.Sender, tt.want.Sender)
			}
			if got.Receiver != tt.want.Receiver {
				t.Errorf("Receiver = %q, want %q", got.Receiver, tt.want.Receiver)
			}
			if got.DocType != tt.want.DocType {
				t.Errorf("DocType = %q, want %q", got.DocType, tt.want.DocType)
			}
			if got.Status != tt.want.Status {
				t.Errorf("Status = %q, want %q", got.Status, tt.want.Status)
			}
			if got.DateFrom != tt.want.DateFrom {
				t.Errorf("DateFrom = %q, want %q", got.DateFrom, tt.want.DateFrom)
			}
			if got.DateTo != tt.want.DateTo {
				t.Errorf("DateTo = %q, want %q", got.DateTo, tt.want.DateTo)
			}
			if conf < 0.5 {
				t.Errorf("confidence = %.2f, want at least 0.5 for extracted fields", conf)
			}
		})
	}
}

func TestMatch_DispatchOrderRouting(t *testing.T) {
	e := newTestEngine()

	it, conf := e.Match("查詢派工單號014紀錄")
	if it.RelatedEntity != "dispatch_order" {
		t.Errorf("RelatedEntity = %q, want dispatch_order", it.RelatedEntity)
	}
	if conf < 0.5 {
		t.Errorf("confidence = %.2f, want at least 0.5", conf)
	}
}

func TestMatch_NoSignal(t *testing.T) {
	e := newTestEngine()

	it, conf := e.Match("呢")
	if !it.IsEmpty() {
		t.Errorf("Match() = %+v, want empty intent", it)
	}
	if conf != 0 {
		t.Errorf("confidence = %.2f, want 0", conf)
	}
}

func TestMatch_ConfidenceScalesWithFields(t *testing.T) {
	e := newTestEngine()

	_, weak := e.Match("道路會勘")
	_, strong := e.Match("查114年3月工務局發的函")
	if weak >= strong {
		t.Errorf("confidence weak=%.2f strong=%.2f, want strong > weak", weak, strong)
	}
	if strong < 0.8 {
		t.Errorf("strong confidence = %.2f, want conclusive (>= 0.8)", strong)
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "stopwords removed",
			in:   "請問道路會勘的相關紀錄",
			want: []string{"道路會勘"},
		},
		{
			name: "separate terms",
			in:   "道路 會勘 測量",
			want: []string{"道路", "會勘", "測量"},
		},
		{
			name: "single runes dropped",
			in:   "查 的 了",
			want: nil,
		},
		{
			name: "duplicates collapsed",
			in:   "會勘 會勘",
			want: []string{"會勘"},
		},
		{
			name: "capped at five",
			in:   "道路 會勘 測量 地籍 水利 橋樑",
			want: []string{"道路", "會勘", "測量", "地籍", "水利"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractKeywords(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("extractKeywords(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("keyword[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
