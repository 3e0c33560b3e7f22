package bot

import (
	"testing"
	"time"
)

func TestStripMention(t *testing.T) {
	b := &Bot{botUserID: "U123"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "leading mention", in: "<@U123> 查會勘公文", want: "查會勘公文"},
		{name: "mention only", in: "<@U123>", want: ""},
		{name: "other user kept", in: "<@U999> 查公文", want: "<@U999> 查公文"},
		{name: "no mention", in: "查公文", want: "查公文"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.stripMention(tt.in); got != tt.want {
				t.Errorf("stripMention(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMarkProcessed(t *testing.T) {
	b := &Bot{processedEvents: map[string]time.Time{}}

	if !b.markProcessed("env-1") {
		t.Error("first envelope reported as already processed")
	}
	if b.markProcessed("env-1") {
		t.Error("duplicate envelope reported as new")
	}
	if !b.markProcessed("env-2") {
		t.Error("distinct envelope reported as already processed")
	}
	if !b.markProcessed("") {
		t.Error("empty envelope id must always pass through")
	}
}
