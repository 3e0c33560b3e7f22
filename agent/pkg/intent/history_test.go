package intent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

// fixedEmbedder returns a canned vector per exact text.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector for text")
	}
	return vec, nil
}

// memStore is an in-memory HistoryStore.
type memStore struct {
	entries []HistoryEntry
	err     error
}

func (s *memStore) Recent(_ context.Context, limit int) ([]HistoryEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.entries) > limit {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func (s *memStore) Record(_ context.Context, question string, embedding []float32, it Intent) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, HistoryEntry{Question: question, Embedding: embedding, Intent: it})
	return nil
}

func TestHistoryMatch_ReusesSimilarQuestion(t *testing.T) {
	stored := Intent{DocType: "函", Sender: "桃園市政府工務局"}
	store := &memStore{entries: []HistoryEntry{
		{Question: "工務局的函", Embedding: []float32{1, 0, 0}, Intent: stored},
		{Question: "派工單進度", Embedding: []float32{0, 1, 0}, Intent: Intent{RelatedEntity: "dispatch_order"}},
	}}
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"查工務局的函": {0.99, 0.1, 0},
	}}
	m := NewHistoryMatcher(slog.New(slog.DiscardHandler), store, embedder, 0.88)

	it, sim, err := m.Match(context.Background(), "查工務局的函")
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if sim < 0.88 {
		t.Fatalf("similarity = %.3f, want at least the threshold", sim)
	}
	if it.DocType != stored.DocType || it.Sender != stored.Sender {
		t.Errorf("Match() = %+v, want the stored intent %+v", it, stored)
	}
}

func TestHistoryMatch_BelowThreshold(t *testing.T) {
	store := &memStore{entries: []HistoryEntry{
		{Question: "派工單進度", Embedding: []float32{0, 1, 0}, Intent: Intent{RelatedEntity: "dispatch_order"}},
	}}
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"查工務局的函": {1, 0, 0},
	}}
	m := NewHistoryMatcher(slog.New(slog.DiscardHandler), store, embedder, 0.88)

	it, sim, err := m.Match(context.Background(), "查工務局的函")
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if sim != 0 || !it.IsEmpty() {
		t.Errorf("Match() = %+v sim %.3f, want no usable match", it, sim)
	}
}

func TestHistoryMatch_StoreErrorPropagates(t *testing.T) {
	store := &memStore{err: errors.New("connection refused")}
	embedder := &fixedEmbedder{vectors: map[string][]float32{"查": {1}}}
	m := NewHistoryMatcher(slog.New(slog.DiscardHandler), store, embedder, 0)

	if _, _, err := m.Match(context.Background(), "查"); err == nil {
		t.Fatal("Match() = nil error, want store error")
	}
}

func TestHistoryRecord(t *testing.T) {
	store := &memStore{}
	embedder := &fixedEmbedder{vectors: map[string][]float32{"查工務局的函": {1, 0, 0}}}
	m := NewHistoryMatcher(slog.New(slog.DiscardHandler), store, embedder, 0)

	it := Intent{DocType: "函"}
	if err := m.Record(context.Background(), "查工務局的函", it); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if len(store.entries) != 1 || store.entries[0].Intent.DocType != "函" {
		t.Errorf("Record() stored %+v, want one entry with the intent", store.entries)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "dimension mismatch", a: []float32{1, 0}, b: []float32{1}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}
