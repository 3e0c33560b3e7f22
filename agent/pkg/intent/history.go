package intent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Embedder turns text into a dense vector for similarity matching.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HistoryEntry is one previously parsed question with its stored intent.
type HistoryEntry struct {
	Question  string
	Embedding []float32
	Intent    Intent
}

// HistoryStore persists parsed questions for similarity matching.
type HistoryStore interface {
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	// Record saves a parsed question. Best-effort; callers may ignore errors.
	Record(ctx context.Context, question string, embedding []float32, it Intent) error
}

// DefaultHistoryLimit bounds how many stored questions one match scans.
const DefaultHistoryLimit = 200

// HistoryMatcher matches a question against previously answered ones by
// embedding cosine similarity and reuses the best entry's intent.
type HistoryMatcher struct {
	log       *slog.Logger
	store     HistoryStore
	embedder  Embedder
	threshold float64
	limit     int
}

// NewHistoryMatcher creates a matcher. Threshold is the minimum cosine
// similarity for a reuse; 0 defaults to 0.88.
func NewHistoryMatcher(log *slog.Logger, store HistoryStore, embedder Embedder, threshold float64) *HistoryMatcher {
	if threshold == 0 {
		threshold = 0.88
	}
	return &HistoryMatcher{
		log:       log,
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		limit:     DefaultHistoryLimit,
	}
}

// Match returns the stored intent of the most similar past question, with
// the similarity as confidence. Confidence 0 means no usable match.
func (m *HistoryMatcher) Match(ctx context.Context, question string) (Intent, float64, error) {
	vec, err := m.embedder.Embed(ctx, question)
	if err != nil {
		return Intent{}, 0, fmt.Errorf("failed to embed question: %w", err)
	}

	entries, err := m.store.Recent(ctx, m.limit)
	if err != nil {
		return Intent{}, 0, fmt.Errorf("failed to load intent history: %w", err)
	}

	best := -1.0
	var bestEntry HistoryEntry
	for _, entry := range entries {
		sim := Cosine(vec, entry.Embedding)
		if sim > best {
			best = sim
			bestEntry = entry
		}
	}

	if best < m.threshold {
		return Intent{}, 0, nil
	}

	if m.log != nil {
		m.log.Debug("history matched", "question", bestEntry.Question, "similarity", best)
	}
	return bestEntry.Intent, best, nil
}

// Record stores the question and its parse result for future matching.
func (m *HistoryMatcher) Record(ctx context.Context, question string, it Intent) error {
	vec, err := m.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("failed to embed question: %w", err)
	}
	return m.store.Record(ctx, question, vec, it)
}

// Cosine computes cosine similarity; 0 when either vector is degenerate or
// the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
