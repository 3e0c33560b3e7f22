package intent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGHistoryStore is a HistoryStore backed by the intent_history table.
type PGHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPGHistoryStore creates a store on the given pool.
func NewPGHistoryStore(pool *pgxpool.Pool) *PGHistoryStore {
	return &PGHistoryStore{pool: pool}
}

// Recent returns up to limit entries, newest first.
func (s *PGHistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question, embedding, intent
		FROM intent_history
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query intent history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var intentJSON []byte
		if err := rows.Scan(&entry.Question, &entry.Embedding, &intentJSON); err != nil {
			return nil, fmt.Errorf("failed to scan intent history row: %w", err)
		}
		if err := json.Unmarshal(intentJSON, &entry.Intent); err != nil {
			// Drop unreadable rows rather than failing the whole match.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Record saves a parsed question.
func (s *PGHistoryStore) Record(ctx context.Context, question string, embedding []float32, it Intent) error {
	intentJSON, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO intent_history (question, embedding, intent)
		VALUES ($1, $2, $3)
	`, question, embedding, intentJSON)
	if err != nil {
		return fmt.Errorf("failed to insert intent history: %w", err)
	}
	return nil
}
