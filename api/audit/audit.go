// Package audit records finished agent runs in ClickHouse for offline
// analysis. Recording is best-effort; a failed insert never affects the run.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_runs (
	run_id       UUID,
	question     String,
	outcome      LowCardinality(String),
	error_code   LowCardinality(String),
	model        LowCardinality(String),
	iterations   UInt8,
	tools_used   Array(String),
	tool_calls   UInt16,
	latency_ms   UInt32,
	created_at   DateTime DEFAULT now()
)
ENGINE = MergeTree()
ORDER BY (created_at, run_id)
TTL created_at + INTERVAL 90 DAY
`

// Run is one finished agent run.
type Run struct {
	RunID      uuid.UUID
	Question   string
	Outcome    string // "done", "error" or "cancelled"
	ErrorCode  string
	Model      string
	Iterations int
	ToolsUsed  []string
	ToolCalls  int
	LatencyMS  int64
}

// Recorder writes agent runs to ClickHouse.
type Recorder struct {
	log  *slog.Logger
	conn driver.Conn
}

// NewRecorder creates a recorder and ensures the agent_runs table exists.
// conn may be nil, in which case every Record is a no-op.
func NewRecorder(ctx context.Context, log *slog.Logger, conn driver.Conn) (*Recorder, error) {
	r := &Recorder{log: log, conn: conn}
	if conn == nil {
		return r, nil
	}
	if err := conn.Exec(ctx, schema); err != nil {
		return nil, err
	}
	return r, nil
}

// Record writes one run asynchronously. Callers pass a detached context so
// the insert survives the request ending.
func (r *Recorder) Record(run Run) {
	if r.conn == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := r.conn.AsyncInsert(ctx, `
			INSERT INTO agent_runs
				(run_id, question, outcome, error_code, model, iterations, tools_used, tool_calls, latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			false,
			run.RunID, run.Question, run.Outcome, run.ErrorCode, run.Model,
			uint8(run.Iterations), run.ToolsUsed, uint16(run.ToolCalls), uint32(run.LatencyMS),
		)
		if err != nil {
			r.log.Warn("failed to record agent run", "run_id", run.RunID, "error", err)
		}
	}()
}
