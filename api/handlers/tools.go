package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fengtai/docgraph/agent/pkg/agent"
	"github.com/fengtai/docgraph/agent/pkg/intent"
	"github.com/fengtai/docgraph/api/graph"
	"github.com/fengtai/docgraph/api/metrics"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// ToolExecutor runs the agent's tool calls against PostgreSQL and the
// knowledge graph. Tool-level failures are reported in the payload under
// "error" so the evaluator can react to them; a Go error is returned only
// for non-recoverable faults like context cancellation.
type ToolExecutor struct {
	log   *slog.Logger
	pg    *pgxpool.Pool
	graph graph.Client
	embed intent.Embedder
}

// NewToolExecutor creates an executor. graph may be nil; entity tools then
// report an error payload instead of results. embed may be nil; find_similar
// then reports an error payload.
func NewToolExecutor(log *slog.Logger, pg *pgxpool.Pool, g graph.Client, embed intent.Embedder) *ToolExecutor {
	return &ToolExecutor{log: log, pg: pg, graph: g, embed: embed}
}

// Execute dispatches one tool call.
func (e *ToolExecutor) Execute(ctx context.Context, call agent.ToolCall) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload map[string]any
	var err error
	switch call.Name {
	case agent.ToolSearchDocuments:
		payload, err = e.searchDocuments(ctx, call.Params)
	case agent.ToolSearchEntities:
		payload, err = e.searchEntities(ctx, call.Params)
	case agent.ToolSearchDispatchOrders:
		payload, err = e.searchDispatchOrders(ctx, call.Params)
	case agent.ToolGetStatistics:
		payload, err = e.getStatistics(ctx)
	case agent.ToolGetEntityDetail:
		payload, err = e.getEntityDetail(ctx, call.Params)
	case agent.ToolFindSimilar:
		payload, err = e.findSimilar(ctx, call.Params)
	default:
		err = fmt.Errorf("unknown tool: %s", call.Name)
	}

	metrics.RecordToolCall(call.Name, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("tool execution failed", "tool", call.Name, "error", err)
		return map[string]any{"count": 0, "error": SanitizeError(err)}, nil
	}
	return payload, nil
}

func (e *ToolExecutor) searchDocuments(ctx context.Context, params map[string]any) (map[string]any, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for param, col := range map[string]string{
		"sender":   "sender",
		"receiver": "receiver",
	} {
		if v := stringParam(params, param); v != "" {
			conds = append(conds, fmt.Sprintf("%s ILIKE '%%' || %s || '%%'", col, arg(v)))
		}
	}
	if v := stringParam(params, "doc_type"); v != "" {
		conds = append(conds, "doc_type = "+arg(v))
	}
	if v := stringParam(params, "status"); v != "" {
		conds = append(conds, "status = "+arg(v))
	}
	if v := stringParam(params, "date_from"); v != "" {
		conds = append(conds, "doc_date >= "+arg(v)+"::date")
	}
	if v := stringParam(params, "date_to"); v != "" {
		conds = append(conds, "doc_date <= "+arg(v)+"::date")
	}
	for _, kw := range stringsParam(params, "keywords") {
		p := arg(kw)
		conds = append(conds, fmt.Sprintf("(subject ILIKE '%%' || %s || '%%' OR doc_no ILIKE '%%' || %s || '%%')", p, p))
	}

	query := "SELECT doc_no, doc_type, subject, sender, receiver, status, doc_date FROM documents"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY doc_date DESC NULLS LAST, doc_no DESC LIMIT " + arg(limitParam(params))

	rows, err := e.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(docs), "documents": docs}, nil
}

func scanDocuments(rows pgx.Rows) ([]map[string]any, error) {
	docs := []map[string]any{}
	for rows.Next() {
		var docNo, docType, subject, sender, receiver, status string
		var docDate *time.Time
		if err := rows.Scan(&docNo, &docType, &subject, &sender, &receiver, &status, &docDate); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc := map[string]any{
			"doc_no":   docNo,
			"doc_type": docType,
			"subject":  subject,
			"sender":   sender,
			"receiver": receiver,
			"status":   status,
		}
		if docDate != nil {
			doc["doc_date"] = docDate.Format("2006-01-02")
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (e *ToolExecutor) searchDispatchOrders(ctx context.Context, params map[string]any) (map[string]any, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if v := stringParam(params, "dispatch_no"); v != "" {
		p := arg(v)
		// Stored numbers may carry leading zeros the user omitted.
		conds = append(conds, fmt.Sprintf("(dispatch_no = %s OR ltrim(dispatch_no, '0') = ltrim(%s, '0'))", p, p))
	}
	if v := stringParam(params, "search"); v != "" {
		p := arg(v)
		conds = append(conds, fmt.Sprintf("(description ILIKE '%%' || %s || '%%' OR location ILIKE '%%' || %s || '%%' OR assignee ILIKE '%%' || %s || '%%')", p, p, p))
	}

	query := "SELECT dispatch_no, description, location, assignee, status, doc_no, dispatched_at FROM dispatch_orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY dispatched_at DESC NULLS LAST, dispatch_no DESC LIMIT " + arg(limitParam(params))

	rows, err := e.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispatch order search failed: %w", err)
	}
	defer rows.Close()

	orders := []map[string]any{}
	for rows.Next() {
		var dispatchNo, description, location, assignee, status string
		var docNo *string
		var dispatchedAt *time.Time
		if err := rows.Scan(&dispatchNo, &description, &location, &assignee, &status, &docNo, &dispatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch order row: %w", err)
		}
		order := map[string]any{
			"dispatch_no": dispatchNo,
			"description": description,
			"location":    location,
			"assignee":    assignee,
			"status":      status,
		}
		if docNo != nil {
			order["doc_no"] = *docNo
		}
		if dispatchedAt != nil {
			order["dispatched_at"] = dispatchedAt.Format("2006-01-02")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{"count": len(orders), "orders": orders}, nil
}

func (e *ToolExecutor) searchEntities(ctx context.Context, params map[string]any) (map[string]any, error) {
	if e.graph == nil {
		return nil, fmt.Errorf("knowledge graph is not available")
	}
	query := stringParam(params, "query")
	if query == "" {
		return nil, fmt.Errorf("query param is required")
	}

	sess, err := e.graph.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph session: %w", err)
	}
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
		MATCH (n)
		WHERE n.name IS NOT NULL
		  AND toLower(n.name) CONTAINS toLower($query)
		  AND ($entity_type = '' OR $entity_type IN labels(n))
		RETURN n.id AS id, n.name AS name, head(labels(n)) AS type
		LIMIT $limit`,
		map[string]any{
			"query":       query,
			"entity_type": stringParam(params, "entity_type"),
			"limit":       limitParam(params),
		})
	if err != nil {
		return nil, fmt.Errorf("entity search failed: %w", err)
	}

	records, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity search failed: %w", err)
	}

	entities := []map[string]any{}
	for _, rec := range records {
		entity := map[string]any{}
		for _, key := range []string{"id", "name", "type"} {
			if v, ok := rec.Get(key); ok && v != nil {
				entity[key] = v
			}
		}
		entities = append(entities, entity)
	}
	return map[string]any{"count": len(entities), "entities": entities}, nil
}

func (e *ToolExecutor) getEntityDetail(ctx context.Context, params map[string]any) (map[string]any, error) {
	if e.graph == nil {
		return nil, fmt.Errorf("knowledge graph is not available")
	}
	entityID := stringParam(params, "entity_id")
	if entityID == "" {
		if v, ok := params["entity_id"]; ok {
			entityID = fmt.Sprintf("%v", v)
		}
	}
	if entityID == "" {
		return nil, fmt.Errorf("entity_id param is required")
	}

	sess, err := e.graph.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph session: %w", err)
	}
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
		MATCH (n {id: $id})
		OPTIONAL MATCH (n)-[]-(d:Document)
		RETURN n.id AS id, n.name AS name, head(labels(n)) AS type,
		       collect(DISTINCT d.doc_no)[..10] AS related_docs`,
		map[string]any{"id": entityID})
	if err != nil {
		return nil, fmt.Errorf("entity detail lookup failed: %w", err)
	}

	rec, err := res.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity %s not found: %w", entityID, err)
	}

	entity := map[string]any{}
	for _, key := range []string{"id", "name", "type", "related_docs"} {
		if v, ok := rec.Get(key); ok && v != nil {
			entity[key] = v
		}
	}
	return map[string]any{"count": 1, "entity": entity}, nil
}

func (e *ToolExecutor) getStatistics(ctx context.Context) (map[string]any, error) {
	byType := map[string]int64{}
	rows, err := e.pg.Query(ctx, "SELECT doc_type, count(*) FROM documents GROUP BY doc_type")
	if err != nil {
		return nil, fmt.Errorf("statistics query failed: %w", err)
	}
	defer rows.Close()
	var totalDocs int64
	for rows.Next() {
		var docType string
		var n int64
		if err := rows.Scan(&docType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		byType[docType] = n
		totalDocs += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byStatus := map[string]int64{}
	rows, err = e.pg.Query(ctx, "SELECT status, count(*) FROM documents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("statistics query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		byStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totalOrders int64
	if err := e.pg.QueryRow(ctx, "SELECT count(*) FROM dispatch_orders").Scan(&totalOrders); err != nil {
		return nil, fmt.Errorf("statistics query failed: %w", err)
	}

	return map[string]any{
		"count": 1,
		"statistics": map[string]any{
			"total_documents":       totalDocs,
			"total_dispatch_orders": totalOrders,
			"by_doc_type":           byType,
			"by_status":             byStatus,
		},
	}, nil
}

// similarityScanLimit bounds how many recent documents one similarity
// query ranks.
const similarityScanLimit = 500

// embeddedDoc pairs a scanned document with its subject embedding.
type embeddedDoc struct {
	doc map[string]any
	vec []float32
}

// findSimilar ranks recent documents by subject-embedding cosine similarity
// to the given one. Embeddings are computed from the subject and backfilled
// on first use.
func (e *ToolExecutor) findSimilar(ctx context.Context, params map[string]any) (map[string]any, error) {
	if e.embed == nil {
		return nil, fmt.Errorf("similarity search is not available")
	}
	docNo := stringParam(params, "doc_no")
	if docNo == "" {
		return nil, fmt.Errorf("doc_no param is required")
	}

	var subject string
	var stored []float32
	err := e.pg.QueryRow(ctx,
		"SELECT subject, subject_embedding FROM documents WHERE doc_no = $1", docNo,
	).Scan(&subject, &stored)
	if err != nil {
		return nil, fmt.Errorf("document %s not found: %w", docNo, err)
	}
	target, err := e.subjectVector(ctx, docNo, subject, stored)
	if err != nil {
		return nil, err
	}

	rows, err := e.pg.Query(ctx, `
		SELECT doc_no, doc_type, subject, sender, receiver, status, doc_date, subject_embedding
		FROM documents
		WHERE doc_no <> $1
		ORDER BY doc_date DESC NULLS LAST
		LIMIT $2`, docNo, similarityScanLimit)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var candidates []embeddedDoc
	for rows.Next() {
		var cDocNo, docType, cSubject, sender, receiver, status string
		var docDate *time.Time
		var vec []float32
		if err := rows.Scan(&cDocNo, &docType, &cSubject, &sender, &receiver, &status, &docDate, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc := map[string]any{
			"doc_no":   cDocNo,
			"doc_type": docType,
			"subject":  cSubject,
			"sender":   sender,
			"receiver": receiver,
			"status":   status,
		}
		if docDate != nil {
			doc["doc_date"] = docDate.Format("2006-01-02")
		}
		candidates = append(candidates, embeddedDoc{doc: doc, vec: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range candidates {
		if len(candidates[i].vec) > 0 {
			continue
		}
		cSubject, _ := candidates[i].doc["subject"].(string)
		cDocNo, _ := candidates[i].doc["doc_no"].(string)
		vec, err := e.subjectVector(ctx, cDocNo, cSubject, nil)
		if err != nil {
			return nil, err
		}
		candidates[i].vec = vec
	}

	docs := rankBySimilarity(target, candidates, limitParam(params))
	return map[string]any{"count": len(docs), "documents": docs}, nil
}

// subjectVector returns the document's stored subject embedding, computing
// and backfilling it on first use. Backfill failures are logged, not fatal.
func (e *ToolExecutor) subjectVector(ctx context.Context, docNo, subject string, stored []float32) ([]float32, error) {
	if len(stored) > 0 {
		return stored, nil
	}
	vec, err := e.embed.Embed(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to embed subject of %s: %w", docNo, err)
	}
	if _, err := e.pg.Exec(ctx,
		"UPDATE documents SET subject_embedding = $2 WHERE doc_no = $1", docNo, vec,
	); err != nil {
		e.log.Warn("failed to store subject embedding", "doc_no", docNo, "error", err)
	}
	return vec, nil
}

// rankBySimilarity orders candidates by cosine similarity to target,
// dropping non-positive scores, capped at limit. Each returned document
// carries its score under "similarity".
func rankBySimilarity(target []float32, candidates []embeddedDoc, limit int) []map[string]any {
	type scored struct {
		doc map[string]any
		sim float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		sim := intent.Cosine(target, c.vec)
		if sim <= 0 {
			continue
		}
		ranked = append(ranked, scored{doc: c.doc, sim: sim})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	docs := make([]map[string]any, len(ranked))
	for i, s := range ranked {
		s.doc["similarity"] = math.Round(s.sim*1000) / 1000
		docs[i] = s.doc
	}
	return docs
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{strings.TrimSpace(v)}
	}
	return nil
}

func limitParam(params map[string]any) int {
	limit := defaultSearchLimit
	switch v := params["limit"].(type) {
	case int:
		limit = v
	case int64:
		limit = int(v)
	case float64:
		limit = int(v)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return limit
}
