package agent

import "strings"

// External tool identifiers. The catalog is a fixed contract; the core only
// depends on each tool returning {count, error?} plus an opaque payload.
const (
	ToolSearchDocuments      = "search_documents"
	ToolSearchEntities       = "search_entities"
	ToolSearchDispatchOrders = "search_dispatch_orders"
	ToolGetStatistics        = "get_statistics"
	ToolGetEntityDetail      = "get_entity_detail"
	ToolFindSimilar          = "find_similar"
)

// toolSpec describes one catalog entry for the planning prompt.
type toolSpec struct {
	Name        string
	Description string
	Params      string
}

// toolCatalog is rendered into the planner's system prompt. Descriptions
// carry the disambiguation rules the model needs to route between document
// search and dispatch-order search.
var toolCatalog = []toolSpec{
	{
		Name:        ToolSearchDocuments,
		Description: "搜尋公文檔案（函、書函、公告、開會通知單等正式公文）。Use for official correspondence.",
		Params:      "sender?, receiver?, doc_type?, status?, date_from?, date_to?, keywords?, limit",
	},
	{
		Name:        ToolSearchEntities,
		Description: "搜尋知識圖譜中的實體（機關、廠商、工程案、地段）。Use to resolve people, agencies, projects and parcels mentioned in the question.",
		Params:      "query, entity_type?, limit",
	},
	{
		Name:        ToolSearchDispatchOrders,
		Description: "搜尋派工單紀錄。Use ONLY for 派工單 (dispatch/work orders), never for official documents.",
		Params:      "dispatch_no?, search?, limit",
	},
	{
		Name:        ToolGetStatistics,
		Description: "取得檔案庫整體統計（各類公文數量、狀態分布）。Use when the question asks for totals or as last-resort grounding.",
		Params:      "",
	},
	{
		Name:        ToolGetEntityDetail,
		Description: "取得單一實體的詳細資料與關聯文件。Requires an entity_id from search_entities.",
		Params:      "entity_id",
	},
	{
		Name:        ToolFindSimilar,
		Description: "以主旨相似度尋找相近的公文。Requires the doc_no of a known document.",
		Params:      "doc_no, limit",
	},
}

// knownTools is the valid-name set used when parsing LLM plans.
var knownTools = func() map[string]bool {
	m := make(map[string]bool, len(toolCatalog))
	for _, t := range toolCatalog {
		m[t.Name] = true
	}
	return m
}()

// renderCatalog formats the catalog for the system prompt.
func renderCatalog() string {
	var sb strings.Builder
	for _, t := range toolCatalog {
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		sb.WriteString("(")
		sb.WriteString(t.Params)
		sb.WriteString("): ")
		sb.WriteString(t.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}
