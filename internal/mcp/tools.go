package mcp

// SearchInput defines the shared input schema for the search tools.
type SearchInput struct {
	Query       string `json:"query" jsonschema:"the search query to execute"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Collection  string `json:"collection,omitempty" jsonschema:"restrict results to one collection"`
	ItemType    string `json:"item_type,omitempty" jsonschema:"restrict results to one item type, e.g. article or book"`
	After       string `json:"after,omitempty" jsonschema:"only items added at or after this RFC 3339 date"`
	Before      string `json:"before,omitempty" jsonschema:"only items added before this RFC 3339 date"`
	TimeoutMS   int    `json:"timeout_ms,omitempty" jsonschema:"per-call budget in milliseconds"`
	MaxAttempts int    `json:"max_attempts,omitempty" jsonschema:"refinement attempt budget (refine_search only)"`
}

// ResultOutput is one fused result with its explainability fields.
type ResultOutput struct {
	ItemID        string             `json:"item_id" jsonschema:"library item identifier"`
	Score         float64            `json:"score" jsonschema:"fused relevance score"`
	Backends      []string           `json:"backends" jsonschema:"backends that surfaced this item"`
	BackendRanks  map[string]int     `json:"backend_ranks,omitempty" jsonschema:"per-backend rank of this item"`
	BackendScores map[string]float64 `json:"backend_scores,omitempty" jsonschema:"per-backend native score"`
	SubQueryHits  int                `json:"sub_query_hits,omitempty" jsonschema:"sub-queries that surfaced this item"`
	Collection    string             `json:"collection,omitempty"`
	ItemType      string             `json:"item_type,omitempty"`
}

// QualityOutput describes the result set quality.
type QualityOutput struct {
	Confidence          string  `json:"confidence" jsonschema:"high, medium, or low"`
	Coverage            float64 `json:"coverage" jsonschema:"fraction of backends that returned results"`
	ResultCount         int     `json:"result_count"`
	TopScore            float64 `json:"top_score"`
	BackendsQueried     int     `json:"backends_queried"`
	BackendsWithResults int     `json:"backends_with_results"`
	ShouldEscalate      bool    `json:"should_escalate" jsonschema:"whether refinement would retry this result set"`
}

// SearchOutput defines the output schema for the search tools.
type SearchOutput struct {
	Results      []ResultOutput `json:"results" jsonschema:"fused results, best first"`
	Quality      QualityOutput  `json:"quality" jsonschema:"quality report for the result set"`
	SubQueries   []string       `json:"sub_queries,omitempty" jsonschema:"decomposed sub-query texts"`
	AttemptsUsed int            `json:"attempts_used,omitempty" jsonschema:"refinement attempts executed"`
}

// MetricsInput defines the input schema for the search_metrics tool.
type MetricsInput struct{}
