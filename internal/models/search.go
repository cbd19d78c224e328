package models

// Search modes.
const (
	SearchModeKeyword  = "keyword"
	SearchModeSemantic = "semantic"
	SearchModeHybrid   = "hybrid"
)

// SearchFilters are applied as a pre-filter against the catalog store
// before either lexical or vector candidate generation.
type SearchFilters struct {
	Type           string   `json:"type,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Frameworks     []string `json:"frameworks,omitempty"`
	Providers      []string `json:"providers,omitempty"`
	IncludePending bool     `json:"include_pending,omitempty"`
}

// SearchRequest is one query against the hybrid ranker.
type SearchRequest struct {
	Query   string        `json:"q"`
	Mode    string        `json:"mode,omitempty"` // keyword | semantic | hybrid (default)
	Filters SearchFilters `json:"filters,omitempty"`
	Limit   int           `json:"limit,omitempty"`
	Offset  int           `json:"offset,omitempty"`
	WithRAG bool          `json:"with_rag,omitempty"`
}

// Hit is one ranked search result with its score breakdown.
type Hit struct {
	UID           string   `json:"id"`
	Type          string   `json:"type"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Summary       string   `json:"summary"`
	Capabilities  []string `json:"capabilities"`
	Frameworks    []string `json:"frameworks"`
	Providers     []string `json:"providers"`
	ScoreLexical  float64  `json:"score_lexical"`
	ScoreSemantic float64  `json:"score_semantic"`
	ScoreQuality  float64  `json:"score_quality"`
	ScoreRecency  float64  `json:"score_recency"`
	ScoreFinal    float64  `json:"score_final"`
	FitReason     string   `json:"fit_reason,omitempty"`
}

// SearchResponse is the ranked response. SignalsUsed reports which
// backends actually contributed (degraded modes drop entries).
type SearchResponse struct {
	Items       []Hit    `json:"items"`
	Total       int      `json:"total"`
	SignalsUsed []string `json:"signals_used"`
}

// SearchWeights blend the per-signal scores into score_final.
type SearchWeights struct {
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
	Quality  float64 `json:"quality"`
	Recency  float64 `json:"recency"`
}

// DefaultSearchWeights mirror the documented defaults: semantic 0.6,
// lexical 0.4, with quality/recency folded in at smaller weight.
func DefaultSearchWeights() SearchWeights {
	return SearchWeights{Semantic: 0.6, Lexical: 0.4, Quality: 0.05, Recency: 0.05}
}
