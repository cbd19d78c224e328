package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Engine runs catalog searches. The lexical signal is always available
// (it scores over the store directly); the vector signal depends on a
// configured embedder and degrades silently when absent or failing.
type Engine struct {
	db      *database.DB
	vector  *VectorBackend // nil = semantic signal disabled
	weights models.SearchWeights
	ragTop  int
	cache   *gocache.Cache
}

// NewEngine creates a search engine. vector may be nil.
func NewEngine(db *database.DB, vector *VectorBackend, weights models.SearchWeights, ragTop int, cacheTTL time.Duration) *Engine {
	var c *gocache.Cache
	if cacheTTL > 0 {
		c = gocache.New(cacheTTL, 2*cacheTTL)
	}
	if ragTop <= 0 {
		ragTop = 3
	}
	return &Engine{db: db, vector: vector, weights: weights, ragTop: ragTop, cache: c}
}

// Search executes one query. Responses are cached briefly keyed on the
// full request, so repeated identical queries do not re-rank.
func (e *Engine) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.SearchModeHybrid
	}
	switch mode {
	case models.SearchModeKeyword, models.SearchModeSemantic, models.SearchModeHybrid:
	default:
		return nil, fmt.Errorf("unknown search mode: %s", mode)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	key := cacheKey(req, mode, limit, offset)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return cached.(*models.SearchResponse), nil
		}
	}

	candidates, err := e.db.ListEntities(req.Filters)
	if err != nil {
		return nil, err
	}
	if !req.Filters.IncludePending {
		candidates = dropPending(candidates)
	}

	var (
		lexical  map[string]float64
		semantic map[string]float64
		signals  []string
	)

	wantLexical := mode == models.SearchModeKeyword || mode == models.SearchModeHybrid
	wantSemantic := mode == models.SearchModeSemantic || mode == models.SearchModeHybrid

	if wantSemantic {
		if e.vector == nil {
			// No embedder configured: degrade to lexical.
			wantLexical = true
		} else {
			uids := make([]string, len(candidates))
			for i := range candidates {
				uids[i] = candidates[i].UID
			}
			semantic, err = e.vector.SemanticScores(ctx, req.Query, uids)
			if err != nil {
				log.Printf("⚠️ Semantic backend unavailable, degrading to lexical: %v", err)
				semantic = nil
				wantLexical = true
			} else {
				signals = append(signals, "semantic")
			}
		}
	}
	if wantLexical {
		lexical = LexicalScores(req.Query, candidates)
		signals = append(signals, "lexical")
	}
	sort.Strings(signals)

	hits := Rank(candidates, lexical, semantic, e.weights, time.Now())

	// Entities untouched by every active text signal are noise for a
	// non-empty query; keep them only for empty (browse) queries.
	if strings.TrimSpace(req.Query) != "" {
		filtered := hits[:0]
		for _, h := range hits {
			if lexical[h.UID] > 0 || semantic[h.UID] > 0 {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	total := len(hits)
	if offset >= len(hits) {
		hits = nil
	} else {
		hits = hits[offset:]
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if req.WithRAG && len(hits) > 0 {
		e.attachFitReasons(hits)
	}

	resp := &models.SearchResponse{
		Items:       append([]models.Hit{}, hits...),
		Total:       total,
		SignalsUsed: signals,
	}
	if resp.Items == nil {
		resp.Items = []models.Hit{}
	}
	if e.cache != nil {
		e.cache.Set(key, resp, gocache.DefaultExpiration)
	}
	return resp, nil
}

// attachFitReasons fills fit_reason from the top-weighted stored chunks
// of each hit. Any store failure leaves fit_reason empty; RAG context
// is strictly best-effort.
func (e *Engine) attachFitReasons(hits []models.Hit) {
	for i := range hits {
		chunks, err := e.db.ListChunks(hits[i].UID)
		if err != nil || len(chunks) == 0 {
			continue
		}
		sort.SliceStable(chunks, func(a, b int) bool {
			return chunks[a].Weight > chunks[b].Weight
		})
		top := e.ragTop
		if top > len(chunks) {
			top = len(chunks)
		}
		parts := make([]string, 0, top)
		for _, c := range chunks[:top] {
			parts = append(parts, snippet(c.Text, 240))
		}
		hits[i].FitReason = strings.Join(parts, " … ")
	}
}

// dropPending hides MCP servers whose gateway registration has not
// succeeded yet. Agents and tools have no registration lifecycle and
// are always visible.
func dropPending(entities []models.Entity) []models.Entity {
	out := entities[:0]
	for _, e := range entities {
		if e.Type == models.EntityTypeMCPServer && e.RegistrationState() != "registered" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func cacheKey(req models.SearchRequest, mode string, limit, offset int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%t|%t|%d|%d",
		strings.ToLower(strings.TrimSpace(req.Query)), mode,
		req.Filters.Type,
		strings.Join(req.Filters.Capabilities, ","),
		strings.Join(req.Filters.Frameworks, ","),
		strings.Join(req.Filters.Providers, ","),
		req.Filters.IncludePending, req.WithRAG, limit, offset)
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndex(s[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return s[:cut] + "…"
}
