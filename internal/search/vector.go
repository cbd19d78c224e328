package search

import (
	"context"
	"fmt"
	"math"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
)

// VectorBackend scores candidates by cosine similarity between the
// embedded query and the stored chunk vectors. It is an in-process
// brute-force scan; catalog sizes are small enough that an external
// vector store would be overkill.
type VectorBackend struct {
	db       *database.DB
	embedder Embedder
}

// NewVectorBackend wires the store and embedder. Returns nil when the
// embedder is disabled so the engine treats the signal as absent.
func NewVectorBackend(db *database.DB, embedder Embedder) *VectorBackend {
	if embedder == nil {
		return nil
	}
	return &VectorBackend{db: db, embedder: embedder}
}

// SemanticScores embeds the query and returns, per candidate entity,
// the best weighted chunk similarity. Chunks embedded with a different
// model than the current one are skipped.
func (b *VectorBackend) SemanticScores(ctx context.Context, query string, candidateUIDs []string) (map[string]float64, error) {
	vecs, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned an empty query vector")
	}
	qv := vecs[0]

	chunks, err := b.db.ListEmbeddedChunks(candidateUIDs)
	if err != nil {
		return nil, err
	}

	model := b.embedder.ModelID()
	scores := make(map[string]float64)
	for i := range chunks {
		c := &chunks[i]
		if model != "" && c.ModelID != "" && c.ModelID != model {
			continue
		}
		sim := cosine(qv, c.Vector)
		if sim <= 0 {
			continue
		}
		weighted := sim * c.Weight
		if weighted > scores[c.EntityUID] {
			scores[c.EntityUID] = weighted
		}
	}
	return scores, nil
}

// cosine returns the cosine similarity of two vectors, 0 for any
// degenerate input (mismatched dims, zero norm).
func cosine(a, b []float32) float64 {
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
