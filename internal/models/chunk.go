package models

import "time"

// Chunk section labels with their ranking weight multipliers.
const (
	ChunkSectionTitle   = "title"
	ChunkSectionSummary = "summary"
	ChunkSectionExample = "example"
	ChunkSectionBody    = "body"
)

// SectionWeight returns the ranking weight multiplier for a chunk section.
func SectionWeight(section string) float64 {
	switch section {
	case ChunkSectionTitle:
		return 1.3
	case ChunkSectionSummary:
		return 1.2
	case ChunkSectionExample:
		return 1.1
	default:
		return 1.0
	}
}

// EmbeddingChunk is a derived text unit produced by the chunker. The
// checksum is the change-detection key: a chunk is re-embedded only if
// its text/weight changed, the embedding model changed, or forced.
type EmbeddingChunk struct {
	EntityUID string    `json:"entity_uid"`
	ChunkID   string    `json:"chunk_id"`
	Section   string    `json:"section"`
	Position  int       `json:"position"`
	Weight    float64   `json:"weight"`
	Text      string    `json:"text"`
	SourceURI string    `json:"source_uri,omitempty"`
	Checksum  string    `json:"checksum"`
	Vector    []float32 `json:"vector,omitempty"` // nil until embedded
	ModelID   string    `json:"model_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pending reports whether the chunk still awaits embedding.
func (c *EmbeddingChunk) Pending() bool {
	return len(c.Vector) == 0
}
