package database

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// UpsertChunk inserts or refreshes an embedding chunk. The checksum is
// the change-detection key: when it matches the stored row the vector
// is kept, so unchanged chunks are not re-embedded.
func (db *DB) UpsertChunk(c *models.EmbeddingChunk) error {
	_, err := db.Exec(`
		INSERT INTO embedding_chunks
			(entity_uid, chunk_id, section, position, weight, text, source_uri, checksum, vector, model_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_uid, chunk_id) DO UPDATE SET
			section = excluded.section,
			position = excluded.position,
			weight = excluded.weight,
			text = excluded.text,
			source_uri = excluded.source_uri,
			vector = CASE WHEN embedding_chunks.checksum = excluded.checksum
				AND (excluded.model_id = '' OR embedding_chunks.model_id = excluded.model_id)
				THEN embedding_chunks.vector ELSE excluded.vector END,
			model_id = CASE WHEN embedding_chunks.checksum = excluded.checksum
				AND (excluded.model_id = '' OR embedding_chunks.model_id = excluded.model_id)
				THEN embedding_chunks.model_id ELSE excluded.model_id END,
			checksum = excluded.checksum,
			updated_at = CURRENT_TIMESTAMP
	`, c.EntityUID, c.ChunkID, c.Section, c.Position, c.Weight, c.Text, c.SourceURI,
		c.Checksum, encodeVector(c.Vector), c.ModelID)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s/%s: %w", c.EntityUID, c.ChunkID, err)
	}
	return nil
}

// SetChunkVector fills in the embedding for a chunk.
func (db *DB) SetChunkVector(entityUID, chunkID string, vector []float32, modelID string) error {
	_, err := db.Exec(`
		UPDATE embedding_chunks SET vector = ?, model_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_uid = ? AND chunk_id = ?
	`, encodeVector(vector), modelID, entityUID, chunkID)
	if err != nil {
		return fmt.Errorf("failed to set vector for %s/%s: %w", entityUID, chunkID, err)
	}
	return nil
}

// ListChunks returns all chunks of an entity ordered by position.
func (db *DB) ListChunks(entityUID string) ([]models.EmbeddingChunk, error) {
	return db.queryChunks(`
		SELECT entity_uid, chunk_id, section, position, weight, text, source_uri,
		       checksum, vector, model_id, created_at, updated_at
		FROM embedding_chunks WHERE entity_uid = ? ORDER BY position
	`, entityUID)
}

// ListPendingChunks returns chunks still awaiting embedding.
func (db *DB) ListPendingChunks(limit int) ([]models.EmbeddingChunk, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryChunks(`
		SELECT entity_uid, chunk_id, section, position, weight, text, source_uri,
		       checksum, vector, model_id, created_at, updated_at
		FROM embedding_chunks WHERE vector IS NULL ORDER BY created_at LIMIT ?
	`, limit)
}

// ListEmbeddedChunks returns embedded chunks, optionally restricted to
// a candidate uid set (the search pre-filter).
func (db *DB) ListEmbeddedChunks(entityUIDs []string) ([]models.EmbeddingChunk, error) {
	query := `
		SELECT entity_uid, chunk_id, section, position, weight, text, source_uri,
		       checksum, vector, model_id, created_at, updated_at
		FROM embedding_chunks WHERE vector IS NOT NULL`
	var args []any
	if len(entityUIDs) > 0 {
		query += ` AND entity_uid IN (?` + strings.Repeat(",?", len(entityUIDs)-1) + `)`
		for _, uid := range entityUIDs {
			args = append(args, uid)
		}
	}
	return db.queryChunks(query, args...)
}

// PruneOrphanChunks deletes chunks of an entity whose ids are no longer
// produced by the chunker (entity re-ingested with a different chunk set).
func (db *DB) PruneOrphanChunks(entityUID string, keepIDs []string) (int64, error) {
	query := `DELETE FROM embedding_chunks WHERE entity_uid = ?`
	args := []any{entityUID}
	if len(keepIDs) > 0 {
		query += ` AND chunk_id NOT IN (?` + strings.Repeat(",?", len(keepIDs)-1) + `)`
		for _, id := range keepIDs {
			args = append(args, id)
		}
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune chunks for %s: %w", entityUID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOrphanedChunks removes chunks whose entity row is gone. The
// schema cascades deletes, but foreign_keys is a per-connection pragma,
// so rows removed through other tooling can leave chunks behind.
func (db *DB) DeleteOrphanedChunks() (int64, error) {
	res, err := db.Exec(`
		DELETE FROM embedding_chunks
		WHERE entity_uid NOT IN (SELECT uid FROM entities)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (db *DB) queryChunks(query string, args ...any) ([]models.EmbeddingChunk, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var out []models.EmbeddingChunk
	for rows.Next() {
		var c models.EmbeddingChunk
		var vec sql.RawBytes
		if err := rows.Scan(&c.EntityUID, &c.ChunkID, &c.Section, &c.Position, &c.Weight,
			&c.Text, &c.SourceURI, &c.Checksum, &vec, &c.ModelID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Vector = decodeVector(vec)
		out = append(out, c)
	}
	return out, rows.Err()
}

// encodeVector packs float32s into a little-endian BLOB; nil for empty
// so the pending-chunk partial index stays usable.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
