package jobs

import (
	"context"
	"log"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/search"
)

const embedBatchSize = 64

// EmbedRetry re-embeds chunks whose vectors are still pending, either
// because the embedder was down during ingest or because it was
// configured after the catalog was populated.
type EmbedRetry struct {
	db       *database.DB
	embedder search.Embedder
	interval time.Duration
	lastRun  time.Time
}

// NewEmbedRetry creates the embed retry job.
func NewEmbedRetry(db *database.DB, embedder search.Embedder, interval time.Duration) *EmbedRetry {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &EmbedRetry{db: db, embedder: embedder, interval: interval}
}

// Run embeds pending chunks in batches until none remain or the batch
// fails. A failing embedder leaves the chunks pending for the next run.
func (j *EmbedRetry) Run(ctx context.Context) error {
	j.lastRun = time.Now()

	total := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunks, err := j.db.ListPendingChunks(embedBatchSize)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Text
		}
		vectors, err := j.embedder.Embed(ctx, texts)
		if err != nil {
			log.Printf("⚠️ [EMBED-JOB] Embedder unavailable, %d chunks stay pending: %v", len(chunks), err)
			return nil
		}

		for i := range chunks {
			if err := j.db.SetChunkVector(chunks[i].EntityUID, chunks[i].ChunkID, vectors[i], j.embedder.ModelID()); err != nil {
				return err
			}
		}
		total += len(chunks)
	}

	if total > 0 {
		log.Printf("✅ [EMBED-JOB] Embedded %d pending chunks", total)
	}
	return nil
}

// GetNextRunTime returns when the job should run next.
func (j *EmbedRetry) GetNextRunTime() time.Time {
	if j.lastRun.IsZero() {
		// First run shortly after startup to catch up a cold catalog.
		return time.Now().Add(time.Minute)
	}
	return j.lastRun.Add(j.interval)
}
