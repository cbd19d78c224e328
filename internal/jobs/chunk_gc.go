package jobs

import (
	"context"
	"log"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
)

// ChunkGC deletes embedding chunks whose entity no longer exists.
// The schema cascades entity deletes, but foreign_keys is a
// per-connection pragma, so rows removed through other tooling can
// leave chunks behind.
type ChunkGC struct {
	db       *database.DB
	interval time.Duration
	lastRun  time.Time
}

// NewChunkGC creates the chunk garbage collection job.
func NewChunkGC(db *database.DB, interval time.Duration) *ChunkGC {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ChunkGC{db: db, interval: interval}
}

// Run removes orphaned chunks.
func (j *ChunkGC) Run(ctx context.Context) error {
	j.lastRun = time.Now()

	n, err := j.db.DeleteOrphanedChunks()
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("🧹 [CHUNK-GC] Removed %d orphaned chunks", n)
	}
	return nil
}

// GetNextRunTime returns when the job should run next.
func (j *ChunkGC) GetNextRunTime() time.Time {
	if j.lastRun.IsZero() {
		return time.Now().Add(10 * time.Minute)
	}
	return j.lastRun.Add(j.interval)
}
