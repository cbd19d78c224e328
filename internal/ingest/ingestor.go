package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/logging"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
	"github.com/agent-matrix/matrix-hub-sub001/internal/search"
	"github.com/agent-matrix/matrix-hub-sub001/internal/validate"
)

// Ingestor runs the ingestion pipeline for catalog remotes.
type Ingestor struct {
	db        *database.DB
	fetcher   *Fetcher
	validator *validate.Validator
	chunker   *search.Chunker
	embedder  search.Embedder // nil = chunks stay pending
	workers   int
	rateLimit float64 // manifest fetches per second per remote
}

// NewIngestor wires the ingestion pipeline.
func NewIngestor(db *database.DB, validator *validate.Validator, chunker *search.Chunker, embedder search.Embedder, workers int, rateLimit float64) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	if rateLimit <= 0 {
		rateLimit = 5
	}
	return &Ingestor{
		db:        db,
		fetcher:   NewFetcher(),
		validator: validator,
		chunker:   chunker,
		embedder:  embedder,
		workers:   workers,
		rateLimit: rateLimit,
	}
}

// IngestAll syncs every configured remote, remotes in parallel. A
// failing remote contributes a result with its error recorded; it never
// aborts the others.
func (ing *Ingestor) IngestAll(ctx context.Context) []models.IngestResult {
	remotes, err := ing.db.ListRemotes()
	if err != nil {
		log.Printf("❌ Failed to list remotes: %v", err)
		return nil
	}
	if len(remotes) == 0 {
		log.Println("📦 No remotes configured, skipping ingest")
		return nil
	}

	results := make([]models.IngestResult, len(remotes))
	var wg sync.WaitGroup
	for i, r := range remotes {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			res, err := ing.Ingest(ctx, url)
			if err != nil {
				results[i] = models.IngestResult{
					RemoteURL: url,
					Errors:    []models.ManifestError{{Ref: url, Error: err.Error()}},
				}
				return
			}
			results[i] = *res
		}(i, r.URL)
	}
	wg.Wait()

	var accepted, rejected, errs int
	for _, r := range results {
		accepted += r.Accepted
		rejected += len(r.Rejected)
		errs += len(r.Errors)
	}
	log.Printf("✅ Ingest cycle complete: remotes=%d accepted=%d rejected=%d errors=%d",
		len(remotes), accepted, rejected, errs)
	return results
}

// Ingest syncs a single remote index. Per-manifest failures land in the
// result; only whole-remote problems (unreachable index, unsupported
// shape) return an error.
func (ing *Ingestor) Ingest(ctx context.Context, remoteURL string) (*models.IngestResult, error) {
	result := &models.IngestResult{
		RunID:     uuid.New().String(),
		RemoteURL: remoteURL,
		StartedAt: time.Now(),
		Rejected:  []models.RejectedManifest{},
		Errors:    []models.ManifestError{},
	}
	logger := logging.WithIngest(result.RunID, remoteURL)
	defer func() {
		result.Elapsed = time.Since(result.StartedAt).Seconds()
	}()

	var etag, lastModified string
	if remote, err := ing.db.GetRemote(remoteURL); err == nil {
		etag, lastModified = remote.ETag, remote.LastModified
	}

	idx, err := ing.fetcher.FetchIndex(ctx, remoteURL, etag, lastModified)
	if err != nil {
		return nil, fmt.Errorf("fetching index: %w", err)
	}
	now := time.Now()
	if idx.NotModified {
		logger.Info("Index unchanged (304), skipping")
		_ = ing.db.UpdateRemoteSync(remoteURL, etag, lastModified, now)
		return result, nil
	}

	urls, err := ParseIndex(idx.Body, remoteURL)
	if err != nil {
		return nil, err
	}
	result.Processed = len(urls)
	logger.Info("Index fetched", "manifests", len(urls))

	limiter := rate.NewLimiter(rate.Limit(ing.rateLimit), 1)
	sem := make(chan struct{}, ing.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, manifestURL := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(url string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := limiter.Wait(ctx); err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, models.ManifestError{Ref: url, Error: err.Error()})
				mu.Unlock()
				return
			}

			outcome := ing.ingestManifest(ctx, url, remoteURL, idx.ETag)
			mu.Lock()
			switch {
			case outcome.err != nil:
				result.Errors = append(result.Errors, models.ManifestError{Ref: url, Error: outcome.err.Error()})
			case outcome.reason != "":
				result.Rejected = append(result.Rejected, models.RejectedManifest{Ref: url, Reason: outcome.reason})
			case outcome.unchanged:
				result.Skipped++
			default:
				result.Accepted++
			}
			mu.Unlock()
		}(manifestURL)
	}
	wg.Wait()

	if err := ing.db.UpdateRemoteSync(remoteURL, idx.ETag, idx.LastModified, now); err != nil {
		logger.Warn("Failed to persist sync cursors", "error", err)
	}
	logger.Info("Remote synced",
		"accepted", result.Accepted, "skipped", result.Skipped,
		"rejected", len(result.Rejected), "errors", len(result.Errors))
	return result, nil
}

type manifestOutcome struct {
	err       error  // transient/unexpected failure
	reason    string // validation/policy rejection
	unchanged bool   // checksum matched the stored row
}

// ingestManifest handles one manifest end to end: fetch, validate,
// normalize, upsert, chunk, embed. Store writes come first; the derived
// chunk/embed stage is best-effort and never fails the manifest.
func (ing *Ingestor) ingestManifest(ctx context.Context, url, remoteURL, etag string) manifestOutcome {
	data, err := ing.fetcher.FetchDocument(ctx, url)
	if err != nil {
		return manifestOutcome{err: err}
	}

	manifest, raw, err := validate.ParseManifest(data)
	if err != nil {
		return manifestOutcome{reason: err.Error()}
	}
	if report := ing.validator.Validate(manifest, raw); !report.Valid {
		return manifestOutcome{reason: report.Reason()}
	}

	entity, err := NormalizeManifest(manifest, url)
	if err != nil {
		return manifestOutcome{reason: err.Error()}
	}
	entity.RemoteURL = remoteURL
	entity.RemoteETag = etag
	entity.LastSyncAt = time.Now()

	checksum := ManifestChecksum(manifest)
	stored, err := ing.db.GetManifestChecksum(entity.UID)
	if err != nil {
		return manifestOutcome{err: err}
	}
	if stored != "" && stored == checksum {
		if err := ing.db.TouchEntitySync(entity.UID, remoteURL, etag, entity.LastSyncAt); err != nil {
			return manifestOutcome{err: err}
		}
		return manifestOutcome{unchanged: true}
	}

	if err := ing.db.UpsertEntity(entity, checksum); err != nil {
		return manifestOutcome{err: err}
	}
	if err := ing.db.ReplaceArtifacts(entity.UID, entity.Artifacts); err != nil {
		return manifestOutcome{err: err}
	}

	ing.chunkAndEmbed(ctx, entity.UID, manifest)
	return manifestOutcome{}
}

// chunkAndEmbed refreshes the derived chunk rows and embeds them when
// an embedder is configured. Failures here leave chunks pending for the
// retry job; the entity upsert has already succeeded.
func (ing *Ingestor) chunkAndEmbed(ctx context.Context, entityUID string, manifest *models.Manifest) {
	if ing.chunker == nil {
		return
	}

	// Inline readme wins; a readme_url is fetched best-effort.
	if manifest.Readme == "" && manifest.ReadmeURL != "" {
		if body, err := ing.fetcher.FetchDocument(ctx, manifest.ReadmeURL); err == nil {
			manifest.Readme = string(body)
		}
	}

	chunks := ing.chunker.ChunkManifest(entityUID, manifest)
	keep := make([]string, 0, len(chunks))
	for i := range chunks {
		if ing.embedder != nil {
			chunks[i].ModelID = ing.embedder.ModelID()
		}
		if err := ing.db.UpsertChunk(&chunks[i]); err != nil {
			log.Printf("❌ Failed to upsert chunk %s/%s: %v", entityUID, chunks[i].ChunkID, err)
			continue
		}
		keep = append(keep, chunks[i].ChunkID)
	}
	if _, err := ing.db.PruneOrphanChunks(entityUID, keep); err != nil {
		log.Printf("❌ Failed to prune chunks for %s: %v", entityUID, err)
	}

	if ing.embedder == nil {
		return
	}
	stored, err := ing.db.ListChunks(entityUID)
	if err != nil {
		return
	}
	var mine []models.EmbeddingChunk
	for _, c := range stored {
		if c.Pending() {
			mine = append(mine, c)
		}
	}
	if len(mine) == 0 {
		return
	}

	texts := make([]string, len(mine))
	for i, c := range mine {
		texts[i] = c.Text
	}
	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		log.Printf("⚠️ Embedding failed for %s, chunks left pending: %v", entityUID, err)
		return
	}
	for i, c := range mine {
		if err := ing.db.SetChunkVector(c.EntityUID, c.ChunkID, vectors[i], ing.embedder.ModelID()); err != nil {
			log.Printf("❌ Failed to store vector %s/%s: %v", c.EntityUID, c.ChunkID, err)
		}
	}
}
