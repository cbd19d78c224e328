package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agent-matrix/matrix-hub-sub001/internal/ingest"
)

const ingestLockKey = "matrixhub:ingest-lock"

// IngestScheduler runs the periodic catalog ingest cycle. With Redis
// configured, a distributed lock ensures only one hub instance syncs
// the remotes per window.
type IngestScheduler struct {
	scheduler    gocron.Scheduler
	ingestor     *ingest.Ingestor
	redisService *RedisService
	metrics      *Metrics
	instanceID   string
}

// NewIngestScheduler creates the ingest scheduler. Exactly one of
// cronExpr and interval drives the cadence: a non-empty cron expression
// wins, otherwise the interval applies, and interval <= 0 disables
// scheduling entirely (manual triggers still work).
func NewIngestScheduler(ingestor *ingest.Ingestor, redisService *RedisService, metrics *Metrics, cronExpr string, interval time.Duration) (*IngestScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &IngestScheduler{
		scheduler:    scheduler,
		ingestor:     ingestor,
		redisService: redisService,
		metrics:      metrics,
		instanceID:   uuid.New().String(),
	}

	var def gocron.JobDefinition
	switch {
	case cronExpr != "":
		// Validate upfront so a bad expression fails startup instead of
		// silently never firing.
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return nil, fmt.Errorf("invalid ingest cron expression %q: %w", cronExpr, err)
		}
		def = gocron.CronJob(cronExpr, false)
	case interval > 0:
		def = gocron.DurationJob(interval)
	default:
		log.Println("⚠️ Scheduled ingest disabled (no cron expression and no interval)")
		return s, nil
	}

	if _, err := scheduler.NewJob(
		def,
		gocron.NewTask(s.runCycle),
		gocron.WithName("catalog-ingest"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ingest job: %w", err)
	}

	return s, nil
}

// Start starts the scheduler
func (s *IngestScheduler) Start() {
	log.Println("⏰ Starting ingest scheduler...")
	s.scheduler.Start()
	log.Println("✅ Ingest scheduler started")
}

// Stop stops the scheduler
func (s *IngestScheduler) Stop() error {
	log.Println("⏹️ Stopping ingest scheduler...")
	return s.scheduler.Shutdown()
}

// runCycle executes one full ingest pass over all remotes.
func (s *IngestScheduler) runCycle() {
	ctx := context.Background()

	if s.redisService != nil {
		// Minute-level granularity prevents duplicate runs across
		// instances within the same window.
		lockKey := fmt.Sprintf("%s:%d", ingestLockKey, time.Now().Unix()/60)
		acquired, err := s.redisService.AcquireLock(ctx, lockKey, s.instanceID, 10*time.Minute)
		if err != nil {
			log.Printf("❌ Failed to acquire ingest lock: %v", err)
			return
		}
		if !acquired {
			log.Println("⏭️ Ingest cycle already running on another instance")
			return
		}
		defer func() {
			if _, err := s.redisService.ReleaseLock(ctx, lockKey, s.instanceID); err != nil {
				log.Printf("⚠️ Failed to release ingest lock: %v", err)
			}
		}()
	}

	start := time.Now()
	results := s.ingestor.IngestAll(ctx)

	status := "ok"
	for _, r := range results {
		if s.metrics != nil {
			s.metrics.RecordManifests(r.Accepted, len(r.Rejected), r.Skipped, len(r.Errors))
		}
		if len(r.Errors) > 0 {
			status = "error"
		}
	}
	if s.metrics != nil {
		s.metrics.RecordIngestRun(status, time.Since(start).Seconds())
	}
}
