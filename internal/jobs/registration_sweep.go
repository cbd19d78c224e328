package jobs

import (
	"context"
	"log"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/gateway"
)

const sweepBatchSize = 50

// RegistrationSweep retries gateway registration for entities whose
// last attempt failed, so transient gateway outages heal without a
// reinstall.
type RegistrationSweep struct {
	registrar *gateway.Registrar
	interval  time.Duration
	lastRun   time.Time
}

// NewRegistrationSweep creates the sweep job.
func NewRegistrationSweep(registrar *gateway.Registrar, interval time.Duration) *RegistrationSweep {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RegistrationSweep{registrar: registrar, interval: interval}
}

// Run retries one batch of pending registrations.
func (j *RegistrationSweep) Run(ctx context.Context) error {
	j.lastRun = time.Now()

	n, err := j.registrar.SyncPendingRegistrations(ctx, sweepBatchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("✅ [GATEWAY-JOB] Registered %d pending entities", n)
	}
	return nil
}

// GetNextRunTime returns when the job should run next.
func (j *RegistrationSweep) GetNextRunTime() time.Time {
	if j.lastRun.IsZero() {
		// Give the gateway time to come up alongside the hub.
		return time.Now().Add(2 * time.Minute)
	}
	return j.lastRun.Add(j.interval)
}
