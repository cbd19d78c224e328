package install

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/logging"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// Registrar forwards an mcp_registration block to the external MCP
// gateway. Implemented by the gateway package; nil means registration
// steps are skipped.
type Registrar interface {
	Register(ctx context.Context, entity *models.Entity, reg *models.MCPRegistration) (map[string]string, error)
}

// Executor runs install plans. It mutates the Entity record only
// through the registrar step; everything else touches the target
// directory and local tooling.
type Executor struct {
	db         *database.DB
	registrar  Registrar
	httpClient *http.Client
}

// NewExecutor wires the executor. registrar may be nil.
func NewExecutor(db *database.DB, registrar Registrar) *Executor {
	return &Executor{
		db:         db,
		registrar:  registrar,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Execute runs the plan in order. Step failures are recorded per step
// and do not stop the plan: a failed artifact still lets adapters,
// registration, and the terminal lockfile write run, so the result and
// the lockfile record what actually happened. Only cancellation (or a
// required step's failure, when a plan carries one) skips the
// remainder, reported with ran=false. Completed steps are never rolled
// back.
func (x *Executor) Execute(ctx context.Context, plan *models.InstallPlan, entity *models.Entity) (*models.InstallResult, error) {
	logger := logging.WithInstall(plan.EntityUID, plan.Target)

	if err := os.MkdirAll(plan.Target, 0o755); err != nil {
		return nil, fmt.Errorf("creating target directory: %w", err)
	}

	// One install at a time per target directory.
	lock := flock.New(filepath.Join(plan.Target, ".matrix.install.lock"))
	locked, err := lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil || !locked {
		return nil, fmt.Errorf("target %s is locked by another install", plan.Target)
	}
	defer lock.Unlock()

	result := &models.InstallResult{Plan: plan, FilesWritten: []string{}}
	var adapterPaths []string
	var installed []models.Artifact
	aborted := ""

	for i := range plan.Steps {
		step := &plan.Steps[i]

		if aborted != "" || ctx.Err() != nil {
			reason := aborted
			if reason == "" {
				reason = ctx.Err().Error()
			}
			result.Results = append(result.Results, models.StepResult{
				Step: step.Name, OK: false, Ran: false,
				Error: "not run: " + reason,
			})
			continue
		}

		var res models.StepResult
		switch step.Kind {
		case models.StepKindArtifact:
			res = x.runArtifact(ctx, step, plan.Target)
			if res.OK && step.Artifact != nil {
				installed = append(installed, *step.Artifact)
			}
		case models.StepKindAdapter:
			var written string
			res, written = x.runAdapter(step, entity)
			if written != "" {
				adapterPaths = append(adapterPaths, written)
				result.FilesWritten = append(result.FilesWritten, relOrAbs(written, plan.Target))
			}
		case models.StepKindRegister:
			res = x.runRegister(ctx, step, entity)
		case models.StepKindLockfile:
			var lf *models.LockFile
			res, lf = x.writeLockfile(step, plan, entity, adapterPaths, installed)
			if lf != nil {
				result.Lockfile = lf
				result.FilesWritten = append(result.FilesWritten, models.LockFileName)
			}
		default:
			res = failResult(step.Name, fmt.Errorf("unknown step kind: %s", step.Kind))
		}

		result.Results = append(result.Results, res)
		if !res.OK {
			logger.Warn("Step failed", "step", step.Name, "error", res.Error)
			if step.Required {
				aborted = fmt.Sprintf("required step %s failed", step.Name)
			}
		}
	}

	logger.Info("Install finished", "steps", len(result.Results), "files", len(result.FilesWritten))
	return result, nil
}

// runRegister forwards the registration block and persists the outcome
// on the entity. Failure is durable (gateway_error) but never fails the
// install; the pending-registrations sweep retries later.
func (x *Executor) runRegister(ctx context.Context, step *models.Step, entity *models.Entity) models.StepResult {
	start := time.Now()
	if x.registrar == nil {
		return models.StepResult{Step: step.Name, OK: true, Ran: true, Skipped: true,
			Extra: map[string]string{"reason": "gateway not configured"}}
	}

	extra, err := x.registrar.Register(ctx, entity, step.Registration)
	if err != nil {
		if dbErr := x.db.SetGatewayStatus(entity.UID, nil, err.Error()); dbErr != nil {
			logging.WithInstall(entity.UID, "").Warn("Failed to persist gateway error", "error", dbErr)
		}
		res := failResult(step.Name, err)
		res.Elapsed = time.Since(start).Seconds()
		return res
	}

	now := time.Now()
	if dbErr := x.db.SetGatewayStatus(entity.UID, &now, ""); dbErr != nil {
		logging.WithInstall(entity.UID, "").Warn("Failed to persist gateway success", "error", dbErr)
	}
	return models.StepResult{Step: step.Name, OK: true, Ran: true,
		Elapsed: time.Since(start).Seconds(), Extra: extra}
}

// writeLockfile serializes the install record, overwriting any prior
// lockfile at the target path. Only artifacts that actually installed
// are listed; failed steps are visible in the install result, not here.
func (x *Executor) writeLockfile(step *models.Step, plan *models.InstallPlan, entity *models.Entity, adapterPaths []string, installed []models.Artifact) (models.StepResult, *models.LockFile) {
	start := time.Now()

	adapters := make([]string, 0, len(adapterPaths))
	for _, p := range adapterPaths {
		adapters = append(adapters, relOrAbs(p, plan.Target))
	}

	lf := &models.LockFile{
		Version: models.LockFileVersion,
		Entities: []models.LockFileEntry{{
			UID:       entity.UID,
			Type:      entity.Type,
			Name:      entity.Name,
			Version:   entity.Version,
			Artifacts: orEmptyArtifacts(installed),
			Adapters:  adapters,
			Provenance: models.LockProvenance{
				SourceURL:   entity.SourceURL,
				RemoteURL:   entity.RemoteURL,
				InstalledAt: time.Now().UTC(),
			},
		}},
	}

	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return failResult(step.Name, err), nil
	}
	path := step.Params["path"]
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return failResult(step.Name, err), nil
	}
	return models.StepResult{Step: step.Name, OK: true, Ran: true,
		Elapsed: time.Since(start).Seconds(),
		Extra:   map[string]string{"path": path}}, lf
}

func orEmptyArtifacts(a []models.Artifact) []models.Artifact {
	if a == nil {
		return []models.Artifact{}
	}
	return a
}

func relOrAbs(path, base string) string {
	if rel, err := filepath.Rel(base, path); err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel) {
		return rel
	}
	return path
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
