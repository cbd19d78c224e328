package install

import (
	"context"
	"errors"
	"fmt"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/ingest"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
	"github.com/agent-matrix/matrix-hub-sub001/internal/validate"
)

// Installer is the public install surface: resolve the entity, load its
// manifest, build the plan, execute it.
type Installer struct {
	db       *database.DB
	fetcher  *ingest.Fetcher
	executor *Executor
}

// NewInstaller wires the install service. registrar may be nil.
func NewInstaller(db *database.DB, registrar Registrar) *Installer {
	return &Installer{
		db:       db,
		fetcher:  ingest.NewFetcher(),
		executor: NewExecutor(db, registrar),
	}
}

// Plan resolves the entity and builds (but does not execute) its
// install plan, the dry-run view. With an inline manifest the entity
// does not have to exist in the catalog yet.
func (s *Installer) Plan(ctx context.Context, id, version, target string, inline *models.Manifest) (*models.InstallPlan, *models.Entity, error) {
	plan, entity, _, err := s.resolve(ctx, id, version, target, inline)
	return plan, entity, err
}

// Install runs the full flow. The manifest is written back to the
// catalog before execution, so an inline manifest can introduce an
// entity no remote ever listed. Per-step failures land in the result;
// an error return means the install could not start at all (unknown
// entity, unloadable manifest, identity mismatch, locked target).
func (s *Installer) Install(ctx context.Context, id, version, target string, inline *models.Manifest) (*models.InstallResult, error) {
	plan, entity, manifest, err := s.resolve(ctx, id, version, target, inline)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpsertEntity(entity, ingest.ManifestChecksum(manifest)); err != nil {
		return nil, err
	}
	if err := s.db.ReplaceArtifacts(entity.UID, entity.Artifacts); err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, plan, entity)
}

// resolve produces the plan, the entity record, and the manifest both
// came from. The entity is normalized from the manifest; a known
// catalog row only contributes its ingest provenance. Without an
// inline manifest the entity must already exist in the catalog.
func (s *Installer) resolve(ctx context.Context, id, version, target string, inline *models.Manifest) (*models.InstallPlan, *models.Entity, *models.Manifest, error) {
	uid, err := ResolveUID(id, version)
	if err != nil {
		return nil, nil, nil, err
	}

	known, err := s.db.GetEntity(uid)
	if err != nil {
		if !errors.Is(err, database.ErrEntityNotFound) || inline == nil {
			return nil, nil, nil, err
		}
		known = nil
	}

	manifest := inline
	sourceURL := ""
	if manifest == nil {
		sourceURL = known.SourceURL
		manifest, err = s.loadManifest(ctx, known)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	plan, err := BuildPlan(uid, manifest, target)
	if err != nil {
		return nil, nil, nil, err
	}

	entity, err := ingest.NormalizeManifest(manifest, sourceURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid manifest for %s: %w", uid, err)
	}
	if known != nil {
		if entity.SourceURL == "" {
			entity.SourceURL = known.SourceURL
		}
		entity.RemoteURL = known.RemoteURL
		entity.RemoteETag = known.RemoteETag
		entity.LastSyncAt = known.LastSyncAt
	}
	return plan, entity, manifest, nil
}

// loadManifest re-fetches the manifest from the entity's source URL so
// the install always works from the published document, not a possibly
// stale catalog row.
func (s *Installer) loadManifest(ctx context.Context, entity *models.Entity) (*models.Manifest, error) {
	if entity.SourceURL == "" {
		return nil, fmt.Errorf("unable to load manifest for %s: no source_url recorded", entity.UID)
	}
	data, err := s.fetcher.FetchDocument(ctx, entity.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("unable to load manifest for %s: %w", entity.UID, err)
	}
	manifest, _, err := validate.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse manifest for %s: %w", entity.UID, err)
	}
	return manifest, nil
}
