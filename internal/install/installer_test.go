package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func inlineManifest() *models.Manifest {
	return &models.Manifest{
		SchemaVersion: 1,
		Type:          "tool",
		ID:            "hello",
		Name:          "Hello",
		Version:       "0.1.0",
		Summary:       "says hello",
	}
}

func TestInstallInlineManifestCreatesEntity(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	target := t.TempDir()
	s := NewInstaller(db, nil)
	result, err := s.Install(context.Background(), "tool:hello", "0.1.0", target, inlineManifest())
	if err != nil {
		t.Fatalf("Inline install on an empty catalog failed: %v", err)
	}
	for _, r := range result.Results {
		if !r.OK {
			t.Errorf("Step %s failed: %s", r.Step, r.Error)
		}
	}

	e, err := db.GetEntity("tool:hello@0.1.0")
	if err != nil {
		t.Fatalf("Inline install must create the catalog entity: %v", err)
	}
	if e.Summary != "says hello" || e.Name != "Hello" {
		t.Errorf("Entity not normalized from the manifest: %+v", e)
	}

	if _, err := os.Stat(filepath.Join(target, models.LockFileName)); err != nil {
		t.Errorf("Lockfile missing after inline install: %v", err)
	}
}

func TestPlanInlineManifestIsDryRun(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	s := NewInstaller(db, nil)
	plan, entity, err := s.Plan(context.Background(), "tool:hello@0.1.0", "", t.TempDir(), inlineManifest())
	if err != nil {
		t.Fatalf("Plan with inline manifest failed: %v", err)
	}
	if entity == nil || entity.UID != "tool:hello@0.1.0" {
		t.Errorf("Plan should return the manifest's entity: %+v", entity)
	}
	if len(plan.Steps) == 0 {
		t.Error("Plan should carry at least the lockfile step")
	}

	// The dry run never writes to the catalog.
	if _, err := db.GetEntity("tool:hello@0.1.0"); !errors.Is(err, database.ErrEntityNotFound) {
		t.Errorf("Plan must not persist the entity, got %v", err)
	}
}

func TestInstallUnknownEntityWithoutManifest(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	s := NewInstaller(db, nil)
	_, err := s.Install(context.Background(), "tool:ghost", "1.0.0", t.TempDir(), nil)
	if !errors.Is(err, database.ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound without an inline manifest, got %v", err)
	}
}

func TestInstallInlineManifestRefreshesCatalogRow(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	seed := testEntity("tool:hello@0.1.0")
	seed.RemoteURL = "https://example.com/index.json"
	seed.LastSyncAt = time.Now().UTC().Truncate(time.Second)
	if err := db.UpsertEntity(seed, "c1"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	m := inlineManifest()
	m.Summary = "says hello twice"
	s := NewInstaller(db, nil)
	if _, err := s.Install(context.Background(), "tool:hello@0.1.0", "", t.TempDir(), m); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	e, err := db.GetEntity("tool:hello@0.1.0")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if e.Summary != "says hello twice" {
		t.Errorf("Install should refresh the row from the manifest, got %q", e.Summary)
	}
	if e.RemoteURL != seed.RemoteURL || e.SourceURL != seed.SourceURL {
		t.Errorf("Ingest provenance must survive an inline install: %+v", e)
	}
}
