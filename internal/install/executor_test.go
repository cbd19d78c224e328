package install

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func setupTestDBForInstall(t *testing.T) (*database.DB, func()) {
	tmpFile := "test_installer.db"
	db, err := database.New(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	cleanup := func() {
		db.Close()
		os.Remove(tmpFile)
	}
	return db, cleanup
}

type stubRegistrar struct {
	err   error
	calls int
}

func (s *stubRegistrar) Register(ctx context.Context, entity *models.Entity, reg *models.MCPRegistration) (map[string]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return map[string]string{"gateway": "registered"}, nil
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func testEntity(uid string) *models.Entity {
	etype, id, version, _ := models.SplitUID(uid)
	return &models.Entity{UID: uid, Type: etype, ID: id, Name: id, Version: version,
		SourceURL: "https://example.com/" + id + ".yaml"}
}

func TestExecuteZipArtifactAndLockfile(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	archive := zipBytes(t, map[string]string{"bin/run.sh": "#!/bin/sh\necho hi\n"})
	sum := sha256.Sum256(archive)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	target := t.TempDir()
	m := &models.Manifest{
		Type: "tool", ID: "zipper", Name: "Zipper", Version: "1.0.0",
		Artifacts: []models.Artifact{{
			Kind: "zip",
			Spec: map[string]string{"url": srv.URL, "digest": "sha256:" + hex.EncodeToString(sum[:])},
		}},
	}
	plan, err := BuildPlan("tool:zipper@1.0.0", m, target)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	x := NewExecutor(db, nil)
	result, err := x.Execute(context.Background(), plan, testEntity("tool:zipper@1.0.0"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for _, r := range result.Results {
		if !r.OK {
			t.Errorf("Step %s failed: %s", r.Step, r.Error)
		}
	}
	extracted := filepath.Join(target, "vendor_zip", "bin", "run.sh")
	if _, err := os.Stat(extracted); err != nil {
		t.Errorf("Extracted file missing: %v", err)
	}

	lfPath := filepath.Join(target, models.LockFileName)
	data, err := os.ReadFile(lfPath)
	if err != nil {
		t.Fatalf("Lockfile missing: %v", err)
	}
	var lf models.LockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		t.Fatalf("Lockfile not valid JSON: %v", err)
	}
	if lf.Version != 1 || len(lf.Entities) != 1 || lf.Entities[0].UID != "tool:zipper@1.0.0" {
		t.Errorf("Lockfile content wrong: %+v", lf)
	}
	if len(lf.Entities[0].Artifacts) != 1 {
		t.Errorf("Lockfile should record resolved artifacts: %+v", lf.Entities[0])
	}
}

func TestExecuteArtifactFailureStillWritesLockfile(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	archive := zipBytes(t, map[string]string{"a.txt": "a"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	target := t.TempDir()
	m := &models.Manifest{
		Type: "tool", ID: "badzip", Name: "Bad Zip", Version: "1.0.0",
		Artifacts: []models.Artifact{{
			Kind: "zip",
			Spec: map[string]string{"url": srv.URL, "digest": "sha256:" + string(bytes.Repeat([]byte("0"), 64))},
		}},
		Adapters: []models.AdapterSpec{{Framework: "langgraph", TemplateKey: "node"}},
	}
	plan, err := BuildPlan("tool:badzip@1.0.0", m, target)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	x := NewExecutor(db, nil)
	result, err := x.Execute(context.Background(), plan, testEntity("tool:badzip@1.0.0"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(result.Results) != 3 {
		t.Fatalf("Expected 3 step results, got %d", len(result.Results))
	}
	first := result.Results[0]
	if first.OK || !first.Ran || !bytes.Contains([]byte(first.Error), []byte("digest mismatch")) {
		t.Errorf("Zip step should fail on digest: %+v", first)
	}
	// A failed artifact does not take the rest of the plan down with it.
	for _, r := range result.Results[1:] {
		if !r.Ran || !r.OK {
			t.Errorf("Step %s should still run after an artifact failure: %+v", r.Step, r)
		}
	}

	data, err := os.ReadFile(filepath.Join(target, models.LockFileName))
	if err != nil {
		t.Fatalf("Lockfile must be written even after an artifact failure: %v", err)
	}
	var lf models.LockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		t.Fatalf("Lockfile not valid JSON: %v", err)
	}
	if len(lf.Entities[0].Artifacts) != 0 {
		t.Errorf("Lockfile must list only installed artifacts: %+v", lf.Entities[0].Artifacts)
	}
	if len(lf.Entities[0].Adapters) != 1 {
		t.Errorf("Adapter written after the failure should be recorded: %+v", lf.Entities[0].Adapters)
	}
}

func TestExecuteAdapterWriteAndSkip(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	target := t.TempDir()
	m := &models.Manifest{
		Type: "agent", ID: "summarizer", Name: "Summarizer", Version: "1.0.0",
		Adapters: []models.AdapterSpec{{
			Framework: "langgraph", TemplateKey: "langgraph-node",
			Path: "src/summarizer_node.py",
		}},
	}
	plan, err := BuildPlan("agent:summarizer@1.0.0", m, target)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	entity := testEntity("agent:summarizer@1.0.0")

	x := NewExecutor(db, nil)
	first, err := x.Execute(context.Background(), plan, entity)
	if err != nil {
		t.Fatalf("First execute failed: %v", err)
	}
	if first.Results[0].Skipped {
		t.Error("First adapter write must not be skipped")
	}
	written := filepath.Join(target, "src", "summarizer_node.py")
	if _, err := os.Stat(written); err != nil {
		t.Fatalf("Adapter file missing: %v", err)
	}
	if len(first.Lockfile.Entities[0].Adapters) != 1 {
		t.Errorf("Lockfile should record adapter paths: %+v", first.Lockfile.Entities[0].Adapters)
	}

	second, err := x.Execute(context.Background(), plan, entity)
	if err != nil {
		t.Fatalf("Second execute failed: %v", err)
	}
	if !second.Results[0].OK || !second.Results[0].Skipped {
		t.Errorf("Unchanged adapter should report skipped=true: %+v", second.Results[0])
	}
}

func TestExecuteRegistrationFailureIsDurableAndSoft(t *testing.T) {
	db, cleanup := setupTestDBForInstall(t)
	defer cleanup()

	uid := "mcp_server:hello-sse@0.1.0"
	seed := testEntity(uid)
	if err := db.UpsertEntity(seed, "c1"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	target := t.TempDir()
	m := &models.Manifest{
		Type: "mcp_server", ID: "hello-sse", Name: "hello-sse", Version: "0.1.0",
		Registration: &models.MCPRegistration{Server: map[string]any{"name": "hello-sse"}},
	}
	plan, err := BuildPlan(uid, m, target)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	reg := &stubRegistrar{err: errors.New("gateway unreachable")}
	x := NewExecutor(db, reg)
	result, err := x.Execute(context.Background(), plan, seed)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var regResult, lockResult *models.StepResult
	for i := range result.Results {
		switch result.Results[i].Step {
		case "gateway.register":
			regResult = &result.Results[i]
		case "lockfile.write":
			lockResult = &result.Results[i]
		}
	}
	if regResult == nil || regResult.OK {
		t.Fatalf("Registration should fail soft: %+v", regResult)
	}
	if lockResult == nil || !lockResult.OK || !lockResult.Ran {
		t.Errorf("Lockfile must still run after registration failure: %+v", lockResult)
	}

	stored, err := db.GetEntity(uid)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if stored.GatewayError != "gateway unreachable" || stored.RegistrationState() != "pending" {
		t.Errorf("Gateway error not durable: error=%q state=%s", stored.GatewayError, stored.RegistrationState())
	}

	// A later successful attempt clears the error and registers.
	reg.err = nil
	if _, err := x.Execute(context.Background(), plan, seed); err != nil {
		t.Fatalf("Retry execute failed: %v", err)
	}
	stored, _ = db.GetEntity(uid)
	if stored.RegistrationState() != "registered" || stored.GatewayError != "" {
		t.Errorf("Retry should register: state=%s error=%q", stored.RegistrationState(), stored.GatewayError)
	}
}
