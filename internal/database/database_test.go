package database

import (
	"os"
	"testing"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	tmpFile := "test_database.db"
	db, err := New(tmpFile)
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

func sampleEntity(uid string) *models.Entity {
	etype, id, version, _ := models.SplitUID(uid)
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Entity{
		UID: uid, Type: etype, ID: id, Name: id, Version: version,
		Summary:      "Extracts text from PDFs",
		License:      "MIT",
		SourceURL:    "https://example.com/" + id + ".yaml",
		Capabilities: []string{"pdf", "extract"},
		Frameworks:   []string{"langchain"},
		QualityScore: 0.8,
		ReleaseTS:    &now,
		RemoteURL:    "https://example.com/index.json",
		LastSyncAt:   now,
	}
}

func TestUpsertEntityRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uid := "tool:pdf-extract@1.0.0"
	e := sampleEntity(uid)
	if err := db.UpsertEntity(e, "sum-1"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := db.GetEntity(uid)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "pdf-extract" || got.License != "MIT" || got.QualityScore != 0.8 {
		t.Errorf("Round-trip mismatch: %+v", got)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "pdf" {
		t.Errorf("Capabilities mismatch: %v", got.Capabilities)
	}
	if got.ReleaseTS == nil {
		t.Error("ReleaseTS should survive the round trip")
	}
	if got.RegistrationState() != "unregistered" {
		t.Errorf("New entity should be unregistered, got %s", got.RegistrationState())
	}

	sum, err := db.GetManifestChecksum(uid)
	if err != nil || sum != "sum-1" {
		t.Errorf("Checksum = %q, %v", sum, err)
	}
}

func TestUpsertEntityPreservesGatewayState(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uid := "mcp_server:hello@1.0.0"
	if err := db.UpsertEntity(sampleEntity(uid), "a"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	now := time.Now()
	if err := db.SetGatewayStatus(uid, &now, ""); err != nil {
		t.Fatalf("SetGatewayStatus failed: %v", err)
	}

	// Re-ingesting the same entity must not wipe registration state.
	e := sampleEntity(uid)
	e.Summary = "updated"
	if err := db.UpsertEntity(e, "b"); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, _ := db.GetEntity(uid)
	if got.Summary != "updated" {
		t.Errorf("Upsert should update mutable fields, got %q", got.Summary)
	}
	if got.RegistrationState() != "registered" {
		t.Errorf("Upsert must preserve gateway state, got %s", got.RegistrationState())
	}
}

func TestGetEntityNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := db.GetEntity("tool:nope@1.0.0"); err != ErrEntityNotFound {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
	if sum, err := db.GetManifestChecksum("tool:nope@1.0.0"); err != nil || sum != "" {
		t.Errorf("Unknown entity checksum should be empty: %q, %v", sum, err)
	}
}

func TestListEntitiesFilters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	a := sampleEntity("agent:summarizer@1.0.0")
	a.Capabilities = []string{"summarize"}
	b := sampleEntity("tool:pdf-extract@1.0.0")
	for _, e := range []*models.Entity{a, b} {
		if err := db.UpsertEntity(e, "c"); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	byType, err := db.ListEntities(models.SearchFilters{Type: "agent"})
	if err != nil || len(byType) != 1 || byType[0].UID != a.UID {
		t.Errorf("Type filter wrong: %v, %v", byType, err)
	}

	byCap, err := db.ListEntities(models.SearchFilters{Capabilities: []string{"pdf"}})
	if err != nil || len(byCap) != 1 || byCap[0].UID != b.UID {
		t.Errorf("Capability filter wrong: %v, %v", byCap, err)
	}

	all, err := db.ListEntities(models.SearchFilters{})
	if err != nil || len(all) != 2 {
		t.Errorf("Unfiltered list wrong: %d, %v", len(all), err)
	}
}

func TestPendingRegistrations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	failed := sampleEntity("mcp_server:failed@1.0.0")
	failed.MCPRegistration = &models.MCPRegistration{Server: map[string]any{"name": "failed"}}
	registered := sampleEntity("mcp_server:done@1.0.0")
	registered.MCPRegistration = &models.MCPRegistration{Server: map[string]any{"name": "done"}}
	noBlock := sampleEntity("mcp_server:blank@1.0.0")
	tool := sampleEntity("tool:other@1.0.0")
	for _, e := range []*models.Entity{failed, registered, noBlock, tool} {
		if err := db.UpsertEntity(e, "c"); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if err := db.SetGatewayStatus(failed.UID, nil, "connection refused"); err != nil {
		t.Fatalf("SetGatewayStatus failed: %v", err)
	}
	now := time.Now()
	if err := db.SetGatewayStatus(registered.UID, &now, ""); err != nil {
		t.Fatalf("SetGatewayStatus failed: %v", err)
	}

	pending, err := db.ListPendingRegistrations(10, 0)
	if err != nil {
		t.Fatalf("ListPendingRegistrations failed: %v", err)
	}
	// Registered servers, tools, and servers without a registration
	// block must all be excluded.
	if len(pending) != 1 || pending[0].UID != failed.UID {
		t.Errorf("Expected only the failed server pending, got %+v", pending)
	}
	if pending[0].GatewayError != "connection refused" {
		t.Errorf("Gateway error lost: %q", pending[0].GatewayError)
	}
}

func TestReplaceArtifacts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uid := "tool:pdf-extract@1.0.0"
	if err := db.UpsertEntity(sampleEntity(uid), "c"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	first := []models.Artifact{
		{Kind: "pypi", Spec: map[string]string{"package": "pdf-extract"}},
		{Kind: "zip", Spec: map[string]string{"url": "https://example.com/a.zip"}, Hash: "sha256:abc"},
	}
	if err := db.ReplaceArtifacts(uid, first); err != nil {
		t.Fatalf("ReplaceArtifacts failed: %v", err)
	}

	second := []models.Artifact{{Kind: "oci", Spec: map[string]string{"image": "x/y:1"}}}
	if err := db.ReplaceArtifacts(uid, second); err != nil {
		t.Fatalf("Second ReplaceArtifacts failed: %v", err)
	}

	got, err := db.GetArtifacts(uid)
	if err != nil {
		t.Fatalf("GetArtifacts failed: %v", err)
	}
	if len(got) != 1 || got[0].Kind != "oci" || got[0].Spec["image"] != "x/y:1" {
		t.Errorf("Artifacts should be replaced wholesale: %+v", got)
	}
}

func TestChunkLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uid := "agent:summarizer@1.0.0"
	if err := db.UpsertEntity(sampleEntity(uid), "c"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	chunk := &models.EmbeddingChunk{
		EntityUID: uid, ChunkID: "title-aaaa1111", Section: "title",
		Position: 0, Weight: 1.3, Text: "Summarizer: condenses documents",
		Checksum: "c1",
	}
	if err := db.UpsertChunk(chunk); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}

	pending, err := db.ListPendingChunks(10)
	if err != nil || len(pending) != 1 || !pending[0].Pending() {
		t.Fatalf("Chunk should be pending: %v, %v", pending, err)
	}

	vec := []float32{0.1, 0.2, 0.3}
	if err := db.SetChunkVector(uid, chunk.ChunkID, vec, "nomic-embed-text"); err != nil {
		t.Fatalf("SetChunkVector failed: %v", err)
	}

	embedded, err := db.ListEmbeddedChunks([]string{uid})
	if err != nil || len(embedded) != 1 {
		t.Fatalf("Embedded chunk missing: %v, %v", embedded, err)
	}
	if len(embedded[0].Vector) != 3 || embedded[0].Vector[1] != 0.2 {
		t.Errorf("Vector round-trip wrong: %v", embedded[0].Vector)
	}
	if embedded[0].ModelID != "nomic-embed-text" {
		t.Errorf("ModelID = %q", embedded[0].ModelID)
	}

	// Same checksum re-upsert keeps the vector.
	if err := db.UpsertChunk(chunk); err != nil {
		t.Fatalf("Re-upsert failed: %v", err)
	}
	after, _ := db.ListChunks(uid)
	if len(after) != 1 || after[0].Pending() {
		t.Error("Unchanged chunk must keep its vector")
	}

	// Changed checksum clears it.
	chunk.Text = "Summarizer: condenses documents fast"
	chunk.Checksum = "c2"
	if err := db.UpsertChunk(chunk); err != nil {
		t.Fatalf("Changed upsert failed: %v", err)
	}
	after, _ = db.ListChunks(uid)
	if len(after) != 1 || !after[0].Pending() {
		t.Error("Changed chunk must drop its stale vector")
	}
}

func TestPruneOrphanChunks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uid := "agent:summarizer@1.0.0"
	if err := db.UpsertEntity(sampleEntity(uid), "c"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := db.UpsertChunk(&models.EmbeddingChunk{
			EntityUID: uid, ChunkID: id, Section: "body", Text: id, Checksum: id,
		}); err != nil {
			t.Fatalf("UpsertChunk failed: %v", err)
		}
	}

	n, err := db.PruneOrphanChunks(uid, []string{"a", "c"})
	if err != nil || n != 1 {
		t.Fatalf("Prune should delete 1, got %d, %v", n, err)
	}
	left, _ := db.ListChunks(uid)
	if len(left) != 2 {
		t.Errorf("Expected 2 chunks left, got %d", len(left))
	}
}

func TestDeleteOrphanedChunks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	uid := "agent:summarizer@1.0.0"
	if err := db.UpsertEntity(sampleEntity(uid), "c"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := db.UpsertChunk(&models.EmbeddingChunk{
		EntityUID: uid, ChunkID: "a", Section: "body", Text: "a", Checksum: "a",
	}); err != nil {
		t.Fatalf("UpsertChunk failed: %v", err)
	}

	// Simulate a delete performed without the cascade pragma.
	if _, err := db.Exec(`PRAGMA foreign_keys=OFF`); err != nil {
		t.Fatalf("Failed to disable foreign keys: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM entities WHERE uid = ?`, uid); err != nil {
		t.Fatalf("Failed to delete entity: %v", err)
	}

	n, err := db.DeleteOrphanedChunks()
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 orphan removed, got %d, %v", n, err)
	}
	left, _ := db.ListChunks(uid)
	if len(left) != 0 {
		t.Errorf("Orphaned chunks should be gone, found %d", len(left))
	}
}

func TestRemoteLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	url := "https://example.com/index.json"
	if err := db.AddRemote(url, "example"); err != nil {
		t.Fatalf("AddRemote failed: %v", err)
	}
	// Adding the same remote twice is idempotent.
	if err := db.AddRemote(url, "example"); err != nil {
		t.Fatalf("Duplicate AddRemote should not error: %v", err)
	}
	if n, _ := db.CountRemotes(); n != 1 {
		t.Errorf("Expected 1 remote, got %d", n)
	}

	at := time.Now().UTC()
	if err := db.UpdateRemoteSync(url, `"v2"`, "Mon, 02 Jan 2006", at); err != nil {
		t.Fatalf("UpdateRemoteSync failed: %v", err)
	}
	r, err := db.GetRemote(url)
	if err != nil {
		t.Fatalf("GetRemote failed: %v", err)
	}
	if r.ETag != `"v2"` || r.LastSyncAt == nil {
		t.Errorf("Sync cursors not persisted: %+v", r)
	}

	if err := db.RemoveRemote(url); err != nil {
		t.Fatalf("RemoveRemote failed: %v", err)
	}
	if err := db.RemoveRemote(url); err != ErrRemoteNotFound {
		t.Errorf("Expected ErrRemoteNotFound, got %v", err)
	}
}
