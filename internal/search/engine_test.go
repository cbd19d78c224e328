package search

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func setupTestDBForSearch(t *testing.T) (*database.DB, func()) {
	tmpFile := "test_search_engine.db"
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

func seedEntity(t *testing.T, db *database.DB, e models.Entity) {
	t.Helper()
	if e.UID == "" {
		e.UID = models.EntityUID(e.Type, e.ID, e.Version)
	}
	if err := db.UpsertEntity(&e, "checksum-"+e.UID); err != nil {
		t.Fatalf("Failed to seed entity %s: %v", e.UID, err)
	}
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) ModelID() string { return "stub-model" }

func TestSearchLexicalOnly(t *testing.T) {
	db, cleanup := setupTestDBForSearch(t)
	defer cleanup()

	released := time.Now().AddDate(0, 0, -10)
	seedEntity(t, db, models.Entity{
		Type: "tool", ID: "pdf-extract", Name: "PDF Extractor", Version: "1.0.0",
		Summary: "extracts text from pdf files", Capabilities: []string{"pdf"},
		ReleaseTS: &released,
	})
	seedEntity(t, db, models.Entity{
		Type: "tool", ID: "csv-loader", Name: "CSV Loader", Version: "1.0.0",
		Summary: "loads csv data",
	})

	engine := NewEngine(db, nil, models.DefaultSearchWeights(), 3, 0)
	resp, err := engine.Search(context.Background(), models.SearchRequest{Query: "pdf"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(resp.Items) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(resp.Items))
	}
	if resp.Items[0].UID != "tool:pdf-extract@1.0.0" {
		t.Errorf("Wrong hit: %s", resp.Items[0].UID)
	}
	if len(resp.SignalsUsed) != 1 || resp.SignalsUsed[0] != "lexical" {
		t.Errorf("signals_used = %v, want [lexical]", resp.SignalsUsed)
	}
	if resp.Items[0].ScoreFinal <= 0 {
		t.Errorf("Expected positive score_final, got %v", resp.Items[0].ScoreFinal)
	}
}

func TestSearchHidesPendingMCPServers(t *testing.T) {
	db, cleanup := setupTestDBForSearch(t)
	defer cleanup()

	seedEntity(t, db, models.Entity{
		Type: "mcp_server", ID: "pending-srv", Name: "Pending Server", Version: "1.0.0",
		Summary: "a pending mcp server",
	})
	seedEntity(t, db, models.Entity{
		Type: "mcp_server", ID: "ready-srv", Name: "Ready Server", Version: "1.0.0",
		Summary: "a registered mcp server",
	})
	registered := time.Now()
	if err := db.SetGatewayStatus("mcp_server:ready-srv@1.0.0", &registered, ""); err != nil {
		t.Fatalf("Failed to mark server registered: %v", err)
	}

	engine := NewEngine(db, nil, models.DefaultSearchWeights(), 3, 0)

	resp, err := engine.Search(context.Background(), models.SearchRequest{Query: "server"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].UID != "mcp_server:ready-srv@1.0.0" {
		t.Fatalf("Default search should only return registered servers, got %+v", resp.Items)
	}

	resp, err = engine.Search(context.Background(), models.SearchRequest{
		Query:   "server",
		Filters: models.SearchFilters{IncludePending: true},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("include_pending should surface both servers, got %d", len(resp.Items))
	}
}

func TestSearchSemanticScoresChunks(t *testing.T) {
	db, cleanup := setupTestDBForSearch(t)
	defer cleanup()

	seedEntity(t, db, models.Entity{
		Type: "agent", ID: "close", Name: "Close Agent", Version: "1.0.0",
		Summary: "alpha",
	})
	seedEntity(t, db, models.Entity{
		Type: "agent", ID: "far", Name: "Far Agent", Version: "1.0.0",
		Summary: "beta",
	})

	chunks := []models.EmbeddingChunk{
		{EntityUID: "agent:close@1.0.0", ChunkID: "summary-1", Section: "summary",
			Weight: 1.2, Text: "alpha", Checksum: "c1", Vector: []float32{1, 0}, ModelID: "stub-model"},
		{EntityUID: "agent:far@1.0.0", ChunkID: "summary-2", Section: "summary",
			Weight: 1.2, Text: "beta", Checksum: "c2", Vector: []float32{0, 1}, ModelID: "stub-model"},
	}
	for i := range chunks {
		if err := db.UpsertChunk(&chunks[i]); err != nil {
			t.Fatalf("Failed to seed chunk: %v", err)
		}
	}

	vector := NewVectorBackend(db, &stubEmbedder{vec: []float32{1, 0}})
	engine := NewEngine(db, vector, models.DefaultSearchWeights(), 3, 0)

	resp, err := engine.Search(context.Background(), models.SearchRequest{
		Query: "anything", Mode: models.SearchModeSemantic,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("Expected only the aligned entity, got %d items", len(resp.Items))
	}
	if resp.Items[0].UID != "agent:close@1.0.0" {
		t.Errorf("Wrong top hit: %s", resp.Items[0].UID)
	}
	if len(resp.SignalsUsed) != 1 || resp.SignalsUsed[0] != "semantic" {
		t.Errorf("signals_used = %v, want [semantic]", resp.SignalsUsed)
	}
}

func TestSearchDegradesWhenEmbedderFails(t *testing.T) {
	db, cleanup := setupTestDBForSearch(t)
	defer cleanup()

	seedEntity(t, db, models.Entity{
		Type: "tool", ID: "searchable", Name: "Searchable Tool", Version: "1.0.0",
		Summary: "finds things",
	})

	vector := NewVectorBackend(db, &stubEmbedder{err: errors.New("connection refused")})
	engine := NewEngine(db, vector, models.DefaultSearchWeights(), 3, 0)

	resp, err := engine.Search(context.Background(), models.SearchRequest{
		Query: "searchable", Mode: models.SearchModeHybrid,
	})
	if err != nil {
		t.Fatalf("Degraded search should not error: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("Expected lexical fallback hit, got %d items", len(resp.Items))
	}
	if len(resp.SignalsUsed) != 1 || resp.SignalsUsed[0] != "lexical" {
		t.Errorf("signals_used = %v, want [lexical]", resp.SignalsUsed)
	}
}

func TestSearchUnknownMode(t *testing.T) {
	db, cleanup := setupTestDBForSearch(t)
	defer cleanup()

	engine := NewEngine(db, nil, models.DefaultSearchWeights(), 3, 0)
	if _, err := engine.Search(context.Background(), models.SearchRequest{Query: "x", Mode: "fuzzy"}); err == nil {
		t.Fatal("Expected error for unknown mode")
	}
}

func TestSearchEmptyQueryBrowses(t *testing.T) {
	db, cleanup := setupTestDBForSearch(t)
	defer cleanup()

	seedEntity(t, db, models.Entity{Type: "tool", ID: "a", Name: "A", Version: "1"})
	seedEntity(t, db, models.Entity{Type: "agent", ID: "b", Name: "B", Version: "1"})

	engine := NewEngine(db, nil, models.DefaultSearchWeights(), 3, 0)
	resp, err := engine.Search(context.Background(), models.SearchRequest{
		Filters: models.SearchFilters{Type: "tool"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].UID != "tool:a@1" {
		t.Errorf("Type-filtered browse wrong: total=%d items=%+v", resp.Total, resp.Items)
	}
}
