package ingest

import (
	"testing"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func TestNormalizeManifest(t *testing.T) {
	m := &models.Manifest{
		SchemaVersion: 1,
		Type:          "tool",
		ID:            " pdf-extract ",
		Name:          "PDF Extract",
		Version:       "2.0.0",
		Description:   "First line summary\nMore detail below.",
		Capabilities:  []string{"PDF", "pdf", "Vector Search", "vector-search", ""},
		Compatibility: models.Compatibility{Frameworks: []string{"LangChain"}, Providers: []string{"OpenAI"}},
		QualityScore:  1.5,
		ReleaseTS:     "2026-01-15T00:00:00Z",
		Artifacts:     []models.Artifact{{Kind: "PyPI"}},
	}

	e, err := NormalizeManifest(m, "https://example.com/tool.yaml")
	if err != nil {
		t.Fatalf("NormalizeManifest failed: %v", err)
	}

	if e.UID != "tool:pdf-extract@2.0.0" {
		t.Errorf("uid = %s", e.UID)
	}
	if e.Summary != "First line summary" {
		t.Errorf("Summary fallback wrong: %q", e.Summary)
	}
	if len(e.Capabilities) != 2 || e.Capabilities[0] != "pdf" || e.Capabilities[1] != "vector-search" {
		t.Errorf("Capability slugs wrong: %v", e.Capabilities)
	}
	if len(e.Frameworks) != 1 || e.Frameworks[0] != "langchain" {
		t.Errorf("Framework slugs wrong: %v", e.Frameworks)
	}
	if e.QualityScore != 1.0 {
		t.Errorf("Quality should clamp to 1.0, got %v", e.QualityScore)
	}
	if e.ReleaseTS == nil || e.ReleaseTS.Year() != 2026 {
		t.Errorf("release_ts not parsed: %v", e.ReleaseTS)
	}
	if len(e.Artifacts) != 1 || e.Artifacts[0].Kind != "pypi" {
		t.Errorf("Artifact kind not lowercased: %v", e.Artifacts)
	}
}

func TestNormalizeManifestRejectsUnknownKind(t *testing.T) {
	m := &models.Manifest{
		Type: "tool", ID: "x", Name: "X", Version: "1",
		Artifacts: []models.Artifact{{Kind: "npm"}},
	}
	if _, err := NormalizeManifest(m, ""); err == nil {
		t.Fatal("Expected error for unsupported artifact kind")
	}
}

func TestNormalizeManifestRejectsBadReleaseTS(t *testing.T) {
	m := &models.Manifest{Type: "tool", ID: "x", Name: "X", Version: "1", ReleaseTS: "yesterday"}
	if _, err := NormalizeManifest(m, ""); err == nil {
		t.Fatal("Expected error for malformed release_ts")
	}
}

func TestManifestChecksumStable(t *testing.T) {
	a := &models.Manifest{Type: "tool", ID: "x", Name: "X", Version: "1"}
	b := &models.Manifest{Type: "tool", ID: "x", Name: "X", Version: "1"}
	if ManifestChecksum(a) != ManifestChecksum(b) {
		t.Error("Identical manifests must hash identically")
	}
	b.Summary = "changed"
	if ManifestChecksum(a) == ManifestChecksum(b) {
		t.Error("Changed manifest must hash differently")
	}
}
