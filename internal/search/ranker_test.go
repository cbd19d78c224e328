package search

import (
	"math"
	"testing"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

func entity(uid string, quality float64, released *time.Time) models.Entity {
	etype, id, version, _ := models.SplitUID(uid)
	return models.Entity{
		UID: uid, Type: etype, ID: id, Name: id, Version: version,
		QualityScore: quality, ReleaseTS: released,
	}
}

func TestRankBlendsWeightedSignals(t *testing.T) {
	now := time.Now()
	candidates := []models.Entity{
		entity("tool:alpha@1.0.0", 0, nil),
		entity("tool:beta@1.0.0", 0, nil),
	}
	lexical := map[string]float64{"tool:alpha@1.0.0": 2, "tool:beta@1.0.0": 8}
	semantic := map[string]float64{"tool:alpha@1.0.0": 0.9, "tool:beta@1.0.0": 0.1}

	hits := Rank(candidates, lexical, semantic, models.SearchWeights{Semantic: 0.6, Lexical: 0.4}, now)
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}
	// Semantic carries more weight than lexical, so alpha wins despite
	// the weaker lexical score.
	if hits[0].UID != "tool:alpha@1.0.0" {
		t.Errorf("Expected alpha first, got %s", hits[0].UID)
	}
	if hits[0].ScoreSemantic != 1.0 || hits[0].ScoreLexical != 0.0 {
		t.Errorf("Min-max normalization wrong: sem=%v lex=%v", hits[0].ScoreSemantic, hits[0].ScoreLexical)
	}
	if got, want := hits[0].ScoreFinal, 0.6; math.Abs(got-want) > 1e-9 {
		t.Errorf("score_final = %v, want %v", got, want)
	}
}

func TestRankTieBreaksByRecencyThenUID(t *testing.T) {
	now := time.Now()
	old := now.AddDate(0, 0, -360)
	fresh := now.AddDate(0, 0, -1)
	candidates := []models.Entity{
		entity("tool:old@1.0.0", 0, &old),
		entity("tool:fresh@1.0.0", 0, &fresh),
		entity("tool:aardvark@1.0.0", 0, nil),
		entity("tool:zebra@1.0.0", 0, nil),
	}

	// Zero weights force score_final ties across the board.
	hits := Rank(candidates, nil, nil, models.SearchWeights{}, now)
	if hits[0].UID != "tool:fresh@1.0.0" || hits[1].UID != "tool:old@1.0.0" {
		t.Errorf("Recency tie-break failed: %s, %s", hits[0].UID, hits[1].UID)
	}
	if hits[2].UID != "tool:aardvark@1.0.0" || hits[3].UID != "tool:zebra@1.0.0" {
		t.Errorf("UID tie-break failed: %s, %s", hits[2].UID, hits[3].UID)
	}
}

func TestRecencyHalfLife(t *testing.T) {
	now := time.Now()
	half := now.AddDate(0, 0, -180)
	if got := recencyScore(&half, now); math.Abs(got-0.5) > 0.01 {
		t.Errorf("180-day-old entity scored %v, want ~0.5", got)
	}
	if got := recencyScore(nil, now); got != 0 {
		t.Errorf("Missing release timestamp scored %v, want 0", got)
	}
	if got := recencyScore(&now, now); got < 0.99 {
		t.Errorf("Just-released entity scored %v, want ~1", got)
	}
}

func TestMinMaxNormalizeConstantSet(t *testing.T) {
	norm := minMaxNormalize(map[string]float64{"a": 3, "b": 3})
	if norm["a"] != 1.0 || norm["b"] != 1.0 {
		t.Errorf("Constant set should normalize to 1.0: %v", norm)
	}
	if minMaxNormalize(nil) != nil {
		t.Error("Empty input should normalize to nil")
	}
}

func TestLexicalScoresFieldWeights(t *testing.T) {
	nameMatch := models.Entity{UID: "tool:grep@1", Name: "grep search", Type: "tool", ID: "grep"}
	descMatch := models.Entity{UID: "tool:other@1", Name: "other", Type: "tool", ID: "other", Description: "supports search"}
	scores := LexicalScores("search", []models.Entity{nameMatch, descMatch})

	if scores["tool:grep@1"] <= scores["tool:other@1"] {
		t.Errorf("Name match should outscore description match: %v", scores)
	}
	if _, ok := scores["tool:other@1"]; !ok {
		t.Error("Description match should still score")
	}

	if s := LexicalScores("", []models.Entity{nameMatch}); s != nil {
		t.Errorf("Empty query should produce no scores, got %v", s)
	}
}
