package search

import (
	"strings"
	"unicode"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// Field weights for lexical scoring. Name matches count most, free
// description text least.
const (
	lexWeightName         = 3.0
	lexWeightCapabilities = 2.5
	lexWeightSummary      = 2.0
	lexWeightID           = 2.0
	lexWeightDescription  = 1.0
)

// LexicalScores computes a raw token-overlap score per candidate
// entity. Scores are unnormalized; the ranker min-max normalizes them
// across the candidate set.
func LexicalScores(query string, candidates []models.Entity) map[string]float64 {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	out := make(map[string]float64, len(candidates))
	for i := range candidates {
		if s := lexicalScore(terms, &candidates[i]); s > 0 {
			out[candidates[i].UID] = s
		}
	}
	return out
}

func lexicalScore(terms []string, e *models.Entity) float64 {
	name := strings.ToLower(e.Name)
	id := strings.ToLower(e.ID)
	summary := strings.ToLower(e.Summary)
	description := strings.ToLower(e.Description)
	caps := strings.ToLower(strings.Join(e.Capabilities, " "))

	var score float64
	matched := 0
	for _, t := range terms {
		hit := false
		if strings.Contains(name, t) {
			score += lexWeightName
			hit = true
		}
		if strings.Contains(id, t) {
			score += lexWeightID
			hit = true
		}
		if strings.Contains(caps, t) {
			score += lexWeightCapabilities
			hit = true
		}
		if strings.Contains(summary, t) {
			score += lexWeightSummary
			hit = true
		}
		if strings.Contains(description, t) {
			score += lexWeightDescription
			hit = true
		}
		if hit {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	// Reward covering more of the query over matching one term often.
	coverage := float64(matched) / float64(len(terms))
	return score * coverage
}

// tokenize lowercases and splits a query on non-alphanumeric runs,
// dropping single-character noise.
func tokenize(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
