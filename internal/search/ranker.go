package search

import (
	"math"
	"sort"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// recencyHalfLifeDays controls the exponential decay of the recency
// signal: an entity released this many days ago scores 0.5.
const recencyHalfLifeDays = 180.0

// Rank blends the per-signal scores into the final ordering.
//
// Lexical and semantic raw scores are min-max normalized across the
// candidate set so neither signal dominates by scale. Quality is the
// stored quality score clamped to [0,1]; recency decays with a 180-day
// half-life from release time (entities without a release timestamp
// score 0). Ties on score_final break by recency descending, then uid
// ascending, so repeated queries return a stable order.
func Rank(candidates []models.Entity, lexical, semantic map[string]float64, weights models.SearchWeights, now time.Time) []models.Hit {
	lexNorm := minMaxNormalize(lexical)
	semNorm := minMaxNormalize(semantic)

	hits := make([]models.Hit, 0, len(candidates))
	for i := range candidates {
		e := &candidates[i]
		h := models.Hit{
			UID:           e.UID,
			Type:          e.Type,
			Name:          e.Name,
			Version:       e.Version,
			Summary:       e.Summary,
			Capabilities:  e.Capabilities,
			Frameworks:    e.Frameworks,
			Providers:     e.Providers,
			ScoreLexical:  lexNorm[e.UID],
			ScoreSemantic: semNorm[e.UID],
			ScoreQuality:  clamp01(e.QualityScore),
			ScoreRecency:  recencyScore(e.ReleaseTS, now),
		}
		h.ScoreFinal = weights.Semantic*h.ScoreSemantic +
			weights.Lexical*h.ScoreLexical +
			weights.Quality*h.ScoreQuality +
			weights.Recency*h.ScoreRecency
		hits = append(hits, h)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].ScoreFinal != hits[j].ScoreFinal {
			return hits[i].ScoreFinal > hits[j].ScoreFinal
		}
		if hits[i].ScoreRecency != hits[j].ScoreRecency {
			return hits[i].ScoreRecency > hits[j].ScoreRecency
		}
		return hits[i].UID < hits[j].UID
	})
	return hits
}

// minMaxNormalize rescales raw scores into [0,1] across the set. A
// single-value or constant set maps to 1.0 for every scored entry.
func minMaxNormalize(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range raw {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make(map[string]float64, len(raw))
	if hi == lo {
		for k := range raw {
			out[k] = 1.0
		}
		return out
	}
	for k, v := range raw {
		out[k] = (v - lo) / (hi - lo)
	}
	return out
}

func recencyScore(releaseTS *time.Time, now time.Time) float64 {
	if releaseTS == nil || releaseTS.IsZero() {
		return 0
	}
	ageDays := now.Sub(*releaseTS).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * ageDays / recencyHalfLifeDays)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
