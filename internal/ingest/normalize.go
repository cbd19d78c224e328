package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// NormalizeManifest maps a validated manifest into the canonical Entity
// shape: capability slugs lowercased and deduplicated, artifact kinds
// lowercased against the fixed enum, summary falling back to the first
// line of the description.
func NormalizeManifest(m *models.Manifest, sourceURL string) (*models.Entity, error) {
	mtype := strings.TrimSpace(m.Type)
	id := strings.TrimSpace(m.ID)
	version := strings.TrimSpace(m.Version)

	e := &models.Entity{
		UID:             models.EntityUID(mtype, id, version),
		Type:            mtype,
		ID:              id,
		Name:            strings.TrimSpace(m.Name),
		Version:         version,
		Summary:         strings.TrimSpace(m.Summary),
		Description:     strings.TrimSpace(m.Description),
		License:         strings.TrimSpace(m.License),
		Homepage:        strings.TrimSpace(m.Homepage),
		SourceURL:       sourceURL,
		Capabilities:    slugList(m.Capabilities),
		Frameworks:      slugList(m.Compatibility.Frameworks),
		Providers:       slugList(m.Compatibility.Providers),
		QualityScore:    clamp01(m.QualityScore),
		MCPRegistration: m.Registration,
	}

	if e.Summary == "" && e.Description != "" {
		if nl := strings.IndexByte(e.Description, '\n'); nl > 0 {
			e.Summary = strings.TrimSpace(e.Description[:nl])
		} else {
			e.Summary = e.Description
		}
	}

	if m.ReleaseTS != "" {
		ts, err := time.Parse(time.RFC3339, m.ReleaseTS)
		if err != nil {
			return nil, fmt.Errorf("invalid release_ts: %w", err)
		}
		e.ReleaseTS = &ts
	}

	for i, a := range m.Artifacts {
		kind := strings.ToLower(strings.TrimSpace(a.Kind))
		if !models.ValidArtifactKind(kind) {
			return nil, fmt.Errorf("unsupported artifact kind: %s", a.Kind)
		}
		art := a
		art.Kind = kind
		if art.Spec == nil {
			art.Spec = map[string]string{}
		}
		m.Artifacts[i] = art
		e.Artifacts = append(e.Artifacts, art)
	}

	return e, nil
}

// ManifestChecksum is the content hash of a parsed manifest, used to
// short-circuit re-ingests of unchanged content.
func ManifestChecksum(m *models.Manifest) string {
	b, _ := json.Marshal(m)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// slugList lowercases, trims, and deduplicates a tag list preserving
// first-seen order. Inner whitespace collapses to single dashes so
// "Vector Search" and "vector-search" normalize to the same slug.
func slugList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		slug := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), "-")
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	return out
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
