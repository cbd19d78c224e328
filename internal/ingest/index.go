package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrUnsupportedShape marks an index document that matches none (or
// more than one) of the supported shapes. Shape errors are terminal for
// the sync cycle of that remote only.
var ErrUnsupportedShape = errors.New("unsupported index shape")

type indexDocument struct {
	Manifests []any `json:"manifests"`
	Items     []any `json:"items"`
	Entries   []any `json:"entries"`
}

// ParseIndex extracts absolute manifest URLs from an index document.
// Exactly one of the three shapes must be present:
//
//	A) {"manifests": ["https://.../agent.manifest.yaml", ...]}
//	B) {"items": [{"manifest_url": "..."}, ...]}
//	C) {"entries": [{"path": "...", "base_url": "..."}, ...]}
//
// Relative references resolve against base_url (shape C) or the index
// URL itself. Duplicates are dropped preserving first-seen order.
func ParseIndex(data []byte, indexURL string) ([]string, error) {
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("index is not valid JSON: %w", err)
	}

	shapes := 0
	if doc.Manifests != nil {
		shapes++
	}
	if doc.Items != nil {
		shapes++
	}
	if doc.Entries != nil {
		shapes++
	}
	if shapes != 1 {
		return nil, ErrUnsupportedShape
	}

	var urls []string
	switch {
	case doc.Manifests != nil:
		for _, v := range doc.Manifests {
			if s, ok := v.(string); ok && s != "" {
				urls = append(urls, absURL(s, indexURL))
			}
		}
	case doc.Items != nil:
		for _, v := range doc.Items {
			item, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := item["manifest_url"].(string); ok && s != "" {
				urls = append(urls, absURL(s, indexURL))
			}
		}
	case doc.Entries != nil:
		for _, v := range doc.Entries {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}
			path, _ := entry["path"].(string)
			if path == "" {
				continue
			}
			base, _ := entry["base_url"].(string)
			if base == "" {
				base = indexURL
			}
			urls = append(urls, absURL(path, base))
		}
	}

	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out, nil
}

// absURL resolves a possibly-relative reference against base.
func absURL(ref, base string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
