package models

import "time"

// Remote is a configured catalog index URL. Remotes are seeded from
// configuration on first access when the store is empty; afterwards the
// store owns them (add/remove via the admin API).
type Remote struct {
	URL          string     `json:"url"`
	Name         string     `json:"name,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IndexDocument is a fetched remote index. Exactly one of the three
// shape fields may be populated; any other top-level shape rejects the
// whole remote.
type IndexDocument struct {
	Manifests []string     `json:"manifests,omitempty"`
	Items     []IndexItem  `json:"items,omitempty"`
	Entries   []IndexEntry `json:"entries,omitempty"`
}

// IndexItem is one entry of the {"items": [...]} index shape.
type IndexItem struct {
	ManifestURL string `json:"manifest_url"`
}

// IndexEntry is one entry of the {"entries": [...]} index shape,
// resolved against its base_url (or the remote URL when absent).
type IndexEntry struct {
	Path    string `json:"path"`
	BaseURL string `json:"base_url,omitempty"`
}
