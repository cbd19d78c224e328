package models

import "time"

// RejectedManifest records a manifest turned away by validation or
// policy. The reason is machine-readable and stable across repeated
// runs of the same bad input.
type RejectedManifest struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// ManifestError records a transient or unexpected per-manifest failure
// (network, parse) after retries were exhausted.
type ManifestError struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

// IngestResult summarizes one ingest run of a single remote. A bad
// manifest never fails the whole call; it lands in Rejected or Errors.
type IngestResult struct {
	RunID     string             `json:"run_id"`
	RemoteURL string             `json:"remote_url"`
	Processed int                `json:"processed"`
	Accepted  int                `json:"accepted"`
	Skipped   int                `json:"skipped"` // unchanged per conditional headers
	Rejected  []RejectedManifest `json:"rejected"`
	Errors    []ManifestError    `json:"errors"`
	StartedAt time.Time          `json:"started_at"`
	Elapsed   float64            `json:"elapsed_secs"`
}
