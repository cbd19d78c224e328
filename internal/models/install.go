package models

import "time"

// Step kinds emitted by the install plan builder.
const (
	StepKindArtifact = "artifact"
	StepKindAdapter  = "adapter"
	StepKindRegister = "gateway.register"
	StepKindLockfile = "lockfile.write"
)

// Step is one declarative unit of an install plan. Params are fully
// resolved (absolute paths, concrete specs) so execution needs no
// further lookups.
type Step struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Params   map[string]string `json:"params,omitempty"`
	Required bool              `json:"required"`

	// Resolved payloads for non-scalar step inputs
	Artifact     *Artifact        `json:"artifact,omitempty"`
	Adapter      *AdapterSpec     `json:"adapter,omitempty"`
	Registration *MCPRegistration `json:"registration,omitempty"`
}

// InstallPlan is an ordered, pure-data plan built fresh per install
// call. It is never cached across calls because target directories and
// environment vary.
type InstallPlan struct {
	EntityUID string `json:"entity_uid"`
	Target    string `json:"target"`
	Steps     []Step `json:"steps"`
}

// StepResult captures one executed step. A failed non-required step
// does not abort the plan.
type StepResult struct {
	Step    string            `json:"step"`
	OK      bool              `json:"ok"`
	Skipped bool              `json:"skipped,omitempty"`
	Ran     bool              `json:"ran"`
	Elapsed float64           `json:"elapsed_secs"`
	Error   string            `json:"error,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// InstallResult is the full outcome of executing a plan.
type InstallResult struct {
	Plan         *InstallPlan `json:"plan"`
	Results      []StepResult `json:"results"`
	FilesWritten []string     `json:"files_written"`
	Lockfile     *LockFile    `json:"lockfile,omitempty"`
}

// LockFileVersion is the current lockfile schema version.
const LockFileVersion = 1

// LockFileName is the filename written into the target project.
const LockFileName = "matrix.lock.json"

// LockFile is the persisted install record in the target project
// directory. Write is last-write-wins per target path.
type LockFile struct {
	Version  int             `json:"version"`
	Entities []LockFileEntry `json:"entities"`
}

// LockFileEntry records one installed entity.
type LockFileEntry struct {
	UID        string         `json:"uid"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Artifacts  []Artifact     `json:"artifacts"`
	Adapters   []string       `json:"adapters"`
	Provenance LockProvenance `json:"provenance"`
}

// LockProvenance records where the installed manifest came from.
type LockProvenance struct {
	SourceURL   string    `json:"source_url,omitempty"`
	RemoteURL   string    `json:"remote_url,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}
