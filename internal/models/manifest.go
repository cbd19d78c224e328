package models

import "strings"

// Artifact kind constants (the fixed enum; unknown kinds are rejected
// during normalization).
const (
	ArtifactKindPyPI = "pypi"
	ArtifactKindOCI  = "oci"
	ArtifactKindGit  = "git"
	ArtifactKindZip  = "zip"
)

// ValidArtifactKind reports whether k maps to the fixed kind enum.
func ValidArtifactKind(k string) bool {
	switch k {
	case ArtifactKindPyPI, ArtifactKindOCI, ArtifactKindGit, ArtifactKindZip:
		return true
	}
	return false
}

// Artifact is a child of Entity, owned exclusively by it and replaced
// wholesale on re-normalization of that entity/version.
type Artifact struct {
	Kind        string            `json:"kind" yaml:"kind"`
	Spec        map[string]string `json:"spec" yaml:"spec"`
	Hash        string            `json:"hash,omitempty" yaml:"hash,omitempty"`
	Size        int64             `json:"size,omitempty" yaml:"size,omitempty"`
	InstallHint string            `json:"install_hint,omitempty" yaml:"install_hint,omitempty"`
}

// AdapterSpec describes a framework glue file to render into the target
// project during install.
type AdapterSpec struct {
	Framework   string            `json:"framework" yaml:"framework"`
	TemplateKey string            `json:"template_key" yaml:"template_key"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Compatibility lists the frameworks and model providers an entity works with.
type Compatibility struct {
	Frameworks []string `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
	Providers  []string `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// MCPRegistration is the optional registration block forwarded to the
// MCP gateway after install.
type MCPRegistration struct {
	Tool      map[string]any   `json:"tool,omitempty" yaml:"tool,omitempty"`
	Server    map[string]any   `json:"server,omitempty" yaml:"server,omitempty"`
	Resources []map[string]any `json:"resources,omitempty" yaml:"resources,omitempty"`
	Prompts   []map[string]any `json:"prompts,omitempty" yaml:"prompts,omitempty"`
}

// Empty reports whether the block carries no registration payloads.
func (r *MCPRegistration) Empty() bool {
	return r == nil || (len(r.Tool) == 0 && len(r.Server) == 0 && len(r.Resources) == 0 && len(r.Prompts) == 0)
}

// Manifest is a parsed machine-readable manifest document (JSON or YAML).
type Manifest struct {
	SchemaVersion int              `json:"schema_version" yaml:"schema_version"`
	Type          string           `json:"type" yaml:"type"`
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name" yaml:"name"`
	Version       string           `json:"version" yaml:"version"`
	Summary       string           `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description   string           `json:"description,omitempty" yaml:"description,omitempty"`
	License       string           `json:"license,omitempty" yaml:"license,omitempty"`
	Homepage      string           `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Capabilities  []string         `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Compatibility Compatibility    `json:"compatibility,omitempty" yaml:"compatibility,omitempty"`
	Artifacts     []Artifact       `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Adapters      []AdapterSpec    `json:"adapters,omitempty" yaml:"adapters,omitempty"`
	Registration  *MCPRegistration `json:"mcp_registration,omitempty" yaml:"mcp_registration,omitempty"`

	// Optional publisher-supplied ranking signals.
	QualityScore float64 `json:"quality_score,omitempty" yaml:"quality_score,omitempty"`
	ReleaseTS    string  `json:"release_ts,omitempty" yaml:"release_ts,omitempty"` // RFC 3339

	Readme    string   `json:"readme,omitempty" yaml:"readme,omitempty"`
	ReadmeURL string   `json:"readme_url,omitempty" yaml:"readme_url,omitempty"`
	Examples  []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	SigURI    string   `json:"sig_uri,omitempty" yaml:"sig_uri,omitempty"`
	SBOMURI   string   `json:"sbom_uri,omitempty" yaml:"sbom_uri,omitempty"`
}

// UID derives the manifest's entity uid.
func (m *Manifest) UID() string {
	return EntityUID(strings.TrimSpace(m.Type), strings.TrimSpace(m.ID), strings.TrimSpace(m.Version))
}
