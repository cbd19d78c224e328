package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Entity type constants
const (
	EntityTypeAgent     = "agent"
	EntityTypeTool      = "tool"
	EntityTypeMCPServer = "mcp_server"
)

var uidPattern = regexp.MustCompile(`^(agent|tool|mcp_server):[^@]+@.+$`)

// Entity is the canonical catalog record for a published agent, tool,
// or MCP server. The upsert key is (type, id, version); uid is derived.
type Entity struct {
	UID          string   `json:"uid"`
	Type         string   `json:"type"`
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"` // opaque string, lexical ordering only
	Summary      string   `json:"summary,omitempty"`
	Description  string   `json:"description,omitempty"`
	License      string   `json:"license,omitempty"`
	Homepage     string   `json:"homepage,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
	Capabilities []string `json:"capabilities"`
	Frameworks   []string `json:"frameworks"`
	Providers    []string `json:"providers"`

	QualityScore float64    `json:"quality_score"`
	ReleaseTS    *time.Time `json:"release_ts,omitempty"`

	// Provenance of the last sync that touched this row
	RemoteURL  string    `json:"remote_url,omitempty"`
	RemoteETag string    `json:"remote_etag,omitempty"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`

	// Gateway registration state. Mutated only by the registrar.
	MCPRegistration     *MCPRegistration `json:"mcp_registration,omitempty"`
	GatewayRegisteredAt *time.Time       `json:"gateway_registered_at,omitempty"`
	GatewayError        string           `json:"gateway_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// EntityUID derives the globally unique uid "{type}:{id}@{version}".
func EntityUID(entityType, id, version string) string {
	return fmt.Sprintf("%s:%s@%s", entityType, id, version)
}

// IsFullUID reports whether s is already in "type:id@version" form.
func IsFullUID(s string) bool {
	return uidPattern.MatchString(s)
}

// ValidEntityType reports whether t is one of the supported entity types.
func ValidEntityType(t string) bool {
	switch t {
	case EntityTypeAgent, EntityTypeTool, EntityTypeMCPServer:
		return true
	}
	return false
}

// SplitUID breaks a full uid into its (type, id, version) parts.
func SplitUID(uid string) (entityType, id, version string, err error) {
	colon := strings.Index(uid, ":")
	at := strings.LastIndex(uid, "@")
	if colon < 0 || at < 0 || at < colon {
		return "", "", "", fmt.Errorf("invalid uid: %q", uid)
	}
	return uid[:colon], uid[colon+1 : at], uid[at+1:], nil
}

// RegistrationState returns the registration-relevant lifecycle slice:
// "unregistered", "pending" (attempted, error recorded) or "registered".
func (e *Entity) RegistrationState() string {
	switch {
	case e.GatewayRegisteredAt != nil:
		return "registered"
	case e.GatewayError != "":
		return "pending"
	default:
		return "unregistered"
	}
}
