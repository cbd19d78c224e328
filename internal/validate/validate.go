// Package validate checks raw manifests against per-type JSON Schemas
// and the hub's policy rules, producing structured accept/reject
// reports. Rejection reasons are machine-readable and stable across
// repeated runs of the same input.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

var printer = message.NewPrinter(language.English)

//go:embed schema/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	models.EntityTypeAgent:     "schema/agent.manifest.schema.json",
	models.EntityTypeTool:      "schema/tool.manifest.schema.json",
	models.EntityTypeMCPServer: "schema/mcp-server.manifest.schema.json",
}

var requiredFields = []string{"schema_version", "type", "id", "name", "version"}

// Issue is a single validation finding.
type Issue struct {
	Level   string `json:"level"` // "error" | "warning"
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Report is the outcome of validating one manifest.
type Report struct {
	Valid    bool    `json:"valid"`
	SchemaID string  `json:"schema_id,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Reason returns the first error message, the stable string recorded
// for rejected manifests.
func (r *Report) Reason() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// Policy holds the policy rules applied on top of schema validation.
type Policy struct {
	AllowedLicenses     []string // empty = allow all
	RequireMCPArtifacts bool     // reject mcp_server manifests without artifacts
}

// Validator validates manifests against embedded schemas plus policy.
type Validator struct {
	policy  Policy
	once    sync.Once
	schemas map[string]*jsonschema.Schema
	initErr error
}

// NewValidator creates a validator with the given policy.
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

func (v *Validator) compile() error {
	v.once.Do(func() {
		v.schemas = make(map[string]*jsonschema.Schema, len(schemaFiles))
		c := jsonschema.NewCompiler()
		for mtype, file := range schemaFiles {
			data, err := schemaFS.ReadFile(file)
			if err != nil {
				v.initErr = fmt.Errorf("reading schema %s: %w", file, err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				v.initErr = fmt.Errorf("unmarshaling schema %s: %w", file, err)
				return
			}
			if err := c.AddResource(file, doc); err != nil {
				v.initErr = fmt.Errorf("adding schema resource %s: %w", file, err)
				return
			}
			sch, err := c.Compile(file)
			if err != nil {
				v.initErr = fmt.Errorf("compiling schema %s: %w", file, err)
				return
			}
			v.schemas[mtype] = sch
		}
	})
	return v.initErr
}

// ParseManifest decodes a JSON or YAML manifest document into both the
// typed model and the raw map used for schema validation.
func ParseManifest(data []byte) (*models.Manifest, map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("manifest is not valid YAML/JSON: %w", err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("manifest is not a mapping")
	}

	var m models.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest does not match the expected shape: %w", err)
	}
	return &m, raw, nil
}

// Validate runs required-field, schema, and policy checks over a parsed
// manifest. It never raises for invalid content; everything lands in
// the report.
func (v *Validator) Validate(m *models.Manifest, raw map[string]any) *Report {
	report := &Report{Valid: true}

	// Required fields first: their messages are the stable reasons the
	// rest of the system keys on.
	for _, f := range requiredFields {
		if isMissing(raw[f]) {
			report.Valid = false
			report.Errors = append(report.Errors, Issue{
				Level:   "error",
				Code:    "missing_required_field",
				Message: fmt.Sprintf("missing required field: %s", f),
				Field:   f,
			})
		}
	}
	if !report.Valid {
		return report
	}

	mtype := strings.TrimSpace(m.Type)
	if !models.ValidEntityType(mtype) {
		report.Valid = false
		report.Errors = append(report.Errors, Issue{
			Level:   "error",
			Code:    "unknown_type",
			Message: fmt.Sprintf("unknown manifest type: %s", mtype),
			Field:   "type",
		})
		return report
	}

	if err := v.schemaValidate(mtype, raw, report); err != nil {
		// Compilation failure is an operator problem, not a manifest
		// problem; surface it as a rejection with a distinct code.
		report.Valid = false
		report.Errors = append(report.Errors, Issue{
			Level:   "error",
			Code:    "schema_unavailable",
			Message: err.Error(),
		})
		return report
	}
	if !report.Valid {
		return report
	}

	v.policyValidate(m, report)
	v.trustWarnings(m, report)
	return report
}

func (v *Validator) schemaValidate(mtype string, raw map[string]any, report *Report) error {
	if err := v.compile(); err != nil {
		return err
	}
	sch := v.schemas[mtype]
	report.SchemaID = schemaFiles[mtype]

	// Round-trip through JSON so YAML-decoded values carry
	// validator-friendly types.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("converting manifest to JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("preparing manifest for validation: %w", err)
	}

	if err := sch.Validate(inst); err != nil {
		report.Valid = false
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			report.Errors = append(report.Errors, Issue{
				Level: "error", Code: "schema_violation", Message: err.Error(),
			})
			return nil
		}
		for _, issue := range flattenSchemaError(ve) {
			report.Errors = append(report.Errors, issue)
		}
		if len(report.Errors) == 0 {
			report.Errors = append(report.Errors, Issue{
				Level: "error", Code: "schema_violation", Message: ve.Error(),
			})
		}
	}
	return nil
}

func (v *Validator) policyValidate(m *models.Manifest, report *Report) {
	if len(v.policy.AllowedLicenses) > 0 && m.License != "" {
		allowed := false
		for _, l := range v.policy.AllowedLicenses {
			if strings.EqualFold(l, m.License) {
				allowed = true
				break
			}
		}
		if !allowed {
			report.Valid = false
			report.Errors = append(report.Errors, Issue{
				Level:   "error",
				Code:    "license_policy",
				Message: fmt.Sprintf("license not allowed by policy: %s", m.License),
				Field:   "license",
			})
		}
	}

	if v.policy.RequireMCPArtifacts && m.Type == models.EntityTypeMCPServer && len(m.Artifacts) == 0 {
		report.Valid = false
		report.Errors = append(report.Errors, Issue{
			Level:   "error",
			Code:    "empty_artifacts",
			Message: "mcp_server manifest declares no artifacts",
			Field:   "artifacts",
		})
	}

	for i, a := range m.Artifacts {
		kind := strings.ToLower(strings.TrimSpace(a.Kind))
		if !models.ValidArtifactKind(kind) {
			report.Valid = false
			report.Errors = append(report.Errors, Issue{
				Level:   "error",
				Code:    "unknown_artifact_kind",
				Message: fmt.Sprintf("unsupported artifact kind: %s", a.Kind),
				Field:   fmt.Sprintf("artifacts[%d].kind", i),
			})
		}
	}
}

// trustWarnings emits non-fatal supply-chain findings: declared but
// unverified signatures/SBOMs and immutable artifacts missing digests.
func (v *Validator) trustWarnings(m *models.Manifest, report *Report) {
	if m.SigURI != "" {
		report.Warnings = append(report.Warnings, Issue{
			Level:   "warning",
			Code:    "signature_not_verified",
			Message: "sig_uri present but cryptographic verification is not enabled; skipping",
			Field:   "sig_uri",
		})
	}
	if m.SBOMURI != "" {
		report.Warnings = append(report.Warnings, Issue{
			Level:   "warning",
			Code:    "sbom_not_scanned",
			Message: "sbom_uri present but SBOM scanning is not configured; skipping",
			Field:   "sbom_uri",
		})
	}
	for i, a := range m.Artifacts {
		kind := strings.ToLower(strings.TrimSpace(a.Kind))
		if (kind == models.ArtifactKindOCI || kind == models.ArtifactKindZip) &&
			a.Hash == "" && a.Spec["digest"] == "" {
			report.Warnings = append(report.Warnings, Issue{
				Level:   "warning",
				Code:    "missing_digest",
				Message: fmt.Sprintf("artifacts[%d] is missing an immutable digest; installs may be non-reproducible", i),
				Field:   fmt.Sprintf("artifacts[%d].spec", i),
			})
		}
	}
}

func flattenSchemaError(ve *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.Join(e.InstanceLocation, ".")
			msg := e.Error()
			if e.ErrorKind != nil {
				msg = e.ErrorKind.LocalizedString(printer)
			}
			loc := field
			if loc == "" {
				loc = "<root>"
			}
			issues = append(issues, Issue{
				Level:   "error",
				Code:    "schema_violation",
				Message: fmt.Sprintf("%s: %s", loc, msg),
				Field:   field,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

func isMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
