// Package install builds and executes idempotent install plans for
// catalog entities: artifact steps, adapter glue files, best-effort
// gateway registration, and the terminal lockfile write.
package install

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// ErrVersionRequired is returned when the caller passes a short id
// without a version. The hub never guesses "latest".
var ErrVersionRequired = errors.New("version is required when 'id' is not a full uid (type:name@version)")

// IdentityMismatchError is the hard error raised when the requested
// entity identifier and the manifest's declared identity disagree.
type IdentityMismatchError struct {
	Requested string
	Declared  string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("identity mismatch: requested %s but manifest declares %s", e.Requested, e.Declared)
}

// ResolveUID converts (id, version) into a full uid. A full uid passes
// through; a short "type:name" id needs an explicit version.
func ResolveUID(id, version string) (string, error) {
	id = strings.TrimSpace(id)
	if models.IsFullUID(id) {
		return id, nil
	}
	if version == "" {
		return "", ErrVersionRequired
	}
	return fmt.Sprintf("%s@%s", id, version), nil
}

// BuildPlan validates the manifest's identity against the requested uid
// and emits the ordered, fully-resolved step list: artifacts in
// manifest order, adapters, optional gateway registration, terminal
// lockfile write. Every step fails soft so the lockfile always records
// the actual outcome; Required marks steps whose failure makes the
// remainder pointless (none of the current kinds qualify). The plan is
// pure data; building it has no side effects, so it doubles as the
// dry-run view.
func BuildPlan(entityUID string, m *models.Manifest, target string) (*models.InstallPlan, error) {
	if m.UID() != entityUID {
		return nil, &IdentityMismatchError{Requested: entityUID, Declared: m.UID()}
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving target path: %w", err)
	}

	plan := &models.InstallPlan{EntityUID: entityUID, Target: absTarget}

	for i := range m.Artifacts {
		a := m.Artifacts[i]
		kind := strings.ToLower(strings.TrimSpace(a.Kind))
		if !models.ValidArtifactKind(kind) {
			return nil, fmt.Errorf("unsupported artifact kind: %s", a.Kind)
		}
		a.Kind = kind
		plan.Steps = append(plan.Steps, models.Step{
			Name:     fmt.Sprintf("artifact[%d]:%s", i, kind),
			Kind:     models.StepKindArtifact,
			Artifact: &a,
			Params:   artifactParams(kind, a.Spec, absTarget),
		})
	}

	for i := range m.Adapters {
		ad := m.Adapters[i]
		plan.Steps = append(plan.Steps, models.Step{
			Name:    fmt.Sprintf("adapter[%d]:%s", i, ad.Framework),
			Kind:    models.StepKindAdapter,
			Adapter: &ad,
			Params:  map[string]string{"path": adapterDestPath(m, &ad, absTarget)},
		})
	}

	if !m.Registration.Empty() {
		plan.Steps = append(plan.Steps, models.Step{
			Name:         "gateway.register",
			Kind:         models.StepKindRegister,
			Registration: m.Registration,
		})
	}

	plan.Steps = append(plan.Steps, models.Step{
		Name:   "lockfile.write",
		Kind:   models.StepKindLockfile,
		Params: map[string]string{"path": filepath.Join(absTarget, models.LockFileName)},
	})
	return plan, nil
}

// artifactParams renders the resolved, human-inspectable parameters for
// an artifact step, including the command preview shown on dry runs.
func artifactParams(kind string, spec map[string]string, target string) map[string]string {
	p := map[string]string{}
	switch kind {
	case models.ArtifactKindPyPI:
		pkg := spec["package"] + spec["version"]
		p["command"] = "pip install --no-cache-dir " + pkg
	case models.ArtifactKindOCI:
		p["command"] = "docker pull " + ociRef(spec)
	case models.ArtifactKindGit:
		dest := filepath.Join(target, "vendor", gitFolder(spec))
		p["dest"] = dest
		cmd := fmt.Sprintf("git clone %s %s", spec["repo"], dest)
		if ref := gitRef(spec); ref != "" {
			cmd += " && git checkout " + ref
		}
		p["command"] = cmd
	case models.ArtifactKindZip:
		dest := filepath.Join(target, zipDest(spec))
		p["dest"] = dest
		p["command"] = fmt.Sprintf("download %s and extract to %s", spec["url"], dest)
	}
	return p
}

// ociRef builds the image reference, preferring an immutable digest
// over a tag.
func ociRef(spec map[string]string) string {
	img := spec["image"]
	switch {
	case spec["digest"] != "":
		return img + "@" + spec["digest"]
	case spec["tag"] != "":
		return img + ":" + spec["tag"]
	default:
		return img
	}
}

func gitRef(spec map[string]string) string {
	for _, k := range []string{"ref", "branch", "tag"} {
		if v := strings.TrimSpace(spec[k]); v != "" {
			return v
		}
	}
	return ""
}

func gitFolder(spec map[string]string) string {
	if d := strings.TrimSpace(spec["dest"]); d != "" {
		return safeFolderName(d)
	}
	repo := strings.TrimSuffix(spec["repo"], ".git")
	if i := strings.LastIndexByte(repo, '/'); i >= 0 {
		repo = repo[i+1:]
	}
	return safeFolderName(repo)
}

func zipDest(spec map[string]string) string {
	if d := strings.TrimSpace(spec["dest"]); d != "" {
		return safeFolderName(d)
	}
	return "vendor_zip"
}

// safeFolderName strips path separators and oddball characters so spec
// values can never escape the target tree via folder names.
func safeFolderName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "pkg"
	}
	return out
}

// adapterDestPath resolves where an adapter file lands inside target.
func adapterDestPath(m *models.Manifest, ad *models.AdapterSpec, target string) string {
	if ad.Path != "" {
		clean := filepath.Clean("/" + ad.Path) // force-root then strip
		return filepath.Join(target, clean)
	}
	base := safeFolderName(strings.ReplaceAll(strings.ToLower(m.ID), " ", "_"))
	ext := ".py"
	if ad.Framework == "watsonx_orchestrate" || ad.Framework == "wxo" {
		ext = ".yaml"
	}
	return filepath.Join(target, "adapters", fmt.Sprintf("%s_%s%s", base, safeFolderName(ad.TemplateKey), ext))
}
