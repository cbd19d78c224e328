package install

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

const outputLimit = 64 << 10 // per-stream capture cap in step extras

// runArtifact dispatches one artifact step to its kind handler. Every
// handler is idempotent: re-running a satisfied step succeeds cheaply.
func (x *Executor) runArtifact(ctx context.Context, step *models.Step, target string) models.StepResult {
	a := step.Artifact
	switch a.Kind {
	case models.ArtifactKindPyPI:
		return x.installPyPI(ctx, step)
	case models.ArtifactKindOCI:
		return x.installOCI(ctx, step)
	case models.ArtifactKindGit:
		return x.installGit(ctx, step, target)
	case models.ArtifactKindZip:
		return x.installZip(ctx, step, target)
	default:
		return failResult(step.Name, fmt.Errorf("unsupported artifact kind: %s", a.Kind))
	}
}

func (x *Executor) installPyPI(ctx context.Context, step *models.Step) models.StepResult {
	spec := step.Artifact.Spec
	pkg := strings.TrimSpace(spec["package"])
	if pkg == "" {
		return failResult(step.Name, fmt.Errorf("missing spec.package"))
	}
	pkgSpec := pkg + strings.TrimSpace(spec["version"]) // version like "==1.4.2"

	var cmd []string
	if _, err := exec.LookPath("uv"); err == nil {
		cmd = []string{"uv", "pip", "install", "--system", "--no-cache-dir", pkgSpec}
	} else {
		cmd = []string{"python3", "-m", "pip", "install", "--no-cache-dir", pkgSpec}
	}
	return runCmd(ctx, step.Name, cmd, "", nil)
}

func (x *Executor) installOCI(ctx context.Context, step *models.Step) models.StepResult {
	spec := step.Artifact.Spec
	if strings.TrimSpace(spec["image"]) == "" {
		return failResult(step.Name, fmt.Errorf("missing spec.image"))
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return failResult(step.Name, fmt.Errorf("docker not available in PATH"))
	}
	ref := ociRef(spec)
	return runCmd(ctx, step.Name, []string{"docker", "pull", ref}, "", []string{ref})
}

func (x *Executor) installGit(ctx context.Context, step *models.Step, target string) models.StepResult {
	spec := step.Artifact.Spec
	repo := strings.TrimSpace(spec["repo"])
	if repo == "" {
		return failResult(step.Name, fmt.Errorf("missing spec.repo"))
	}
	if _, err := exec.LookPath("git"); err != nil {
		return failResult(step.Name, fmt.Errorf("git not available in PATH"))
	}

	clonePath, err := safeJoin(target, "vendor", gitFolder(spec))
	if err != nil {
		return failResult(step.Name, err)
	}
	ref := gitRef(spec)

	if _, statErr := os.Stat(clonePath); statErr == nil {
		// Existing checkout: refresh only when a pinned ref is wanted.
		if ref == "" {
			return models.StepResult{Step: step.Name, OK: true, Ran: true, Skipped: true,
				Extra: map[string]string{"path": clonePath, "reason": "exists"}}
		}
		if res := runCmd(ctx, step.Name, []string{"git", "-C", clonePath, "fetch", "--all", "--tags"}, "", nil); !res.OK {
			return res
		}
		return runCmd(ctx, step.Name, []string{"git", "-C", clonePath, "checkout", ref}, "", nil)
	}

	if err := os.MkdirAll(filepath.Dir(clonePath), 0o755); err != nil {
		return failResult(step.Name, err)
	}
	res := runCmd(ctx, step.Name, []string{"git", "clone", repo, clonePath}, "", []string{repo})
	if !res.OK || ref == "" {
		return res
	}
	return runCmd(ctx, step.Name, []string{"git", "-C", clonePath, "checkout", ref}, "", nil)
}

// installZip downloads, verifies the declared digest, and extracts. A
// digest mismatch fails the step before anything touches the target.
func (x *Executor) installZip(ctx context.Context, step *models.Step, target string) models.StepResult {
	start := time.Now()
	spec := step.Artifact.Spec
	url := strings.TrimSpace(spec["url"])
	if url == "" {
		return failResult(step.Name, fmt.Errorf("missing spec.url"))
	}

	dest, err := safeJoin(target, zipDest(spec))
	if err != nil {
		return failResult(step.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failResult(step.Name, err)
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return failResult(step.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return failResult(step.Name, fmt.Errorf("download returned %d", resp.StatusCode))
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return failResult(step.Name, err)
	}

	digest := strings.TrimSpace(spec["digest"])
	if digest == "" {
		digest = strings.TrimSpace(step.Artifact.Hash)
	}
	if digest != "" {
		if err := verifyDigest(content, digest); err != nil {
			return failResult(step.Name, err)
		}
	}

	if err := extractZip(content, dest); err != nil {
		return failResult(step.Name, err)
	}
	return models.StepResult{Step: step.Name, OK: true, Ran: true,
		Elapsed: time.Since(start).Seconds(),
		Extra:   map[string]string{"path": dest}}
}

// verifyDigest checks content against "algo:hex" (bare hex means sha256).
func verifyDigest(content []byte, digest string) error {
	algo, hexval, found := strings.Cut(digest, ":")
	if !found {
		algo, hexval = "sha256", digest
	}
	var h hash.Hash
	switch strings.ToLower(algo) {
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return fmt.Errorf("unsupported digest algorithm: %s", algo)
	}
	h.Write(content)
	computed := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(computed, hexval) {
		return fmt.Errorf("digest mismatch: expected %s, got %s:%s", digest, strings.ToLower(algo), computed)
	}
	return nil
}

// extractZip unpacks an in-memory archive under dest, rejecting any
// entry that would escape it.
func extractZip(content []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("invalid zip archive: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		path, err := safeJoin(dest, f.Name)
		if err != nil {
			return fmt.Errorf("archive entry %q: %w", f.Name, err)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o200)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		if closeErr := out.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

// safeJoin joins parts under base and rejects traversal outside it.
func safeJoin(base string, parts ...string) (string, error) {
	p := filepath.Join(append([]string{base}, parts...)...)
	cleanBase := filepath.Clean(base)
	if p != cleanBase && !strings.HasPrefix(p, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return p, nil
}

// runCmd executes an external command, capturing truncated output into
// the step extras. redact values are masked in captured output.
func runCmd(ctx context.Context, stepName string, argv []string, dir string, redact []string) models.StepResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := models.StepResult{
		Step:    stepName,
		OK:      err == nil,
		Ran:     true,
		Elapsed: time.Since(start).Seconds(),
		Extra: map[string]string{
			"command": redactString(strings.Join(argv, " "), redact),
			"stdout":  redactString(truncate(stdout.String()), redact),
			"stderr":  redactString(truncate(stderr.String()), redact),
		},
	}
	if err != nil {
		res.Error = redactString(err.Error(), redact)
	}
	return res
}

func failResult(step string, err error) models.StepResult {
	return models.StepResult{Step: step, OK: false, Ran: true, Error: err.Error()}
}

func truncate(s string) string {
	if len(s) <= outputLimit {
		return s
	}
	return s[:outputLimit] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-outputLimit)
}

func redactString(s string, redact []string) string {
	for _, needle := range redact {
		if needle != "" {
			s = strings.ReplaceAll(s, needle, "****")
		}
	}
	return s
}
