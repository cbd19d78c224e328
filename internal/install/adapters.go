package install

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// runAdapter renders one adapter glue file into the target tree. An
// existing identical file reports skipped=true; a changed file is
// overwritten (adapters are generated artifacts, not user code).
func (x *Executor) runAdapter(step *models.Step, entity *models.Entity) (models.StepResult, string) {
	start := time.Now()
	ad := step.Adapter
	dest := step.Params["path"]

	content := renderAdapter(ad, entity)
	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, []byte(content)) {
		return models.StepResult{Step: step.Name, OK: true, Ran: true, Skipped: true,
			Elapsed: time.Since(start).Seconds(),
			Extra:   map[string]string{"path": dest, "reason": "unchanged"}}, ""
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return failResult(step.Name, err), ""
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return failResult(step.Name, err), ""
	}
	return models.StepResult{Step: step.Name, OK: true, Ran: true,
		Elapsed: time.Since(start).Seconds(),
		Extra:   map[string]string{"path": dest}}, dest
}

// renderAdapter produces the file body for a framework/template pair.
// Unknown pairs fall back to a commented stub so the step never fails
// on an unrecognized framework.
func renderAdapter(ad *models.AdapterSpec, entity *models.Entity) string {
	framework := strings.ToLower(strings.TrimSpace(ad.Framework))
	key := strings.ToLower(strings.TrimSpace(ad.TemplateKey))

	switch {
	case framework == "langgraph" && (key == "langgraph-node" || key == "node"):
		return renderLangGraphNode(ad, entity)
	case (framework == "watsonx_orchestrate" || framework == "wxo") && (key == "wxo-skill" || key == "skill"):
		return renderWXOSkill(ad, entity)
	default:
		return fmt.Sprintf("# Generated adapter for %s:%s\n# %s\n", framework, key, entity.Name)
	}
}

func renderLangGraphNode(ad *models.AdapterSpec, entity *models.Entity) string {
	className := ad.Params["class_name"]
	if className == "" {
		className = pythonClassName(entity.Name)
	}
	endpoint := ad.Params["endpoint"]
	if endpoint == "" {
		endpoint = "http://localhost:8000/invoke"
	}
	outputKey := ad.Params["output_key"]
	if outputKey == "" {
		outputKey = "result"
	}

	return fmt.Sprintf(`# Auto-generated LangGraph node for %q
from typing import Any, Dict
import os
import httpx

DEFAULT_ENDPOINT = os.getenv("AGENT_ENDPOINT", %q)


class %s:
    """Minimal callable node. Expects 'input' in the state; writes %q."""

    def __init__(self, endpoint: str | None = None, timeout: float = 30.0):
        self.endpoint = endpoint or DEFAULT_ENDPOINT
        self.timeout = timeout

    def __call__(self, state: Dict[str, Any]) -> Dict[str, Any]:
        payload = {"input": state.get("input")}
        with httpx.Client(timeout=self.timeout) as client:
            resp = client.post(self.endpoint, json=payload)
            resp.raise_for_status()
            state[%q] = resp.json()
        return state
`, entity.Name, endpoint, className, outputKey, outputKey)
}

func renderWXOSkill(ad *models.AdapterSpec, entity *models.Entity) string {
	endpoint := ad.Params["endpoint"]
	if endpoint == "" {
		endpoint = "http://localhost:8000/invoke"
	}
	return fmt.Sprintf(`spec_version: v1
kind: skill
name: %s
description: %s
invocation:
  method: POST
  url: %s
  request:
    input: "{{input}}"
  response:
    output: "$.result"
`, strings.ReplaceAll(strings.ToLower(entity.ID), " ", "-"), entity.Summary, endpoint)
}

// pythonClassName derives a CamelCase identifier from a display name.
func pythonClassName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "AgentNode"
	}
	return b.String()
}
