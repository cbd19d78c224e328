package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// RegistrationMetrics records registration outcomes. Satisfied by
// services.Metrics; nil disables recording.
type RegistrationMetrics interface {
	RecordGatewayRegistration(ok bool)
}

// Registrar forwards mcp_registration blocks to the gateway in the
// fixed order tool, resources, prompts, server. It implements the
// install package's Registrar interface.
type Registrar struct {
	client  *Client
	db      *database.DB
	metrics RegistrationMetrics
}

// NewRegistrar wires the registrar. Returns nil when the client is nil
// so an unconfigured gateway propagates as a nil Registrar.
func NewRegistrar(client *Client, db *database.DB, metrics RegistrationMetrics) *Registrar {
	if client == nil {
		return nil
	}
	return &Registrar{client: client, db: db, metrics: metrics}
}

// Register pushes every payload in the block. The first failing
// sub-registration aborts and returns the error; the caller persists it
// as the entity's gateway_error and the sweep retries the whole block
// later (each POST is idempotent on the gateway side).
func (r *Registrar) Register(ctx context.Context, entity *models.Entity, reg *models.MCPRegistration) (map[string]string, error) {
	if reg.Empty() {
		return map[string]string{"reason": "empty registration block"}, nil
	}
	extra, err := r.register(ctx, entity, reg)
	if r.metrics != nil {
		r.metrics.RecordGatewayRegistration(err == nil)
	}
	return extra, err
}

func (r *Registrar) register(ctx context.Context, entity *models.Entity, reg *models.MCPRegistration) (map[string]string, error) {
	extra := map[string]string{}

	if len(reg.Tool) > 0 {
		payload := normalizeTool(reg.Tool, entity)
		if _, err := r.client.postJSON(ctx, "/tools", payload); err != nil {
			return nil, fmt.Errorf("tool registration: %w", err)
		}
		extra["tool"] = stringField(payload, "name")
	}

	var resourceIDs, promptIDs []string
	for _, res := range reg.Resources {
		body, err := r.client.postJSON(ctx, "/resources", res)
		if err != nil {
			return nil, fmt.Errorf("resource registration: %w", err)
		}
		if id := idField(body); id != "" {
			resourceIDs = append(resourceIDs, id)
		}
	}
	if len(reg.Resources) > 0 {
		extra["resources"] = strconv.Itoa(len(reg.Resources))
	}
	for _, p := range reg.Prompts {
		body, err := r.client.postJSON(ctx, "/prompts", p)
		if err != nil {
			return nil, fmt.Errorf("prompt registration: %w", err)
		}
		if id := idField(body); id != "" {
			promptIDs = append(promptIDs, id)
		}
	}
	if len(reg.Prompts) > 0 {
		extra["prompts"] = strconv.Itoa(len(reg.Prompts))
	}

	if len(reg.Server) > 0 {
		payload := normalizeServer(reg.Server, entity, resourceIDs, promptIDs)
		// A server with a URL federates as a gateway peer; without one
		// it is a locally described virtual server.
		path := "/servers"
		if stringField(payload, "url") != "" {
			path = "/gateways"
		}
		if _, err := r.client.postJSON(ctx, path, payload); err != nil {
			return nil, fmt.Errorf("server registration: %w", err)
		}
		extra["server"] = stringField(payload, "name")
	}

	return extra, nil
}

// SyncPendingRegistrations retries registration for entities whose
// last attempt failed. Returns how many were registered this pass.
func (r *Registrar) SyncPendingRegistrations(ctx context.Context, limit int) (int, error) {
	pending, err := r.db.ListPendingRegistrations(limit, 0)
	if err != nil {
		return 0, err
	}

	registered := 0
	for i := range pending {
		entity := &pending[i]
		if entity.MCPRegistration.Empty() {
			continue
		}
		if _, err := r.Register(ctx, entity, entity.MCPRegistration); err != nil {
			logrus.WithFields(logrus.Fields{"uid": entity.UID}).
				Warnf("Registration retry failed: %v", err)
			if dbErr := r.db.SetGatewayStatus(entity.UID, nil, err.Error()); dbErr != nil {
				logrus.WithFields(logrus.Fields{"uid": entity.UID}).
					Warnf("Failed to persist gateway error: %v", dbErr)
			}
			continue
		}
		now := time.Now()
		if dbErr := r.db.SetGatewayStatus(entity.UID, &now, ""); dbErr != nil {
			logrus.WithFields(logrus.Fields{"uid": entity.UID}).
				Warnf("Failed to persist gateway success: %v", dbErr)
			continue
		}
		registered++
	}
	return registered, nil
}

// normalizeTool fixes up publisher sloppiness: the gateway wants
// integration_type REST (not HTTP) and snake_case input_schema, and
// needs a name even when the manifest relies on the entity id.
func normalizeTool(tool map[string]any, entity *models.Entity) map[string]any {
	out := cloneMap(tool)
	if stringField(out, "name") == "" {
		if id := stringField(out, "id"); id != "" {
			out["name"] = id
		} else {
			out["name"] = entity.ID
		}
	}
	it := strings.ToUpper(stringField(out, "integration_type"))
	if it == "" || it == "HTTP" {
		it = "REST"
	}
	out["integration_type"] = it
	if schema, ok := out["inputSchema"]; ok {
		if _, exists := out["input_schema"]; !exists {
			out["input_schema"] = schema
		}
		delete(out, "inputSchema")
	}
	return out
}

// normalizeServer uppercases the transport, rewrites SSE endpoints to
// the /messages/ suffix the gateway expects, and attaches the ids of
// the resources and prompts registered just before it.
func normalizeServer(server map[string]any, entity *models.Entity, resourceIDs, promptIDs []string) map[string]any {
	out := cloneMap(server)
	if stringField(out, "name") == "" {
		out["name"] = entity.ID
	}
	transport := strings.ToUpper(stringField(out, "transport"))
	if transport == "" {
		transport = "SSE"
	}
	out["transport"] = transport

	if url := stringField(out, "url"); url != "" && transport == "SSE" {
		out["url"] = normalizeSSEURL(url)
	}
	if len(resourceIDs) > 0 {
		out["associated_resources"] = resourceIDs
	}
	if len(promptIDs) > 0 {
		out["associated_prompts"] = promptIDs
	}
	return out
}

// normalizeSSEURL ensures the URL ends in "/messages/". Bare roots get
// the suffix appended; a trailing "/messages" gains its slash.
func normalizeSSEURL(url string) string {
	switch {
	case strings.HasSuffix(url, "/messages/"):
		return url
	case strings.HasSuffix(url, "/messages"):
		return url + "/"
	default:
		return strings.TrimRight(url, "/") + "/messages/"
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// idField extracts the created object's id from a gateway response,
// which may come back as a JSON number or string.
func idField(body map[string]any) string {
	switch v := body["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}
