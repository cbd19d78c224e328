package handlers

import (
	"errors"
	"log"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/gateway"
	"github.com/agent-matrix/matrix-hub-sub001/internal/ingest"
)

// AdminHandler serves the authenticated admin surface: remotes CRUD,
// manual ingest triggers, and gateway registration maintenance.
type AdminHandler struct {
	db        *database.DB
	ingestor  *ingest.Ingestor
	registrar *gateway.Registrar
}

// NewAdminHandler creates a new admin handler. registrar may be nil.
func NewAdminHandler(db *database.DB, ingestor *ingest.Ingestor, registrar *gateway.Registrar) *AdminHandler {
	return &AdminHandler{db: db, ingestor: ingestor, registrar: registrar}
}

// ListRemotes returns all configured catalog remotes
// GET /catalog/remotes
func (h *AdminHandler) ListRemotes(c *fiber.Ctx) error {
	remotes, err := h.db.ListRemotes()
	if err != nil {
		log.Printf("❌ [ADMIN] Failed to list remotes: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list remotes",
		})
	}
	return c.JSON(fiber.Map{"remotes": remotes})
}

// AddRemote registers a new catalog index URL
// POST /catalog/remotes
func (h *AdminHandler) AddRemote(c *fiber.Ctx) error {
	var req struct {
		URL  string `json:"url"`
		Name string `json:"name,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url must be an absolute http(s) URL",
		})
	}

	if err := h.db.AddRemote(req.URL, req.Name); err != nil {
		log.Printf("❌ [ADMIN] Failed to add remote %s: %v", req.URL, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add remote",
		})
	}
	log.Printf("✅ [ADMIN] Added remote: %s", req.URL)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": req.URL})
}

// RemoveRemote deletes a catalog remote; its already-ingested entities
// stay in the catalog until replaced or deleted
// DELETE /catalog/remotes?url=...
func (h *AdminHandler) RemoveRemote(c *fiber.Ctx) error {
	remoteURL := c.Query("url")
	if remoteURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url query parameter is required",
		})
	}

	if err := h.db.RemoveRemote(remoteURL); err != nil {
		if errors.Is(err, database.ErrRemoteNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Remote not found",
			})
		}
		log.Printf("❌ [ADMIN] Failed to remove remote %s: %v", remoteURL, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove remote",
		})
	}
	log.Printf("🗑️ [ADMIN] Removed remote: %s", remoteURL)
	return c.JSON(fiber.Map{"removed": remoteURL})
}

// TriggerIngest runs an ingest cycle now, for one remote when a url is
// given or for all remotes otherwise
// POST /catalog/ingest
func (h *AdminHandler) TriggerIngest(c *fiber.Ctx) error {
	var req struct {
		URL string `json:"url,omitempty"`
	}
	// Empty body means "all remotes".
	_ = c.BodyParser(&req)

	if req.URL != "" {
		result, err := h.ingestor.Ingest(c.Context(), req.URL)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(result)
	}

	results := h.ingestor.IngestAll(c.Context())
	return c.JSON(fiber.Map{"results": results})
}

// PendingRegistrations lists entities whose gateway registration failed
// GET /catalog/registrations/pending
func (h *AdminHandler) PendingRegistrations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	pending, err := h.db.ListPendingRegistrations(limit, offset)
	if err != nil {
		log.Printf("❌ [ADMIN] Failed to list pending registrations: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list pending registrations",
		})
	}
	return c.JSON(fiber.Map{"pending": pending, "count": len(pending)})
}

// SyncRegistrations retries all pending gateway registrations now
// POST /catalog/registrations/sync
func (h *AdminHandler) SyncRegistrations(c *fiber.Ctx) error {
	if h.registrar == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Gateway not configured",
		})
	}

	n, err := h.registrar.SyncPendingRegistrations(c.Context(), c.QueryInt("limit", 100))
	if err != nil {
		log.Printf("❌ [ADMIN] Registration sync failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Registration sync failed",
		})
	}
	return c.JSON(fiber.Map{"registered": n})
}

// DeleteEntity removes an entity from the catalog
// DELETE /catalog/entities/:uid
func (h *AdminHandler) DeleteEntity(c *fiber.Ctx) error {
	uid, err := url.PathUnescape(c.Params("uid"))
	if err != nil || uid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Entity uid is required",
		})
	}

	if err := h.db.DeleteEntity(uid); err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Entity not found",
			})
		}
		log.Printf("❌ [ADMIN] Failed to delete entity %s: %v", uid, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete entity",
		})
	}
	log.Printf("🗑️ [ADMIN] Deleted entity: %s", uid)
	return c.JSON(fiber.Map{"deleted": uid})
}
