package handlers

import (
	"errors"
	"log"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
)

// EntityHandler serves catalog entity detail views
type EntityHandler struct {
	db *database.DB
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(db *database.DB) *EntityHandler {
	return &EntityHandler{db: db}
}

// Get returns one entity with its artifacts
// GET /catalog/entities/:uid
func (h *EntityHandler) Get(c *fiber.Ctx) error {
	uid, err := url.PathUnescape(c.Params("uid"))
	if err != nil || uid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Entity uid is required",
		})
	}

	entity, err := h.db.GetEntity(uid)
	if err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Entity not found",
			})
		}
		log.Printf("❌ [CATALOG] Failed to load entity %s: %v", uid, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load entity",
		})
	}

	artifacts, err := h.db.GetArtifacts(uid)
	if err != nil {
		log.Printf("⚠️ [CATALOG] Failed to load artifacts for %s: %v", uid, err)
	}

	return c.JSON(fiber.Map{
		"entity":             entity,
		"artifacts":          artifacts,
		"registration_state": entity.RegistrationState(),
	})
}
