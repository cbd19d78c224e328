package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db        *database.DB
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB) *HealthHandler {
	return &HealthHandler{db: db, startTime: time.Now()}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	entities, err := h.db.CountEntities("")
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database unavailable",
		})
	}
	remotes, _ := h.db.CountRemotes()

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"entities":  entities,
		"remotes":   remotes,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
