package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/agent-matrix/matrix-hub-sub001/internal/database"
	"github.com/agent-matrix/matrix-hub-sub001/internal/install"
	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
	"github.com/agent-matrix/matrix-hub-sub001/internal/services"
)

// InstallRequest is the body of the install and plan endpoints. The
// optional inline manifest skips the source re-fetch, for installs of
// manifests not (yet) in any remote index.
type InstallRequest struct {
	ID       string           `json:"id"`
	Version  string           `json:"version,omitempty"`
	Target   string           `json:"target"`
	Manifest *models.Manifest `json:"manifest,omitempty"`
}

// InstallHandler handles install planning and execution
type InstallHandler struct {
	installer *install.Installer
	metrics   *services.Metrics
}

// NewInstallHandler creates a new install handler
func NewInstallHandler(installer *install.Installer, metrics *services.Metrics) *InstallHandler {
	return &InstallHandler{installer: installer, metrics: metrics}
}

// Plan builds and returns the install plan without executing it
// POST /catalog/install/plan
func (h *InstallHandler) Plan(c *fiber.Ctx) error {
	req, ok, errResp := h.parseRequest(c)
	if !ok {
		return errResp
	}

	plan, entity, err := h.installer.Plan(c.Context(), req.ID, req.Version, req.Target, req.Manifest)
	if err != nil {
		return h.installError(c, err)
	}
	return c.JSON(fiber.Map{
		"plan":   plan,
		"entity": entity.UID,
	})
}

// Install executes the full install flow
// POST /catalog/install
func (h *InstallHandler) Install(c *fiber.Ctx) error {
	req, ok, errResp := h.parseRequest(c)
	if !ok {
		return errResp
	}

	log.Printf("📦 [INSTALL] Installing %s into %s", req.ID, req.Target)
	result, err := h.installer.Install(c.Context(), req.ID, req.Version, req.Target, req.Manifest)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordInstall(false)
		}
		return h.installError(c, err)
	}

	allOK := true
	for _, r := range result.Results {
		if !r.OK {
			allOK = false
			break
		}
	}
	if h.metrics != nil {
		h.metrics.RecordInstall(allOK)
	}

	// Partial failures still return the full result; the step list says
	// exactly what ran.
	status := fiber.StatusOK
	if !allOK {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(result)
}

func (h *InstallHandler) parseRequest(c *fiber.Ctx) (*InstallRequest, bool, error) {
	var req InstallRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ID == "" {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id is required",
		})
	}
	if req.Target == "" {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "target is required",
		})
	}
	return &req, true, nil
}

func (h *InstallHandler) installError(c *fiber.Ctx, err error) error {
	var mismatch *install.IdentityMismatchError
	switch {
	case errors.Is(err, database.ErrEntityNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Entity not found",
		})
	case errors.Is(err, install.ErrVersionRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.As(err, &mismatch):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		log.Printf("❌ [INSTALL] Failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
