package handlers

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
	"github.com/agent-matrix/matrix-hub-sub001/internal/search"
	"github.com/agent-matrix/matrix-hub-sub001/internal/services"
)

// SearchHandler handles catalog search requests
type SearchHandler struct {
	engine  *search.Engine
	metrics *services.Metrics
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(engine *search.Engine, metrics *services.Metrics) *SearchHandler {
	return &SearchHandler{engine: engine, metrics: metrics}
}

// Get handles query-string searches
// GET /catalog/search?q=...&mode=hybrid&type=agent&capabilities=a,b
func (h *SearchHandler) Get(c *fiber.Ctx) error {
	req := models.SearchRequest{
		Query: c.Query("q"),
		Mode:  c.Query("mode"),
		Filters: models.SearchFilters{
			Type:           c.Query("type"),
			Capabilities:   csvParam(c.Query("capabilities")),
			Frameworks:     csvParam(c.Query("frameworks")),
			Providers:      csvParam(c.Query("providers")),
			IncludePending: boolParam(c.Query("include_pending")),
		},
		Limit:   intParam(c.Query("limit")),
		Offset:  intParam(c.Query("offset")),
		WithRAG: boolParam(c.Query("with_rag")),
	}
	return h.run(c, req)
}

// Post handles JSON-body searches with the same semantics as Get
// POST /catalog/search
func (h *SearchHandler) Post(c *fiber.Ctx) error {
	var req models.SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	return h.run(c, req)
}

func (h *SearchHandler) run(c *fiber.Ctx, req models.SearchRequest) error {
	start := time.Now()
	resp, err := h.engine.Search(c.Context(), req)
	if err != nil {
		if strings.Contains(err.Error(), "unknown search mode") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		log.Printf("❌ [SEARCH] Query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Search failed",
		})
	}

	if h.metrics != nil {
		mode := req.Mode
		if mode == "" {
			mode = models.SearchModeHybrid
		}
		h.metrics.RecordSearch(mode, time.Since(start).Seconds())
	}
	return c.JSON(resp)
}

func csvParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func boolParam(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}
