package http

import (
	"strconv"

	"alert_worker/core/service/configver"

	"github.com/gofiber/fiber/v2"
)

// ConfigHandler manages versioned runtime configuration (parser
// registry, suppression rules).
type ConfigHandler struct {
	svc *configver.Service
}

func NewConfigHandler(svc *configver.Service) *ConfigHandler {
	return &ConfigHandler{svc: svc}
}

func (h *ConfigHandler) Register(app fiber.Router) {
	cfg := app.Group("/config")
	cfg.Post("/versions", h.Save)
	cfg.Get("/versions/:type/active", h.Active)
	cfg.Get("/versions/:type/history", h.History)
	cfg.Post("/versions/:id/rollback", h.Rollback)
}

type saveConfigRequest struct {
	ConfigType string         `json:"config_type"`
	Data       map[string]any `json:"data"`
	CreatedBy  string         `json:"created_by"`
	Notes      string         `json:"notes,omitempty"`
	Activate   bool           `json:"activate"`
}

// Save stores a config version. Identical content dedupes onto the
// existing version by hash.
func (h *ConfigHandler) Save(c *fiber.Ctx) error {
	var req saveConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	if req.ConfigType == "" || len(req.Data) == 0 {
		return ErrorResponse(c, 400, "config_type and data are required")
	}

	id, created, err := h.svc.Save(c.Context(), req.ConfigType, req.Data, req.CreatedBy, req.Notes, req.Activate)
	if err != nil {
		return InternalErrorResponse(c, err, "save config version")
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	c.Status(status)
	return SuccessResponse(c, fiber.Map{
		"id":        id,
		"created":   created,
		"activated": req.Activate,
	})
}

func (h *ConfigHandler) Active(c *fiber.Ctx) error {
	version, err := h.svc.Active(c.Context(), c.Params("type"))
	if err != nil {
		return InternalErrorResponse(c, err, "active config version")
	}
	if version == nil {
		return ErrorResponse(c, 404, "no active config version")
	}
	return SuccessResponse(c, version)
}

func (h *ConfigHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	history, err := h.svc.History(c.Context(), c.Params("type"), limit)
	if err != nil {
		return InternalErrorResponse(c, err, "config history")
	}
	return SuccessResponse(c, fiber.Map{
		"versions": history,
		"count":    len(history),
	})
}

// Rollback re-activates an older version.
func (h *ConfigHandler) Rollback(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrorResponse(c, 400, "invalid config version id")
	}

	version, err := h.svc.Rollback(c.Context(), id)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, version)
}
