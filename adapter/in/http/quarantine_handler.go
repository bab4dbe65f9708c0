package http

import (
	"strconv"

	"alert_worker/core/domain"
	"alert_worker/core/service/quarantine"

	"github.com/gofiber/fiber/v2"
)

// QuarantineHandler exposes operator review of quarantined extractions.
type QuarantineHandler struct {
	svc *quarantine.Service
}

func NewQuarantineHandler(svc *quarantine.Service) *QuarantineHandler {
	return &QuarantineHandler{svc: svc}
}

func (h *QuarantineHandler) Register(app fiber.Router) {
	q := app.Group("/quarantine")
	q.Get("/", h.List)
	q.Get("/stats", h.Stats)
	q.Get("/:id", h.Get)
	q.Post("/:id/review", h.Review)
}

func (h *QuarantineHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	events, err := h.svc.ListPending(c.Context(), limit)
	if err != nil {
		return InternalErrorResponse(c, err, "list quarantine")
	}
	return SuccessResponse(c, fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

func (h *QuarantineHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.svc.Stats(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "quarantine stats")
	}
	return SuccessResponse(c, stats)
}

func (h *QuarantineHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrorResponse(c, 400, "invalid quarantine id")
	}

	event, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return InternalErrorResponse(c, err, "get quarantine event")
	}
	if event == nil {
		return ErrorResponse(c, 404, "quarantine event not found")
	}
	return SuccessResponse(c, event)
}

type reviewRequest struct {
	Action     string         `json:"action"` // approved | rejected | edited
	ReviewedBy string         `json:"reviewed_by"`
	EditedData map[string]any `json:"edited_data,omitempty"`
}

// Review records the operator decision. Approved and edited events are
// republished into the pipeline for reprocessing.
func (h *QuarantineHandler) Review(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrorResponse(c, 400, "invalid quarantine id")
	}

	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	if req.ReviewedBy == "" {
		return ErrorResponse(c, 400, "reviewed_by is required")
	}

	if err := h.svc.Review(c.Context(), id, domain.QuarantineAction(req.Action), req.ReviewedBy, req.EditedData); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"id": id, "action": req.Action})
}
