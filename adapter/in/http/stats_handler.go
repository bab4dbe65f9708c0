package http

import (
	"alert_worker/core/port/out"
	"alert_worker/core/service/quarantine"

	"github.com/gofiber/fiber/v2"
)

// StatsHandler serves the pipeline dashboard counters.
type StatsHandler struct {
	incidents  out.IncidentRepository
	dlq        out.DLQRepository
	patterns   out.PatternRepository
	quarantine *quarantine.Service
	emails     out.RawEmailRepository
}

func NewStatsHandler(
	incidents out.IncidentRepository,
	dlq out.DLQRepository,
	patterns out.PatternRepository,
	q *quarantine.Service,
	emails out.RawEmailRepository,
) *StatsHandler {
	return &StatsHandler{
		incidents:  incidents,
		dlq:        dlq,
		patterns:   patterns,
		quarantine: q,
		emails:     emails,
	}
}

func (h *StatsHandler) Register(app fiber.Router) {
	app.Get("/stats", h.Stats)
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	ctx := c.Context()

	incidents, err := h.incidents.CountByStatus(ctx)
	if err != nil {
		return InternalErrorResponse(c, err, "incident stats")
	}

	dlqStats, err := h.dlq.Stats(ctx)
	if err != nil {
		return InternalErrorResponse(c, err, "dlq stats")
	}

	patternCount, err := h.patterns.Count(ctx)
	if err != nil {
		return InternalErrorResponse(c, err, "pattern stats")
	}

	quarantineStats, err := h.quarantine.Stats(ctx)
	if err != nil {
		return InternalErrorResponse(c, err, "quarantine stats")
	}

	cursors, err := h.emails.ListCursors(ctx)
	if err != nil {
		return InternalErrorResponse(c, err, "cursor stats")
	}

	folders := make([]fiber.Map, 0, len(cursors))
	for _, cur := range cursors {
		entry := fiber.Map{
			"folder":           cur.Folder,
			"last_uid":         cur.LastUID,
			"emails_processed": cur.EmailsProcessed,
			"error_count":      cur.ErrorCount,
		}
		if cur.LastPollAt != nil {
			entry["last_poll_at"] = cur.LastPollAt
		}
		if cur.LastError != "" {
			entry["last_error"] = cur.LastError
		}
		folders = append(folders, entry)
	}

	return SuccessResponse(c, fiber.Map{
		"incidents":     incidents,
		"dlq":           dlqStats,
		"learned_rules": patternCount,
		"quarantine":    quarantineStats,
		"folders":       folders,
	})
}
