package out

import (
	"context"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
)

// MaintenanceRepository persists maintenance windows and their matches.
type MaintenanceRepository interface {
	// UpsertWindow inserts the window, replacing an existing row with the
	// same (source, external_event_id) when present.
	UpsertWindow(ctx context.Context, w *domain.MaintenanceWindow) (uuid.UUID, error)

	// CancelByExternalID deactivates the window announced with the given
	// external event id (ICS STATUS:CANCELLED).
	CancelByExternalID(ctx context.Context, source domain.WindowSource, externalEventID string) error

	// DeleteOccurrences removes previously expanded occurrences of a
	// recurring window so expansion can be recomputed.
	DeleteOccurrences(ctx context.Context, parentID uuid.UUID) error

	// ActiveWindows returns windows covering the given instant.
	ActiveWindows(ctx context.Context, now time.Time) ([]*domain.MaintenanceWindow, error)

	// CandidateIncidents returns incidents in {open, acknowledged} with
	// is_in_maintenance = false.
	CandidateIncidents(ctx context.Context) ([]*domain.Incident, error)

	// InsertMatch records a match, unique per (window, incident).
	InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error

	// MarkInMaintenance sets the incident flag and window reference.
	MarkInMaintenance(ctx context.Context, incidentID, windowID uuid.UUID) error

	// ClearExpired clears is_in_maintenance on incidents no active window
	// references anymore. Returns rows cleared.
	ClearExpired(ctx context.Context, now time.Time) (int64, error)

	// WindowForIncident returns the active window currently suppressing
	// the incident, or nil.
	WindowForIncident(ctx context.Context, incidentID uuid.UUID) (*domain.MaintenanceWindow, error)
}
