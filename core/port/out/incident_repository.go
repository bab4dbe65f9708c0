package out

import (
	"context"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
)

// CorrelationTx is the set of row operations available inside one
// correlate-and-write transaction. The open-ish incident row lock is held
// for the duration, serializing concurrent events per fingerprint.
type CorrelationTx interface {
	// LockFingerprint takes a transaction-scoped advisory lock on the
	// fingerprint, serializing concurrent first events that have no
	// incident row to FOR UPDATE yet.
	LockFingerprint(ctx context.Context, fingerprint string) error

	InsertEvent(ctx context.Context, event *domain.AlertEvent) error

	// LockOpenIncident SELECT ... FOR UPDATEs the unique incident in
	// {open, acknowledged, resolving} matching fpV2, falling back to the
	// legacy fpV1. Returns nil when none exists.
	LockOpenIncident(ctx context.Context, fpV2, fpV1 string) (*domain.Incident, error)

	// HasRecentEventWithState reports whether any event linked to the
	// incident since the given instant carries the same state.
	HasRecentEventWithState(ctx context.Context, incidentID uuid.UUID, state domain.State, since time.Time) (bool, error)

	// LastFiringAt returns the occurred_at of the most recent firing event
	// linked to the incident, or nil.
	LastFiringAt(ctx context.Context, incidentID uuid.UUID) (*time.Time, error)

	UpdateIncident(ctx context.Context, incident *domain.Incident) error
	CreateIncident(ctx context.Context, incident *domain.Incident) error

	// LinkEvent inserts the (incident, event) relation with
	// ON CONFLICT DO NOTHING.
	LinkEvent(ctx context.Context, incidentID, eventID uuid.UUID, deduplicated bool) error

	// FindRecentlyResolved returns a resolved incident for the fingerprint
	// whose resolved_at is after the given instant, or nil.
	FindRecentlyResolved(ctx context.Context, fpV2 string, since time.Time) (*domain.Incident, error)
}

// IncidentRepository persists incidents and runs the correlation
// transaction.
type IncidentRepository interface {
	// WithTx runs fn inside a single database transaction.
	WithTx(ctx context.Context, fn func(tx CorrelationTx) error) error

	GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error)

	// AutoResolveStale resolves every open-ish incident whose last_seen_at
	// predates the cutoff, with reason stale. Returns rows updated.
	AutoResolveStale(ctx context.Context, cutoff time.Time) (int64, error)

	// ResolveQuiet resolves incidents stuck in resolving whose last firing
	// event predates the quiet-period cutoff, with reason explicit_clear.
	ResolveQuiet(ctx context.Context, quietPeriod time.Duration) (int64, error)

	// IncidentsForEnrichment returns up to limit incidents needing
	// enrichment, ordered by severity rank then last_seen_at descending.
	IncidentsForEnrichment(ctx context.Context, limit int) ([]*domain.Incident, error)

	// RecentEvents returns up to limit most recent events linked to the
	// incident.
	RecentEvents(ctx context.Context, incidentID uuid.UUID, limit int) ([]*domain.AlertEvent, error)

	SaveEnrichment(ctx context.Context, incidentID uuid.UUID, e *domain.Enrichment) error

	CountByStatus(ctx context.Context) (map[string]int64, error)
}
