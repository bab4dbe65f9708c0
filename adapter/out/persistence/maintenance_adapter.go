package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MaintenanceAdapter implements out.MaintenanceRepository.
type MaintenanceAdapter struct {
	db *sqlx.DB
}

func NewMaintenanceAdapter(db *sqlx.DB) *MaintenanceAdapter {
	return &MaintenanceAdapter{db: db}
}

const windowSelectColumns = `
	id, source, external_event_id, title, description, organizer,
	starts_at, ends_at, timezone, is_recurring, recurrence_rule,
	occurrence_of, expansion_horizon, scope, suppress_mode, is_active,
	raw_email_id, created_by, created_at, updated_at`

type windowRow struct {
	ID               uuid.UUID      `db:"id"`
	Source           string         `db:"source"`
	ExternalEventID  sql.NullString `db:"external_event_id"`
	Title            string         `db:"title"`
	Description      sql.NullString `db:"description"`
	Organizer        sql.NullString `db:"organizer"`
	StartsAt         time.Time      `db:"starts_at"`
	EndsAt           time.Time      `db:"ends_at"`
	Timezone         string         `db:"timezone"`
	IsRecurring      bool           `db:"is_recurring"`
	RecurrenceRule   sql.NullString `db:"recurrence_rule"`
	OccurrenceOf     uuid.NullUUID  `db:"occurrence_of"`
	ExpansionHorizon sql.NullTime   `db:"expansion_horizon"`
	Scope            []byte         `db:"scope"`
	SuppressMode     string         `db:"suppress_mode"`
	IsActive         bool           `db:"is_active"`
	RawEmailID       uuid.NullUUID  `db:"raw_email_id"`
	CreatedBy        sql.NullString `db:"created_by"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r *windowRow) toEntity() (*domain.MaintenanceWindow, error) {
	w := &domain.MaintenanceWindow{
		ID:              r.ID,
		Source:          domain.WindowSource(r.Source),
		ExternalEventID: r.ExternalEventID.String,
		Title:           r.Title,
		Description:     r.Description.String,
		Organizer:       r.Organizer.String,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt,
		Timezone:        r.Timezone,
		IsRecurring:     r.IsRecurring,
		RecurrenceRule:  r.RecurrenceRule.String,
		SuppressMode:    domain.SuppressMode(r.SuppressMode),
		IsActive:        r.IsActive,
		CreatedBy:       r.CreatedBy.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.OccurrenceOf.Valid {
		id := r.OccurrenceOf.UUID
		w.OccurrenceOf = &id
	}
	if r.ExpansionHorizon.Valid {
		t := r.ExpansionHorizon.Time
		w.ExpansionHorizon = &t
	}
	if r.RawEmailID.Valid {
		id := r.RawEmailID.UUID
		w.RawEmailID = &id
	}
	if err := scanJSON(r.Scope, &w.Scope); err != nil {
		return nil, err
	}
	return w, nil
}

// UpsertWindow inserts the window; an announcement carrying a known
// (source, external_event_id) updates the existing row instead.
func (a *MaintenanceAdapter) UpsertWindow(ctx context.Context, w *domain.MaintenanceWindow) (uuid.UUID, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	var occurrenceOf uuid.NullUUID
	if w.OccurrenceOf != nil {
		occurrenceOf = uuid.NullUUID{UUID: *w.OccurrenceOf, Valid: true}
	}
	var rawEmailID uuid.NullUUID
	if w.RawEmailID != nil {
		rawEmailID = uuid.NullUUID{UUID: *w.RawEmailID, Valid: true}
	}

	var id uuid.UUID
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO maintenance_windows (
			id, source, external_event_id, title, description, organizer,
			starts_at, ends_at, timezone, is_recurring, recurrence_rule,
			occurrence_of, expansion_horizon, scope, suppress_mode, is_active,
			raw_email_id, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (source, external_event_id) WHERE external_event_id IS NOT NULL
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			timezone = EXCLUDED.timezone,
			is_recurring = EXCLUDED.is_recurring,
			recurrence_rule = EXCLUDED.recurrence_rule,
			scope = EXCLUDED.scope,
			suppress_mode = EXCLUDED.suppress_mode,
			updated_at = NOW()
		RETURNING id`,
		w.ID, string(w.Source), nullStr(w.ExternalEventID), w.Title,
		nullStr(w.Description), nullStr(w.Organizer),
		w.StartsAt, w.EndsAt, w.Timezone, w.IsRecurring, nullStr(w.RecurrenceRule),
		occurrenceOf, nullTime(w.ExpansionHorizon), jsonbOf(w.Scope),
		string(w.SuppressMode), w.IsActive, rawEmailID, nullStr(w.CreatedBy),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert maintenance window: %w", err)
	}
	w.ID = id
	return id, nil
}

func (a *MaintenanceAdapter) CancelByExternalID(ctx context.Context, source domain.WindowSource, externalEventID string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE maintenance_windows
		SET is_active = false, updated_at = NOW()
		WHERE source = $1 AND external_event_id = $2`,
		string(source), externalEventID)
	if err != nil {
		return fmt.Errorf("cancel maintenance window: %w", err)
	}
	return nil
}

func (a *MaintenanceAdapter) DeleteOccurrences(ctx context.Context, parentID uuid.UUID) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM maintenance_windows WHERE occurrence_of = $1`, parentID)
	if err != nil {
		return fmt.Errorf("delete occurrences: %w", err)
	}
	return nil
}

func (a *MaintenanceAdapter) ActiveWindows(ctx context.Context, now time.Time) ([]*domain.MaintenanceWindow, error) {
	var rows []windowRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT `+windowSelectColumns+`
		FROM maintenance_windows
		WHERE is_active = true AND starts_at <= $1 AND ends_at >= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("active windows: %w", err)
	}

	out := make([]*domain.MaintenanceWindow, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (a *MaintenanceAdapter) CandidateIncidents(ctx context.Context) ([]*domain.Incident, error) {
	var rows []incidentRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT `+incidentSelectColumns+`
		FROM incidents
		WHERE status IN ('open', 'acknowledged')
		AND is_in_maintenance = false`)
	if err != nil {
		return nil, fmt.Errorf("candidate incidents: %w", err)
	}

	out := make([]*domain.Incident, 0, len(rows))
	for i := range rows {
		inc, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

func (a *MaintenanceAdapter) InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO maintenance_matches (maintenance_window_id, incident_id, match_reason)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		m.WindowID, m.IncidentID, jsonbOf(m.MatchReason))
	if err != nil {
		return fmt.Errorf("insert maintenance match: %w", err)
	}
	return nil
}

func (a *MaintenanceAdapter) MarkInMaintenance(ctx context.Context, incidentID, windowID uuid.UUID) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE incidents
		SET is_in_maintenance = true, maintenance_window_id = $2, updated_at = NOW()
		WHERE id = $1`,
		incidentID, windowID)
	if err != nil {
		return fmt.Errorf("mark in maintenance: %w", err)
	}
	return nil
}

func (a *MaintenanceAdapter) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE incidents i
		SET is_in_maintenance = false, maintenance_window_id = NULL, updated_at = NOW()
		WHERE is_in_maintenance = true
		AND NOT EXISTS (
			SELECT 1 FROM maintenance_windows mw
			WHERE mw.id = i.maintenance_window_id
			AND mw.is_active = true
			AND mw.starts_at <= $1
			AND mw.ends_at >= $1
		)`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired maintenance: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (a *MaintenanceAdapter) WindowForIncident(ctx context.Context, incidentID uuid.UUID) (*domain.MaintenanceWindow, error) {
	var row windowRow
	err := a.db.GetContext(ctx, &row, `
		SELECT `+windowSelectColumnsPrefixed("mw")+`
		FROM incidents i
		JOIN maintenance_windows mw ON mw.id = i.maintenance_window_id
		WHERE i.id = $1
		AND mw.is_active = true
		AND mw.starts_at <= NOW() AND mw.ends_at >= NOW()`, incidentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("window for incident: %w", err)
	}
	return row.toEntity()
}

func windowSelectColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.source, ` + alias + `.external_event_id, ` +
		alias + `.title, ` + alias + `.description, ` + alias + `.organizer, ` +
		alias + `.starts_at, ` + alias + `.ends_at, ` + alias + `.timezone, ` +
		alias + `.is_recurring, ` + alias + `.recurrence_rule, ` +
		alias + `.occurrence_of, ` + alias + `.expansion_horizon, ` +
		alias + `.scope, ` + alias + `.suppress_mode, ` + alias + `.is_active, ` +
		alias + `.raw_email_id, ` + alias + `.created_by, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
