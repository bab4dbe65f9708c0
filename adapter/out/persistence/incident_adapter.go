package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// IncidentAdapter implements out.IncidentRepository.
type IncidentAdapter struct {
	db *sqlx.DB
}

func NewIncidentAdapter(db *sqlx.DB) *IncidentAdapter {
	return &IncidentAdapter{db: db}
}

const incidentSelectColumns = `
	id, fingerprint_v2, fingerprint, title, source_tool, environment, region,
	host, check_name, service, severity_current, severity_max, last_state, status,
	first_seen_at, last_seen_at, last_state_change_at, event_count, flap_count,
	resolved_at, resolution_reason, is_in_maintenance, maintenance_window_id,
	enrichment, ai_enriched_at, tags, labels, created_at, updated_at`

type incidentRow struct {
	ID                  uuid.UUID      `db:"id"`
	FingerprintV2       string         `db:"fingerprint_v2"`
	Fingerprint         sql.NullString `db:"fingerprint"`
	Title               string         `db:"title"`
	SourceTool          sql.NullString `db:"source_tool"`
	Environment         sql.NullString `db:"environment"`
	Region              sql.NullString `db:"region"`
	Host                sql.NullString `db:"host"`
	CheckName           sql.NullString `db:"check_name"`
	Service             sql.NullString `db:"service"`
	SeverityCurrent     string         `db:"severity_current"`
	SeverityMax         string         `db:"severity_max"`
	LastState           sql.NullString `db:"last_state"`
	Status              string         `db:"status"`
	FirstSeenAt         time.Time      `db:"first_seen_at"`
	LastSeenAt          time.Time      `db:"last_seen_at"`
	LastStateChangeAt   time.Time      `db:"last_state_change_at"`
	EventCount          int            `db:"event_count"`
	FlapCount           int            `db:"flap_count"`
	ResolvedAt          sql.NullTime   `db:"resolved_at"`
	ResolutionReason    sql.NullString `db:"resolution_reason"`
	IsInMaintenance     bool           `db:"is_in_maintenance"`
	MaintenanceWindowID uuid.NullUUID  `db:"maintenance_window_id"`
	Enrichment          []byte         `db:"enrichment"`
	AIEnrichedAt        sql.NullTime   `db:"ai_enriched_at"`
	Tags                pq.StringArray `db:"tags"`
	Labels              []byte         `db:"labels"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r *incidentRow) toEntity() (*domain.Incident, error) {
	inc := &domain.Incident{
		ID:                r.ID,
		FingerprintV2:     r.FingerprintV2,
		Fingerprint:       r.Fingerprint.String,
		Title:             r.Title,
		SourceTool:        r.SourceTool.String,
		Environment:       r.Environment.String,
		Region:            r.Region.String,
		Host:              r.Host.String,
		CheckName:         r.CheckName.String,
		Service:           r.Service.String,
		SeverityCurrent:   domain.Severity(r.SeverityCurrent),
		SeverityMax:       domain.Severity(r.SeverityMax),
		LastState:         domain.State(r.LastState.String),
		Status:            domain.IncidentStatus(r.Status),
		FirstSeenAt:       r.FirstSeenAt,
		LastSeenAt:        r.LastSeenAt,
		LastStateChangeAt: r.LastStateChangeAt,
		EventCount:        r.EventCount,
		FlapCount:         r.FlapCount,
		IsInMaintenance:   r.IsInMaintenance,
		Tags:              r.Tags,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		inc.ResolvedAt = &t
	}
	if r.ResolutionReason.Valid {
		reason := domain.ResolutionReason(r.ResolutionReason.String)
		inc.ResolutionReason = &reason
	}
	if r.MaintenanceWindowID.Valid {
		id := r.MaintenanceWindowID.UUID
		inc.MaintenanceWindowID = &id
	}
	if len(r.Enrichment) > 0 {
		var e domain.Enrichment
		if err := scanJSON(r.Enrichment, &e); err != nil {
			return nil, err
		}
		if r.AIEnrichedAt.Valid {
			t := r.AIEnrichedAt.Time
			e.EnrichedAt = &t
		}
		inc.Enrichment = &e
	}
	if err := scanJSON(r.Labels, &inc.Labels); err != nil {
		return nil, err
	}
	return inc, nil
}

// correlationTx implements out.CorrelationTx over one sqlx transaction.
type correlationTx struct {
	tx *sqlx.Tx
}

// LockFingerprint holds pg_advisory_xact_lock until the transaction
// ends, so two first events for the same fresh fingerprint cannot both
// reach the create path.
func (t *correlationTx) LockFingerprint(ctx context.Context, fingerprint string) error {
	_, err := t.tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, fingerprint)
	if err != nil {
		return fmt.Errorf("lock fingerprint: %w", err)
	}
	return nil
}

func (t *correlationTx) InsertEvent(ctx context.Context, ev *domain.AlertEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	var rawEmailID uuid.NullUUID
	if ev.RawEmailID != nil {
		rawEmailID = uuid.NullUUID{UUID: *ev.RawEmailID, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO alert_events (
			id, raw_email_id, source_tool, environment, region, host, check_name, service,
			severity, state, occurred_at, normalized_signature, fingerprint, fingerprint_v2,
			payload, tags
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		ev.ID, rawEmailID, ev.SourceTool,
		nullStr(ev.Environment), nullStr(ev.Region), nullStr(ev.Host),
		nullStr(ev.CheckName), nullStr(ev.Service),
		string(ev.Severity), string(ev.State), ev.OccurredAt,
		ev.NormalizedSignature, ev.Fingerprint, ev.FingerprintV2,
		jsonbOf(ev.Payload), pq.StringArray(ev.Tags))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *correlationTx) LockOpenIncident(ctx context.Context, fpV2, fpV1 string) (*domain.Incident, error) {
	var row incidentRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+incidentSelectColumns+`
		FROM incidents
		WHERE fingerprint_v2 = $1
		AND status IN ('open', 'acknowledged', 'resolving')
		FOR UPDATE`, fpV2)
	if err == sql.ErrNoRows && fpV1 != "" {
		err = t.tx.GetContext(ctx, &row, `
			SELECT `+incidentSelectColumns+`
			FROM incidents
			WHERE fingerprint = $1
			AND status IN ('open', 'acknowledged', 'resolving')
			FOR UPDATE`, fpV1)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	return row.toEntity()
}

func (t *correlationTx) HasRecentEventWithState(ctx context.Context, incidentID uuid.UUID, state domain.State, since time.Time) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM incident_events ie
			JOIN alert_events ae ON ae.id = ie.alert_event_id
			WHERE ie.incident_id = $1
			AND ae.state = $2
			AND ae.occurred_at >= $3
		)`, incidentID, string(state), since)
	if err != nil {
		return false, fmt.Errorf("check recent events: %w", err)
	}
	return exists, nil
}

func (t *correlationTx) LastFiringAt(ctx context.Context, incidentID uuid.UUID) (*time.Time, error) {
	var at sql.NullTime
	err := t.tx.GetContext(ctx, &at, `
		SELECT MAX(ae.occurred_at)
		FROM incident_events ie
		JOIN alert_events ae ON ae.id = ie.alert_event_id
		WHERE ie.incident_id = $1 AND ae.state = 'firing'`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("last firing: %w", err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

func (t *correlationTx) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	var reason sql.NullString
	if inc.ResolutionReason != nil {
		reason = nullStr(string(*inc.ResolutionReason))
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE incidents SET
			severity_current = $2, severity_max = $3, last_state = $4, status = $5,
			last_seen_at = $6, last_state_change_at = $7, event_count = $8, flap_count = $9,
			resolved_at = $10, resolution_reason = $11, updated_at = NOW()
		WHERE id = $1`,
		inc.ID, string(inc.SeverityCurrent), string(inc.SeverityMax),
		string(inc.LastState), string(inc.Status),
		inc.LastSeenAt, inc.LastStateChangeAt, inc.EventCount, inc.FlapCount,
		nullTime(inc.ResolvedAt), reason)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

func (t *correlationTx) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO incidents (
			id, fingerprint_v2, fingerprint, title, source_tool, environment, region,
			host, check_name, service, severity_current, severity_max, last_state, status,
			first_seen_at, last_seen_at, last_state_change_at, event_count, flap_count, tags
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		inc.ID, inc.FingerprintV2, nullStr(inc.Fingerprint), inc.Title,
		nullStr(inc.SourceTool), nullStr(inc.Environment), nullStr(inc.Region),
		nullStr(inc.Host), nullStr(inc.CheckName), nullStr(inc.Service),
		string(inc.SeverityCurrent), string(inc.SeverityMax),
		string(inc.LastState), string(inc.Status),
		inc.FirstSeenAt, inc.LastSeenAt, inc.LastStateChangeAt,
		inc.EventCount, inc.FlapCount, pq.StringArray(inc.Tags))
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

func (t *correlationTx) LinkEvent(ctx context.Context, incidentID, eventID uuid.UUID, deduplicated bool) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO incident_events (incident_id, alert_event_id, is_deduplicated)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		incidentID, eventID, deduplicated)
	if err != nil {
		return fmt.Errorf("link event: %w", err)
	}
	return nil
}

func (t *correlationTx) FindRecentlyResolved(ctx context.Context, fpV2 string, since time.Time) (*domain.Incident, error) {
	var row incidentRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+incidentSelectColumns+`
		FROM incidents
		WHERE fingerprint_v2 = $1
		AND status = 'resolved'
		AND resolved_at >= $2
		ORDER BY resolved_at DESC
		LIMIT 1
		FOR UPDATE`, fpV2, since)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recently resolved: %w", err)
	}
	return row.toEntity()
}

// WithTx runs fn inside one transaction, rolling back on error.
func (a *IncidentAdapter) WithTx(ctx context.Context, fn func(tx out.CorrelationTx) error) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&correlationTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (a *IncidentAdapter) GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	var row incidentRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+incidentSelectColumns+` FROM incidents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return row.toEntity()
}

func (a *IncidentAdapter) AutoResolveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE incidents SET
			status = 'resolved',
			resolved_at = NOW(),
			resolution_reason = 'stale',
			last_state_change_at = NOW(),
			updated_at = NOW()
		WHERE status IN ('open', 'acknowledged', 'resolving')
		AND last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("auto resolve stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResolveQuiet closes resolving incidents whose last firing event has
// aged past the quiet period, for streams where the final resolution
// email never arrives.
func (a *IncidentAdapter) ResolveQuiet(ctx context.Context, quietPeriod time.Duration) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE incidents i SET
			status = 'resolved',
			resolved_at = NOW(),
			resolution_reason = 'explicit_clear',
			last_state_change_at = NOW(),
			updated_at = NOW()
		WHERE i.status = 'resolving'
		AND NOT EXISTS (
			SELECT 1 FROM incident_events ie
			JOIN alert_events ae ON ae.id = ie.alert_event_id
			WHERE ie.incident_id = i.id
			AND ae.state = 'firing'
			AND ae.occurred_at >= NOW() - $1::interval
		)`, fmt.Sprintf("%d seconds", int(quietPeriod.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("resolve quiet: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// IncidentsForEnrichment selects incidents that have never been enriched,
// hot incidents enriched over an hour ago, and anything enriched over a
// day ago, most severe and most recently active first.
func (a *IncidentAdapter) IncidentsForEnrichment(ctx context.Context, limit int) ([]*domain.Incident, error) {
	var rows []incidentRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT `+incidentSelectColumns+`
		FROM incidents
		WHERE status IN ('open', 'acknowledged', 'resolving')
		AND (
			ai_enriched_at IS NULL
			OR (severity_current IN ('critical', 'high') AND ai_enriched_at < NOW() - INTERVAL '1 hour')
			OR ai_enriched_at < NOW() - INTERVAL '24 hours'
		)
		ORDER BY
			CASE severity_current
				WHEN 'critical' THEN 4
				WHEN 'high' THEN 3
				WHEN 'medium' THEN 2
				WHEN 'low' THEN 1
				ELSE 0
			END DESC,
			last_seen_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("incidents for enrichment: %w", err)
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

type eventRow struct {
	ID                  uuid.UUID      `db:"id"`
	RawEmailID          uuid.NullUUID  `db:"raw_email_id"`
	SourceTool          string         `db:"source_tool"`
	Environment         sql.NullString `db:"environment"`
	Region              sql.NullString `db:"region"`
	Host                sql.NullString `db:"host"`
	CheckName           sql.NullString `db:"check_name"`
	Service             sql.NullString `db:"service"`
	Severity            string         `db:"severity"`
	State               string         `db:"state"`
	OccurredAt          time.Time      `db:"occurred_at"`
	NormalizedSignature string         `db:"normalized_signature"`
	Fingerprint         string         `db:"fingerprint"`
	FingerprintV2       string         `db:"fingerprint_v2"`
	Payload             []byte         `db:"payload"`
	Tags                pq.StringArray `db:"tags"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (r *eventRow) toEntity() (*domain.AlertEvent, error) {
	ev := &domain.AlertEvent{
		ID:                  r.ID,
		SourceTool:          r.SourceTool,
		Environment:         r.Environment.String,
		Region:              r.Region.String,
		Host:                r.Host.String,
		CheckName:           r.CheckName.String,
		Service:             r.Service.String,
		Severity:            domain.Severity(r.Severity),
		State:               domain.State(r.State),
		OccurredAt:          r.OccurredAt,
		NormalizedSignature: r.NormalizedSignature,
		Fingerprint:         r.Fingerprint,
		FingerprintV2:       r.FingerprintV2,
		Tags:                r.Tags,
		CreatedAt:           r.CreatedAt,
	}
	if r.RawEmailID.Valid {
		id := r.RawEmailID.UUID
		ev.RawEmailID = &id
	}
	if err := scanJSON(r.Payload, &ev.Payload); err != nil {
		return nil, err
	}
	return ev, nil
}

func (a *IncidentAdapter) RecentEvents(ctx context.Context, incidentID uuid.UUID, limit int) ([]*domain.AlertEvent, error) {
	var rows []eventRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT ae.id, ae.raw_email_id, ae.source_tool, ae.environment, ae.region,
		       ae.host, ae.check_name, ae.service, ae.severity, ae.state, ae.occurred_at,
		       ae.normalized_signature, ae.fingerprint, ae.fingerprint_v2, ae.payload,
		       ae.tags, ae.created_at
		FROM incident_events ie
		JOIN alert_events ae ON ae.id = ie.alert_event_id
		WHERE ie.incident_id = $1
		ORDER BY ae.occurred_at DESC
		LIMIT $2`, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	out := make([]*domain.AlertEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (a *IncidentAdapter) SaveEnrichment(ctx context.Context, incidentID uuid.UUID, e *domain.Enrichment) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE incidents SET
			enrichment = $2,
			ai_enriched_at = $3,
			updated_at = NOW()
		WHERE id = $1`,
		incidentID, jsonbOf(e), nullTime(e.EnrichedAt))
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

func (a *IncidentAdapter) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := a.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
