package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PatternAdapter implements out.PatternRepository.
type PatternAdapter struct {
	db *sqlx.DB
}

func NewPatternAdapter(db *sqlx.DB) *PatternAdapter {
	return &PatternAdapter{db: db}
}

type patternRow struct {
	ID               int64          `db:"id"`
	SignatureHash    string         `db:"signature_hash"`
	FromDomain       string         `db:"from_domain"`
	SubjectPrefix    string         `db:"subject_prefix"`
	BodyMarkers      pq.StringArray `db:"body_markers"`
	SourceName       string         `db:"source_name"`
	SourceTool       string         `db:"source_tool"`
	ExtractionRules  []byte         `db:"extraction_rules"`
	MatchCount       int64          `db:"match_count"`
	LastMatchedAt    sql.NullTime   `db:"last_matched_at"`
	CreatedFromEmail uuid.NullUUID  `db:"created_from_email"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *patternRow) toEntity() (*domain.PatternCache, error) {
	p := &domain.PatternCache{
		ID:            r.ID,
		SignatureHash: r.SignatureHash,
		FromDomain:    r.FromDomain,
		SubjectPrefix: r.SubjectPrefix,
		BodyMarkers:   r.BodyMarkers,
		SourceName:    r.SourceName,
		SourceTool:    r.SourceTool,
		MatchCount:    r.MatchCount,
		CreatedAt:     r.CreatedAt,
	}
	if r.LastMatchedAt.Valid {
		t := r.LastMatchedAt.Time
		p.LastMatchedAt = &t
	}
	if r.CreatedFromEmail.Valid {
		id := r.CreatedFromEmail.UUID
		p.CreatedFromEmail = &id
	}
	if err := scanJSON(r.ExtractionRules, &p.ExtractionRules); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *PatternAdapter) FindBySignature(ctx context.Context, signatureHash string) (*domain.PatternCache, error) {
	var row patternRow
	err := a.db.GetContext(ctx, &row, `
		SELECT id, signature_hash, from_domain, subject_prefix, body_markers,
		       source_name, source_tool, extraction_rules, match_count,
		       last_matched_at, created_from_email, created_at
		FROM pattern_cache WHERE signature_hash = $1`, signatureHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pattern: %w", err)
	}
	return row.toEntity()
}

func (a *PatternAdapter) Upsert(ctx context.Context, p *domain.PatternCache) error {
	var createdFrom uuid.NullUUID
	if p.CreatedFromEmail != nil {
		createdFrom = uuid.NullUUID{UUID: *p.CreatedFromEmail, Valid: true}
	}
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO pattern_cache (
			signature_hash, from_domain, subject_prefix, body_markers,
			source_name, source_tool, extraction_rules, match_count,
			last_matched_at, created_from_email
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, NOW(), $8)
		ON CONFLICT (signature_hash) DO UPDATE SET
			match_count = pattern_cache.match_count + 1,
			last_matched_at = NOW()
		RETURNING id, match_count`,
		p.SignatureHash, p.FromDomain, p.SubjectPrefix,
		pq.StringArray(p.BodyMarkers), p.SourceName, p.SourceTool,
		jsonbOf(p.ExtractionRules), createdFrom,
	).Scan(&p.ID, &p.MatchCount)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

func (a *PatternAdapter) TouchMatch(ctx context.Context, signatureHash string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE pattern_cache
		SET match_count = match_count + 1, last_matched_at = NOW()
		WHERE signature_hash = $1`, signatureHash)
	if err != nil {
		return fmt.Errorf("touch pattern: %w", err)
	}
	return nil
}

func (a *PatternAdapter) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pattern_cache`); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

func (a *PatternAdapter) LogExtraction(ctx context.Context, entry *domain.ExtractionLog) error {
	var patternID sql.NullInt64
	if entry.PatternID != nil {
		patternID = sql.NullInt64{Int64: *entry.PatternID, Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO extraction_logs (
			raw_email_id, pattern_id, extraction_type, extracted,
			confidence, llm_response, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RawEmailID, patternID, nullStr(entry.ExtractionType),
		jsonbOf(entry.Extracted), entry.Confidence,
		nullStr(entry.LLMResponse), entry.DurationMS)
	if err != nil {
		return fmt.Errorf("log extraction: %w", err)
	}
	return nil
}

// QuarantineAdapter implements out.QuarantineRepository.
type QuarantineAdapter struct {
	db *sqlx.DB
}

func NewQuarantineAdapter(db *sqlx.DB) *QuarantineAdapter {
	return &QuarantineAdapter{db: db}
}

type quarantineRow struct {
	ID             int64          `db:"id"`
	RawEmailID     uuid.UUID      `db:"raw_email_id"`
	ExtractionData []byte         `db:"extraction_data"`
	Confidence     float64        `db:"confidence"`
	Reason         string         `db:"quarantine_reason"`
	ReviewedAt     sql.NullTime   `db:"reviewed_at"`
	ReviewedBy     sql.NullString `db:"reviewed_by"`
	ActionTaken    sql.NullString `db:"action_taken"`
	EditedData     []byte         `db:"edited_data"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *quarantineRow) toEntity() (*domain.QuarantineEvent, error) {
	q := &domain.QuarantineEvent{
		ID:         r.ID,
		RawEmailID: r.RawEmailID,
		Confidence: r.Confidence,
		Reason:     domain.QuarantineReason(r.Reason),
		ReviewedBy: r.ReviewedBy.String,
		CreatedAt:  r.CreatedAt,
	}
	if r.ReviewedAt.Valid {
		t := r.ReviewedAt.Time
		q.ReviewedAt = &t
	}
	if r.ActionTaken.Valid {
		action := domain.QuarantineAction(r.ActionTaken.String)
		q.ActionTaken = &action
	}
	if err := scanJSON(r.ExtractionData, &q.ExtractionData); err != nil {
		return nil, err
	}
	if err := scanJSON(r.EditedData, &q.EditedData); err != nil {
		return nil, err
	}
	return q, nil
}

func (a *QuarantineAdapter) Insert(ctx context.Context, q *domain.QuarantineEvent) (int64, error) {
	var id int64
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO quarantine_events (raw_email_id, extraction_data, confidence, quarantine_reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		q.RawEmailID, jsonbOf(q.ExtractionData), q.Confidence, string(q.Reason),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quarantine event: %w", err)
	}
	q.ID = id
	return id, nil
}

func (a *QuarantineAdapter) HasPendingForEmail(ctx context.Context, emailID uuid.UUID) (bool, error) {
	var exists bool
	err := a.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM quarantine_events
			WHERE raw_email_id = $1 AND reviewed_at IS NULL
		)`, emailID)
	if err != nil {
		return false, fmt.Errorf("check pending quarantine: %w", err)
	}
	return exists, nil
}

func (a *QuarantineAdapter) Get(ctx context.Context, id int64) (*domain.QuarantineEvent, error) {
	var row quarantineRow
	err := a.db.GetContext(ctx, &row, `
		SELECT id, raw_email_id, extraction_data, confidence, quarantine_reason,
		       reviewed_at, reviewed_by, action_taken, edited_data, created_at
		FROM quarantine_events WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quarantine event: %w", err)
	}
	return row.toEntity()
}

func (a *QuarantineAdapter) ListPending(ctx context.Context, limit int) ([]*domain.QuarantineEvent, error) {
	var rows []quarantineRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, raw_email_id, extraction_data, confidence, quarantine_reason,
		       reviewed_at, reviewed_by, action_taken, edited_data, created_at
		FROM quarantine_events
		WHERE reviewed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending quarantine: %w", err)
	}

	out := make([]*domain.QuarantineEvent, 0, len(rows))
	for i := range rows {
		q, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (a *QuarantineAdapter) Review(ctx context.Context, id int64, action domain.QuarantineAction, reviewedBy string, editedData map[string]any) (uuid.UUID, error) {
	var emailID uuid.UUID
	err := a.db.QueryRowxContext(ctx, `
		UPDATE quarantine_events
		SET reviewed_at = NOW(), reviewed_by = $2, action_taken = $3, edited_data = $4
		WHERE id = $1
		RETURNING raw_email_id`,
		id, reviewedBy, string(action), jsonbOf(editedData),
	).Scan(&emailID)
	if err == sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("quarantine event %d not found", id)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("review quarantine event: %w", err)
	}
	return emailID, nil
}

func (a *QuarantineAdapter) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT quarantine_reason, COUNT(*)
		FROM quarantine_events
		WHERE reviewed_at IS NULL
		GROUP BY quarantine_reason`)
	if err != nil {
		return nil, fmt.Errorf("quarantine stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		stats[reason] = count
	}
	return stats, rows.Err()
}
