package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alert_worker/core/domain"

	"github.com/jmoiron/sqlx"
)

// ConfigVersionAdapter implements out.ConfigVersionRepository.
type ConfigVersionAdapter struct {
	db *sqlx.DB
}

func NewConfigVersionAdapter(db *sqlx.DB) *ConfigVersionAdapter {
	return &ConfigVersionAdapter{db: db}
}

type configVersionRow struct {
	ID            int64          `db:"id"`
	ConfigType    string         `db:"config_type"`
	ConfigHash    string         `db:"config_hash"`
	ConfigData    []byte         `db:"config_data"`
	CreatedBy     sql.NullString `db:"created_by"`
	Notes         sql.NullString `db:"notes"`
	IsActive      bool           `db:"is_active"`
	ActivatedAt   sql.NullTime   `db:"activated_at"`
	DeactivatedAt sql.NullTime   `db:"deactivated_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r *configVersionRow) toEntity() (*domain.ConfigVersion, error) {
	v := &domain.ConfigVersion{
		ID:         r.ID,
		ConfigType: r.ConfigType,
		ConfigHash: r.ConfigHash,
		CreatedBy:  r.CreatedBy.String,
		Notes:      r.Notes.String,
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt,
	}
	if r.ActivatedAt.Valid {
		t := r.ActivatedAt.Time
		v.ActivatedAt = &t
	}
	if r.DeactivatedAt.Valid {
		t := r.DeactivatedAt.Time
		v.DeactivatedAt = &t
	}
	if err := scanJSON(r.ConfigData, &v.ConfigData); err != nil {
		return nil, err
	}
	return v, nil
}

const configVersionColumns = `
	id, config_type, config_hash, config_data, created_by, notes,
	is_active, activated_at, deactivated_at, created_at`

func (a *ConfigVersionAdapter) FindByHash(ctx context.Context, configType, hash string) (*domain.ConfigVersion, error) {
	var row configVersionRow
	err := a.db.GetContext(ctx, &row, `
		SELECT `+configVersionColumns+`
		FROM config_versions
		WHERE config_type = $1 AND config_hash = $2`, configType, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find config version: %w", err)
	}
	return row.toEntity()
}

func (a *ConfigVersionAdapter) Insert(ctx context.Context, v *domain.ConfigVersion) (int64, error) {
	var id int64
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO config_versions (config_type, config_hash, config_data, created_by, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		v.ConfigType, v.ConfigHash, jsonbOf(v.ConfigData),
		nullStr(v.CreatedBy), nullStr(v.Notes),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert config version: %w", err)
	}
	v.ID = id
	return id, nil
}

func (a *ConfigVersionAdapter) Get(ctx context.Context, id int64) (*domain.ConfigVersion, error) {
	var row configVersionRow
	err := a.db.GetContext(ctx, &row, `
		SELECT `+configVersionColumns+`
		FROM config_versions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config version: %w", err)
	}
	return row.toEntity()
}

// Activate deactivates the current active version and activates the
// given one in a single transaction, keeping the one-active invariant.
func (a *ConfigVersionAdapter) Activate(ctx context.Context, configType string, id int64) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE config_versions
		SET is_active = false, deactivated_at = NOW()
		WHERE config_type = $1 AND is_active = true AND id <> $2`,
		configType, id); err != nil {
		return fmt.Errorf("deactivate config versions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE config_versions
		SET is_active = true, activated_at = NOW(), deactivated_at = NULL
		WHERE config_type = $1 AND id = $2`,
		configType, id)
	if err != nil {
		return fmt.Errorf("activate config version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("config version %d not found for type %s", id, configType)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (a *ConfigVersionAdapter) ActiveConfig(ctx context.Context, configType string) (*domain.ConfigVersion, error) {
	var row configVersionRow
	err := a.db.GetContext(ctx, &row, `
		SELECT `+configVersionColumns+`
		FROM config_versions
		WHERE config_type = $1 AND is_active = true`, configType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active config: %w", err)
	}
	return row.toEntity()
}

func (a *ConfigVersionAdapter) History(ctx context.Context, configType string, limit int) ([]*domain.ConfigVersionSummary, error) {
	var rows []configVersionRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT `+configVersionColumns+`
		FROM config_versions
		WHERE config_type = $1
		ORDER BY created_at DESC
		LIMIT $2`, configType, limit)
	if err != nil {
		return nil, fmt.Errorf("config history: %w", err)
	}

	out := make([]*domain.ConfigVersionSummary, 0, len(rows))
	for i := range rows {
		s := &domain.ConfigVersionSummary{
			ID:        rows[i].ID,
			Hash:      rows[i].ConfigHash,
			CreatedAt: rows[i].CreatedAt,
			CreatedBy: rows[i].CreatedBy.String,
			Notes:     rows[i].Notes.String,
			IsActive:  rows[i].IsActive,
		}
		if rows[i].ActivatedAt.Valid {
			t := rows[i].ActivatedAt.Time
			s.ActivatedAt = &t
		}
		out = append(out, s)
	}
	return out, nil
}
