package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alert_worker/core/domain"

	"github.com/jmoiron/sqlx"
)

// IdempotencyAdapter implements out.IdempotencyRepository.
type IdempotencyAdapter struct {
	db *sqlx.DB
}

func NewIdempotencyAdapter(db *sqlx.DB) *IdempotencyAdapter {
	return &IdempotencyAdapter{db: db}
}

type idempotencyRow struct {
	Key       string    `db:"key"`
	Status    string    `db:"status"`
	Result    []byte    `db:"result"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TryAcquire inserts the key in processing; nil means this worker won.
// An existing failed key is reclaimed (flipped back to processing) so
// the operation runs again; processing and completed rows are returned
// to the caller as-is.
func (a *IdempotencyAdapter) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*domain.IdempotencyKey, error) {
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, status, expires_at)
		VALUES ($1, 'processing', NOW() + $2::interval)
		ON CONFLICT (key) DO NOTHING`,
		key, fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil, nil
	}

	var row idempotencyRow
	err = a.db.GetContext(ctx, &row, `
		SELECT key, status, result, expires_at, created_at, updated_at
		FROM idempotency_keys WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}

	if row.Status == string(domain.IdempotencyFailed) {
		reclaim, err := a.db.ExecContext(ctx, `
			UPDATE idempotency_keys
			SET status = 'processing', updated_at = NOW()
			WHERE key = $1 AND status = 'failed'`, key)
		if err != nil {
			return nil, fmt.Errorf("reclaim idempotency key: %w", err)
		}
		if n, _ := reclaim.RowsAffected(); n == 1 {
			return nil, nil
		}
		// Lost the reclaim race; fall through with the stale row so the
		// caller skips.
		row.Status = string(domain.IdempotencyProcessing)
	}

	return &domain.IdempotencyKey{
		Key:       row.Key,
		Status:    domain.IdempotencyStatus(row.Status),
		Result:    row.Result,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (a *IdempotencyAdapter) Complete(ctx context.Context, key string, result []byte) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'completed', result = $2, updated_at = NOW()
		WHERE key = $1`, key, result)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (a *IdempotencyAdapter) Fail(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'failed', updated_at = NOW()
		WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("fail idempotency key: %w", err)
	}
	return nil
}

func (a *IdempotencyAdapter) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("prune idempotency keys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DLQAdapter implements out.DLQRepository.
type DLQAdapter struct {
	db *sqlx.DB
}

func NewDLQAdapter(db *sqlx.DB) *DLQAdapter {
	return &DLQAdapter{db: db}
}

type dlqRow struct {
	ID           int64          `db:"id"`
	EventType    string         `db:"event_type"`
	Payload      []byte         `db:"payload"`
	ErrorMessage sql.NullString `db:"error_message"`
	Traceback    sql.NullString `db:"traceback"`
	RetryCount   int            `db:"retry_count"`
	MaxRetries   int            `db:"max_retries"`
	NextRetryAt  sql.NullTime   `db:"next_retry_at"`
	Status       string         `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r *dlqRow) toEntity() (*domain.DLQItem, error) {
	item := &domain.DLQItem{
		ID:           r.ID,
		EventType:    r.EventType,
		ErrorMessage: r.ErrorMessage.String,
		Traceback:    r.Traceback.String,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		Status:       domain.DLQStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.NextRetryAt.Valid {
		t := r.NextRetryAt.Time
		item.NextRetryAt = &t
	}
	if err := scanJSON(r.Payload, &item.Payload); err != nil {
		return nil, err
	}
	return item, nil
}

func (a *DLQAdapter) Enqueue(ctx context.Context, item *domain.DLQItem) (int64, error) {
	var id int64
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO dead_letter_queue (
			event_type, payload, error_message, traceback,
			max_retries, next_retry_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING id`,
		item.EventType, jsonbOf(item.Payload),
		nullStr(item.ErrorMessage), nullStr(item.Traceback),
		item.MaxRetries, nullTime(item.NextRetryAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue dlq item: %w", err)
	}
	item.ID = id
	return id, nil
}

// ClaimForRetry moves due pending items to retrying under SKIP LOCKED so
// concurrent schedulers never claim the same item.
func (a *DLQAdapter) ClaimForRetry(ctx context.Context, limit int, now time.Time) ([]*domain.DLQItem, error) {
	var rows []dlqRow
	err := a.db.SelectContext(ctx, &rows, `
		UPDATE dead_letter_queue
		SET status = 'retrying', retry_count = retry_count + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM dead_letter_queue
			WHERE status = 'pending' AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, payload, error_message, traceback,
		          retry_count, max_retries, next_retry_at, status,
		          created_at, updated_at`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim dlq items: %w", err)
	}

	out := make([]*domain.DLQItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (a *DLQAdapter) MarkResolved(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE dead_letter_queue
		SET status = 'resolved', updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve dlq item: %w", err)
	}
	return nil
}

// MarkFailed reschedules with 2^retry_count minutes of backoff, parking
// the item permanently once retries are exhausted.
func (a *DLQAdapter) MarkFailed(ctx context.Context, id int64, errMsg string, now time.Time) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE dead_letter_queue
		SET error_message = $2,
		    status = CASE WHEN retry_count >= max_retries THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN retry_count >= max_retries THEN NULL
		                         ELSE $3 + (POWER(2, retry_count) * INTERVAL '1 minute') END,
		    updated_at = NOW()
		WHERE id = $1`, id, errMsg, now)
	if err != nil {
		return fmt.Errorf("reschedule dlq item: %w", err)
	}
	return nil
}

func (a *DLQAdapter) Stats(ctx context.Context) (*domain.DLQStats, error) {
	rows, err := a.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM dead_letter_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("dlq stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.DLQStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch domain.DLQStatus(status) {
		case domain.DLQPending:
			stats.Pending = count
		case domain.DLQRetrying:
			stats.Retrying = count
		case domain.DLQResolved:
			stats.Resolved = count
		case domain.DLQFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func (a *DLQAdapter) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		DELETE FROM dead_letter_queue
		WHERE status IN ('resolved', 'failed') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dlq: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
