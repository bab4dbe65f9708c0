package out

import (
	"context"
	"time"

	"alert_worker/core/domain"
)

// IdempotencyRepository guards side-effecting operations.
type IdempotencyRepository interface {
	// TryAcquire inserts the key with status processing. Returns the
	// existing row when the key is already held or completed, nil when the
	// insert won.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*domain.IdempotencyKey, error)

	Complete(ctx context.Context, key string, result []byte) error
	Fail(ctx context.Context, key string) error

	// DeleteExpired prunes keys past their TTL. Returns rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DLQRepository is the durable retry queue for failed operations.
type DLQRepository interface {
	Enqueue(ctx context.Context, item *domain.DLQItem) (int64, error)

	// ClaimForRetry atomically claims up to limit pending items whose
	// next_retry_at has passed, using FOR UPDATE SKIP LOCKED, moving them
	// to retrying with retry_count incremented.
	ClaimForRetry(ctx context.Context, limit int, now time.Time) ([]*domain.DLQItem, error)

	MarkResolved(ctx context.Context, id int64) error

	// MarkFailed reschedules with exponential backoff, or parks the item
	// as failed once retry_count reaches max_retries.
	MarkFailed(ctx context.Context, id int64, errMsg string, now time.Time) error

	Stats(ctx context.Context) (*domain.DLQStats, error)

	// DeleteOlderThan prunes resolved/failed items past retention.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
