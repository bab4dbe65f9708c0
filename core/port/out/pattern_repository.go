package out

import (
	"context"

	"alert_worker/core/domain"

	"github.com/google/uuid"
)

// PatternRepository is the learned extraction rule cache.
type PatternRepository interface {
	// FindBySignature returns the cache entry for a format signature hash,
	// or nil on miss.
	FindBySignature(ctx context.Context, signatureHash string) (*domain.PatternCache, error)

	// Upsert inserts the pattern; on signature conflict it increments
	// match_count and refreshes last_matched_at, so concurrent learners
	// are idempotent.
	Upsert(ctx context.Context, pattern *domain.PatternCache) error

	// TouchMatch increments match_count for a cache hit.
	TouchMatch(ctx context.Context, signatureHash string) error

	Count(ctx context.Context) (int64, error)

	// LogExtraction audits one extraction attempt. Best effort: callers
	// log failures and move on.
	LogExtraction(ctx context.Context, log *domain.ExtractionLog) error
}

// QuarantineRepository holds extractions pending operator review.
type QuarantineRepository interface {
	Insert(ctx context.Context, q *domain.QuarantineEvent) (int64, error)
	Get(ctx context.Context, id int64) (*domain.QuarantineEvent, error)

	// HasPendingForEmail reports whether the email already has a pending
	// quarantine row, so retried extractions do not stack duplicates.
	HasPendingForEmail(ctx context.Context, emailID uuid.UUID) (bool, error)

	ListPending(ctx context.Context, limit int) ([]*domain.QuarantineEvent, error)

	// Review records the operator decision and returns the raw email id so
	// approved/edited items can be requeued.
	Review(ctx context.Context, id int64, action domain.QuarantineAction, reviewedBy string, editedData map[string]any) (uuid.UUID, error)

	Stats(ctx context.Context) (map[string]int64, error)
}
