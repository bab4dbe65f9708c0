package out

import (
	"context"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
)

// RawEmailRepository stores fetched mail and owns the folder cursors.
type RawEmailRepository interface {
	// StoreEmail inserts the email and advances the folder cursor in one
	// transaction. Returns (id, false) when (folder, uid) already exists;
	// the duplicate is silently dropped and the cursor still advances.
	StoreEmail(ctx context.Context, email *domain.RawEmail) (uuid.UUID, bool, error)

	GetEmail(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error)

	// UpdateParseStatus transitions parse_status; parseErr is stored on
	// failure transitions.
	UpdateParseStatus(ctx context.Context, id uuid.UUID, status domain.ParseStatus, parseErr string) error

	GetCursor(ctx context.Context, folder string) (*domain.FolderCursor, error)
	ListCursors(ctx context.Context) ([]*domain.FolderCursor, error)

	// RecordPollError updates last_error and error_count without touching
	// last_uid.
	RecordPollError(ctx context.Context, folder string, pollErr error) error

	// DeleteOlderThan prunes raw emails past retention. Returns rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
