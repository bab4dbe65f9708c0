package out

import (
	"context"
	"time"

	"alert_worker/core/domain"
)

// FetchedMessage is one message produced by a mailbox adapter. MIME holds
// the raw RFC822 bytes when the source exposes them; PreParsed carries
// already-decoded fields for sources that do not (desktop client).
type FetchedMessage struct {
	Folder    string
	UID       int64
	MIME      []byte
	PreParsed *domain.RawEmail
}

// MailProvider is the shared contract for mailbox sources. Implementations
// must return messages in ascending UID order within a folder; the caller
// owns the folder cursor.
type MailProvider interface {
	Name() string

	// FetchNew returns messages with UID greater than the cursor. A zero
	// cursor triggers an initial backfill going back backfill duration.
	FetchNew(ctx context.Context, folder string, cursor int64, backfill time.Duration) ([]*FetchedMessage, error)

	// Folders returns the folder list this provider polls.
	Folders() []string

	Close() error
}
