package out

import (
	"context"
	"time"

	"alert_worker/core/domain"
)

// NotificationRepository persists channels, the digest queue and the
// delivery log.
type NotificationRepository interface {
	EnabledChannels(ctx context.Context) ([]*domain.NotificationChannel, error)

	QueueDigest(ctx context.Context, item *domain.QueuedNotification) error

	// DueDigestItems returns unsent queue items with scheduled_for <= now.
	DueDigestItems(ctx context.Context, now time.Time) ([]*domain.QueuedNotification, error)

	MarkSent(ctx context.Context, ids []int64, sentAt time.Time) error

	// LogDelivery is best effort; failures are logged and swallowed.
	LogDelivery(ctx context.Context, log *domain.NotificationLog) error
}

// NotificationSink delivers payloads to one channel type.
type NotificationSink interface {
	SendIncident(ctx context.Context, channel *domain.NotificationChannel, payload *domain.NotificationPayload) error
	SendDigest(ctx context.Context, channel *domain.NotificationChannel, payloads []*domain.NotificationPayload) error
}
