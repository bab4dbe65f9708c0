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

// NotificationAdapter implements out.NotificationRepository.
type NotificationAdapter struct {
	db *sqlx.DB
}

func NewNotificationAdapter(db *sqlx.DB) *NotificationAdapter {
	return &NotificationAdapter{db: db}
}

type channelRow struct {
	ID                int64          `db:"id"`
	Name              string         `db:"name"`
	Type              string         `db:"channel_type"`
	Config            []byte         `db:"config"`
	SeverityFilter    pq.StringArray `db:"severity_filter"`
	UseDigest         bool           `db:"use_digest"`
	DigestIntervalSec int64          `db:"digest_interval_sec"`
	Enabled           bool           `db:"enabled"`
	CreatedAt         time.Time      `db:"created_at"`
}

func (r *channelRow) toEntity() (*domain.NotificationChannel, error) {
	ch := &domain.NotificationChannel{
		ID:             r.ID,
		Name:           r.Name,
		Type:           domain.ChannelType(r.Type),
		SeverityFilter: r.SeverityFilter,
		UseDigest:      r.UseDigest,
		DigestInterval: time.Duration(r.DigestIntervalSec) * time.Second,
		Enabled:        r.Enabled,
		CreatedAt:      r.CreatedAt,
	}
	if err := scanJSON(r.Config, &ch.Config); err != nil {
		return nil, err
	}
	return ch, nil
}

func (a *NotificationAdapter) EnabledChannels(ctx context.Context) ([]*domain.NotificationChannel, error) {
	var rows []channelRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, name, channel_type, config, severity_filter,
		       use_digest, digest_interval_sec, enabled, created_at
		FROM notification_channels
		WHERE enabled = true
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	out := make([]*domain.NotificationChannel, 0, len(rows))
	for i := range rows {
		ch, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (a *NotificationAdapter) QueueDigest(ctx context.Context, item *domain.QueuedNotification) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO notification_queue (channel_id, payload, scheduled_for)
		VALUES ($1, $2, $3)`,
		item.ChannelID, jsonbOf(item.Payload), item.ScheduledFor)
	if err != nil {
		return fmt.Errorf("queue digest item: %w", err)
	}
	return nil
}

type queuedRow struct {
	ID           int64        `db:"id"`
	ChannelID    int64        `db:"channel_id"`
	Payload      []byte       `db:"payload"`
	ScheduledFor time.Time    `db:"scheduled_for"`
	SentAt       sql.NullTime `db:"sent_at"`
	CreatedAt    time.Time    `db:"created_at"`
}

func (a *NotificationAdapter) DueDigestItems(ctx context.Context, now time.Time) ([]*domain.QueuedNotification, error) {
	var rows []queuedRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT id, channel_id, payload, scheduled_for, sent_at, created_at
		FROM notification_queue
		WHERE sent_at IS NULL AND scheduled_for <= $1
		ORDER BY scheduled_for`, now)
	if err != nil {
		return nil, fmt.Errorf("list due digest items: %w", err)
	}

	out := make([]*domain.QueuedNotification, 0, len(rows))
	for i := range rows {
		item := &domain.QueuedNotification{
			ID:           rows[i].ID,
			ChannelID:    rows[i].ChannelID,
			ScheduledFor: rows[i].ScheduledFor,
			CreatedAt:    rows[i].CreatedAt,
		}
		if rows[i].SentAt.Valid {
			t := rows[i].SentAt.Time
			item.SentAt = &t
		}
		if err := scanJSON(rows[i].Payload, &item.Payload); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (a *NotificationAdapter) MarkSent(ctx context.Context, ids []int64, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
		UPDATE notification_queue SET sent_at = $2 WHERE id = ANY($1)`,
		pq.Int64Array(ids), sentAt)
	if err != nil {
		return fmt.Errorf("mark digest items sent: %w", err)
	}
	return nil
}

func (a *NotificationAdapter) LogDelivery(ctx context.Context, entry *domain.NotificationLog) error {
	var incidentID uuid.NullUUID
	if entry.IncidentID != nil {
		incidentID = uuid.NullUUID{UUID: *entry.IncidentID, Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO notification_logs (channel_id, incident_id, kind, success, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ChannelID, incidentID, entry.Kind, entry.Success,
		nullStr(entry.Error), entry.SentAt)
	if err != nil {
		return fmt.Errorf("log delivery: %w", err)
	}
	return nil
}
