package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType identifies a notification sink.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
)

// NotificationChannel is one configured sink.
type NotificationChannel struct {
	ID             int64
	Name           string
	Type           ChannelType
	Config         map[string]any // webhook_url etc.
	SeverityFilter []string       // empty = all severities
	UseDigest      bool
	DigestInterval time.Duration
	Enabled        bool
	CreatedAt      time.Time
}

// WebhookURL returns the configured webhook URL, if any.
func (c *NotificationChannel) WebhookURL() string {
	if url, ok := c.Config["webhook_url"].(string); ok {
		return url
	}
	return ""
}

// AcceptsSeverity applies the channel severity filter.
func (c *NotificationChannel) AcceptsSeverity(sev Severity) bool {
	if len(c.SeverityFilter) == 0 {
		return true
	}
	for _, s := range c.SeverityFilter {
		if s == string(sev) {
			return true
		}
	}
	return false
}

// NotificationPayload is what a sink receives for one incident.
type NotificationPayload struct {
	IncidentID uuid.UUID `json:"incident_id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	State      State     `json:"state"`
	Host       string    `json:"host,omitempty"`
	Service    string    `json:"service,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	URL        string    `json:"url,omitempty"`
}

// QueuedNotification is a digest item waiting for its flush time.
type QueuedNotification struct {
	ID           int64
	ChannelID    int64
	Payload      NotificationPayload
	ScheduledFor time.Time
	SentAt       *time.Time
	CreatedAt    time.Time
}

// NotificationLog records every delivery attempt.
type NotificationLog struct {
	ID         int64
	ChannelID  int64
	IncidentID *uuid.UUID
	Kind       string // immediate | digest
	Success    bool
	Error      string
	SentAt     time.Time
}
