package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"alert_worker/core/domain"
	"alert_worker/pkg/httputil"
	"alert_worker/pkg/logger"

	"github.com/goccy/go-json"
)

// WebhookSink POSTs incident payloads as JSON to a configured URL.
type WebhookSink struct {
	client *http.Client
	log    *logger.Logger
}

func NewWebhookSink() *WebhookSink {
	return &WebhookSink{
		client: httputil.WebhookClient(),
		log:    logger.Default().WithField("component", "webhook-sink"),
	}
}

func (s *WebhookSink) SendIncident(ctx context.Context, channel *domain.NotificationChannel, payload *domain.NotificationPayload) error {
	return s.post(ctx, channel, map[string]any{
		"kind":     "incident",
		"incident": payload,
	})
}

func (s *WebhookSink) SendDigest(ctx context.Context, channel *domain.NotificationChannel, payloads []*domain.NotificationPayload) error {
	return s.post(ctx, channel, map[string]any{
		"kind":      "digest",
		"count":     len(payloads),
		"incidents": payloads,
	})
}

func (s *WebhookSink) post(ctx context.Context, channel *domain.NotificationChannel, body map[string]any) error {
	url := channel.WebhookURL()
	if url == "" {
		return fmt.Errorf("webhook channel %q has no webhook_url", channel.Name)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook post: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
