// Package notify implements the notification channel sinks.
package notify

import (
	"context"
	"fmt"

	"alert_worker/core/domain"
	"alert_worker/pkg/logger"

	"github.com/slack-go/slack"
)

// SlackSink delivers incident notifications to a Slack incoming webhook
// using Block Kit formatting.
type SlackSink struct {
	log *logger.Logger
}

func NewSlackSink() *SlackSink {
	return &SlackSink{log: logger.Default().WithField("component", "slack-sink")}
}

var severityEmoji = map[domain.Severity]string{
	domain.SeverityCritical: ":red_circle:",
	domain.SeverityHigh:     ":large_orange_circle:",
	domain.SeverityMedium:   ":large_yellow_circle:",
	domain.SeverityLow:      ":large_blue_circle:",
	domain.SeverityInfo:     ":white_circle:",
}

func (s *SlackSink) SendIncident(ctx context.Context, channel *domain.NotificationChannel, payload *domain.NotificationPayload) error {
	url := channel.WebhookURL()
	if url == "" {
		return fmt.Errorf("slack channel %q has no webhook_url", channel.Name)
	}

	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: incidentBlocks(payload)},
	}
	if err := slack.PostWebhookContext(ctx, url, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func (s *SlackSink) SendDigest(ctx context.Context, channel *domain.NotificationChannel, payloads []*domain.NotificationPayload) error {
	url := channel.WebhookURL()
	if url == "" {
		return fmt.Errorf("slack channel %q has no webhook_url", channel.Name)
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(
			slack.PlainTextType,
			fmt.Sprintf("Incident digest (%d updates)", len(payloads)),
			false, false)),
	}
	for _, p := range payloads {
		line := fmt.Sprintf("%s *%s* — %s", severityEmoji[p.Severity], p.Title, p.Message)
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, line, false, false), nil, nil))
	}

	msg := &slack.WebhookMessage{Blocks: &slack.Blocks{BlockSet: blocks}}
	if err := slack.PostWebhookContext(ctx, url, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func incidentBlocks(p *domain.NotificationPayload) []slack.Block {
	header := fmt.Sprintf("%s %s", severityEmoji[p.Severity], p.Title)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Severity:*\n%s", p.Severity), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*State:*\n%s", p.State), false, false),
	}
	if p.Host != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Host:*\n%s", p.Host), false, false))
	}
	if p.Service != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Service:*\n%s", p.Service), false, false))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if p.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, p.Message, false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("incident %s | %s", p.IncidentID, p.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST")),
			false, false)))
	return blocks
}
