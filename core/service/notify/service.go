// Package notify fans incidents out to configured channels, honoring
// maintenance suppression and digest batching.
package notify

import (
	"context"
	"fmt"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"
)

// Service routes incident notifications.
type Service struct {
	repo           out.NotificationRepository
	sinks          map[domain.ChannelType]out.NotificationSink
	digestInterval time.Duration
	log            *logger.Logger
	now            func() time.Time
}

func NewService(repo out.NotificationRepository, sinks map[domain.ChannelType]out.NotificationSink, digestInterval time.Duration) *Service {
	return &Service{
		repo:           repo,
		sinks:          sinks,
		digestInterval: digestInterval,
		log:            logger.Default().WithField("component", "notifier"),
		now:            time.Now,
	}
}

// BuildPayload renders the notification for an incident.
func BuildPayload(inc *domain.Incident, severity domain.Severity) *domain.NotificationPayload {
	return &domain.NotificationPayload{
		IncidentID: inc.ID,
		Title:      inc.Title,
		Message: fmt.Sprintf("%s is %s (%d events, severity %s)",
			inc.Title, inc.Status, inc.EventCount, severity),
		Severity:   severity,
		State:      inc.LastState,
		Host:       inc.Host,
		Service:    inc.Service,
		OccurredAt: inc.LastSeenAt,
	}
}

// NotifyIncident delivers an incident to every accepting channel.
// suppressMode comes from the active maintenance window, if any: mute
// drops the notification entirely, downgrade lowers the routing severity
// one step, digest forces queued delivery even for critical events.
func (s *Service) NotifyIncident(ctx context.Context, inc *domain.Incident, suppressMode domain.SuppressMode) error {
	if suppressMode == domain.SuppressMute {
		s.log.WithField("incident_id", inc.ID.String()).Debug("Notification muted by maintenance window")
		return nil
	}

	severity := inc.SeverityCurrent
	if suppressMode == domain.SuppressDowngrade {
		severity = severity.Downgrade()
	}

	channels, err := s.repo.EnabledChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	payload := BuildPayload(inc, severity)

	for _, ch := range channels {
		if !ch.AcceptsSeverity(severity) {
			continue
		}

		if ch.UseDigest || suppressMode == domain.SuppressDigest {
			if err := s.queueDigest(ctx, ch, payload); err != nil {
				s.log.WithError(err).WithField("channel", ch.Name).Error("Failed to queue digest item")
			}
			continue
		}

		s.sendImmediate(ctx, ch, inc, payload)
	}
	return nil
}

func (s *Service) queueDigest(ctx context.Context, ch *domain.NotificationChannel, payload *domain.NotificationPayload) error {
	interval := ch.DigestInterval
	if interval <= 0 {
		interval = s.digestInterval
	}
	return s.repo.QueueDigest(ctx, &domain.QueuedNotification{
		ChannelID:    ch.ID,
		Payload:      *payload,
		ScheduledFor: s.now().UTC().Add(interval),
	})
}

func (s *Service) sendImmediate(ctx context.Context, ch *domain.NotificationChannel, inc *domain.Incident, payload *domain.NotificationPayload) {
	sink, ok := s.sinks[ch.Type]
	if !ok {
		s.log.WithField("channel_type", string(ch.Type)).Warn("No sink registered for channel type")
		return
	}

	err := sink.SendIncident(ctx, ch, payload)
	outcome := "success"
	if err != nil {
		outcome = "error"
		s.log.WithError(err).WithField("channel", ch.Name).Error("Notification delivery failed")
	}
	metrics.NotificationsSent.WithLabelValues(string(ch.Type), outcome).Inc()

	incID := inc.ID
	logEntry := &domain.NotificationLog{
		ChannelID:  ch.ID,
		IncidentID: &incID,
		Kind:       "immediate",
		Success:    err == nil,
		SentAt:     s.now().UTC(),
	}
	if err != nil {
		logEntry.Error = err.Error()
	}
	if lerr := s.repo.LogDelivery(ctx, logEntry); lerr != nil {
		s.log.WithError(lerr).Warn("Failed to write notification log")
	}
}

// FlushDigests delivers every due digest item, grouped per channel.
// Invoked by the scheduler.
func (s *Service) FlushDigests(ctx context.Context) (int, error) {
	now := s.now().UTC()

	items, err := s.repo.DueDigestItems(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due digest items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	channels, err := s.repo.EnabledChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	byID := make(map[int64]*domain.NotificationChannel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	grouped := make(map[int64][]*domain.QueuedNotification)
	for _, item := range items {
		grouped[item.ChannelID] = append(grouped[item.ChannelID], item)
	}

	sent := 0
	for channelID, group := range grouped {
		ch, ok := byID[channelID]
		if !ok {
			continue
		}
		sink, ok := s.sinks[ch.Type]
		if !ok {
			continue
		}

		payloads := make([]*domain.NotificationPayload, 0, len(group))
		ids := make([]int64, 0, len(group))
		for _, item := range group {
			p := item.Payload
			payloads = append(payloads, &p)
			ids = append(ids, item.ID)
		}

		err := sink.SendDigest(ctx, ch, payloads)
		outcome := "success"
		if err != nil {
			outcome = "error"
			s.log.WithError(err).WithField("channel", ch.Name).Error("Digest delivery failed")
		} else {
			if merr := s.repo.MarkSent(ctx, ids, now); merr != nil {
				s.log.WithError(merr).Error("Failed to mark digest items sent")
			}
			sent += len(ids)
		}
		metrics.NotificationsSent.WithLabelValues(string(ch.Type), outcome).Inc()

		logEntry := &domain.NotificationLog{
			ChannelID: ch.ID,
			Kind:      "digest",
			Success:   err == nil,
			SentAt:    now,
		}
		if err != nil {
			logEntry.Error = err.Error()
		}
		if lerr := s.repo.LogDelivery(ctx, logEntry); lerr != nil {
			s.log.WithError(lerr).Warn("Failed to write notification log")
		}
	}
	return sent, nil
}
