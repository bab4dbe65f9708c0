// Package intake stores fetched messages and hands them to the pipeline
// through the stream.
package intake

import (
	"context"
	"fmt"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"

	"github.com/google/uuid"
)

// Service is the single write path for incoming mail.
type Service struct {
	emails   out.RawEmailRepository
	producer out.MessageProducer
	log      *logger.Logger
}

func NewService(emails out.RawEmailRepository, producer out.MessageProducer) *Service {
	return &Service{
		emails:   emails,
		producer: producer,
		log:      logger.Default().WithField("component", "intake"),
	}
}

// Ingest stores one fetched message and publishes a processing job for
// it. Duplicate (folder, uid) pairs are stored once; re-ingesting them
// returns the existing id without republishing. Returns the email id and
// whether the message was new.
func (s *Service) Ingest(ctx context.Context, msg *out.FetchedMessage) (uuid.UUID, bool, error) {
	email := msg.PreParsed
	if email == nil {
		parsed, err := ParseMIME(msg.MIME)
		if err != nil {
			// Keep the undecodable blob for the quarantine view.
			email = &domain.RawEmail{
				RawMIME:     msg.MIME,
				ParseStatus: domain.ParseStatusFailed,
				ParseError:  err.Error(),
			}
			s.log.WithError(err).WithField("folder", msg.Folder).Warn("MIME decode failed, storing as failed")
		} else {
			email = parsed
			email.ParseStatus = domain.ParseStatusPending
		}
	} else if email.ParseStatus == "" {
		email.ParseStatus = domain.ParseStatusPending
	}

	email.Folder = msg.Folder
	email.UID = msg.UID

	id, isNew, err := s.emails.StoreEmail(ctx, email)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("store email: %w", err)
	}
	if !isNew {
		return id, false, nil
	}

	metrics.EmailsIngested.WithLabelValues(msg.Folder).Inc()

	if email.ParseStatus == domain.ParseStatusFailed {
		metrics.ParseFailures.Inc()
		return id, true, nil
	}

	job := &out.EmailIngestedJob{EmailID: id.String(), Folder: msg.Folder}
	if err := s.producer.PublishEmailIngested(ctx, job); err != nil {
		return id, true, fmt.Errorf("publish ingest job: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"email_id": id.String(),
		"folder":   msg.Folder,
		"uid":      msg.UID,
	}).Debug("Email ingested")
	return id, true, nil
}
