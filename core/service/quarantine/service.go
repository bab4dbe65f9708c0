// Package quarantine is the operator review workflow for extractions
// the learning extractor did not trust.
package quarantine

import (
	"context"
	"fmt"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
)

// Service reviews quarantined extractions.
type Service struct {
	repo     out.QuarantineRepository
	emails   out.RawEmailRepository
	producer out.MessageProducer
	log      *logger.Logger
}

func NewService(repo out.QuarantineRepository, emails out.RawEmailRepository, producer out.MessageProducer) *Service {
	return &Service{
		repo:     repo,
		emails:   emails,
		producer: producer,
		log:      logger.Default().WithField("component", "quarantine"),
	}
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]*domain.QuarantineEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListPending(ctx, limit)
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.QuarantineEvent, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	return s.repo.Stats(ctx)
}

// Review applies an operator decision. Approved and edited items requeue
// the underlying email for reprocessing; rejected items mark it rejected
// and stop there.
func (s *Service) Review(ctx context.Context, id int64, action domain.QuarantineAction, reviewedBy string, editedData map[string]any) error {
	switch action {
	case domain.QuarantineApproved, domain.QuarantineRejected, domain.QuarantineEdited:
	default:
		return fmt.Errorf("unknown review action %q", action)
	}
	if action == domain.QuarantineEdited && len(editedData) == 0 {
		return fmt.Errorf("edited review requires edited data")
	}

	emailID, err := s.repo.Review(ctx, id, action, reviewedBy, editedData)
	if err != nil {
		return fmt.Errorf("record review: %w", err)
	}

	if action == domain.QuarantineRejected {
		if err := s.emails.UpdateParseStatus(ctx, emailID, domain.ParseStatusRejected, "rejected by operator review"); err != nil {
			return fmt.Errorf("mark email rejected: %w", err)
		}
		s.log.WithFields(map[string]interface{}{
			"quarantine_id": id,
			"reviewed_by":   reviewedBy,
		}).Info("Quarantined extraction rejected")
		return nil
	}

	if err := s.emails.UpdateParseStatus(ctx, emailID, domain.ParseStatusPending, ""); err != nil {
		return fmt.Errorf("requeue email: %w", err)
	}

	email, err := s.emails.GetEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("load email for requeue: %w", err)
	}
	if email != nil {
		job := &out.EmailIngestedJob{EmailID: emailID.String(), Folder: email.Folder}
		if err := s.producer.PublishEmailIngested(ctx, job); err != nil {
			return fmt.Errorf("republish email: %w", err)
		}
	}

	s.log.WithFields(map[string]interface{}{
		"quarantine_id": id,
		"action":        string(action),
		"reviewed_by":   reviewedBy,
	}).Info("Quarantined extraction approved for reprocessing")
	return nil
}
