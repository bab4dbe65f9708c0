// Package idempotency makes email processing at-most-once per
// (email, message-id) and feeds unrecoverable failures into the DLQ.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/apperr"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"
)

// Key derives the idempotency key: first 32 hex chars of SHA-256 over
// "email_id:message_id".
func Key(emailID, messageID string) string {
	sum := sha256.Sum256([]byte(emailID + ":" + messageID))
	return hex.EncodeToString(sum[:])[:32]
}

// Service wraps operations with the idempotency protocol.
type Service struct {
	repo out.IdempotencyRepository
	dlq  out.DLQRepository
	ttl  time.Duration
	log  *logger.Logger
}

func NewService(repo out.IdempotencyRepository, dlq out.DLQRepository, ttl time.Duration) *Service {
	return &Service{
		repo: repo,
		dlq:  dlq,
		ttl:  ttl,
		log:  logger.Default().WithField("component", "idempotency"),
	}
}

// Run executes fn at most once per key. A second worker holding the key
// in processing gets apperr.ErrSkipped; a completed key returns the
// cached result without re-running; a failed key runs again. On error
// the key is marked failed and the error propagates.
func (s *Service) Run(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	existing, err := s.repo.TryAcquire(ctx, key, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}

	if existing != nil {
		switch existing.Status {
		case domain.IdempotencyProcessing:
			s.log.WithField("key", key).Debug("Key held by another worker, skipping")
			return nil, apperr.ErrSkipped
		case domain.IdempotencyCompleted:
			s.log.WithField("key", key).Debug("Key already completed, returning cached result")
			return existing.Result, nil
		}
		// Failed earlier: TryAcquire has flipped the row back to
		// processing for this worker, run again.
	}

	result, err := fn(ctx)
	if err != nil {
		if ferr := s.repo.Fail(ctx, key); ferr != nil {
			s.log.WithError(ferr).WithField("key", key).Error("Failed to mark idempotency key failed")
		}
		return nil, err
	}

	if cerr := s.repo.Complete(ctx, key, result); cerr != nil {
		return nil, fmt.Errorf("complete idempotency key: %w", cerr)
	}
	return result, nil
}

// Enqueue parks a failed operation in the DLQ with the first retry due
// in one minute.
func (s *Service) Enqueue(ctx context.Context, eventType string, payload map[string]any, cause error, maxRetries int) error {
	next := time.Now().UTC().Add(time.Minute)
	item := &domain.DLQItem{
		EventType:   eventType,
		Payload:     payload,
		Traceback:   string(debug.Stack()),
		MaxRetries:  maxRetries,
		NextRetryAt: &next,
		Status:      domain.DLQPending,
	}
	if cause != nil {
		item.ErrorMessage = cause.Error()
	}

	if _, err := s.dlq.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("dlq enqueue: %w", err)
	}
	metrics.DLQEnqueued.WithLabelValues(eventType).Inc()
	s.log.WithFields(map[string]interface{}{
		"event_type": eventType,
		"error":      item.ErrorMessage,
	}).Warn("Operation parked in dead letter queue")
	return nil
}

// RetryHandler retries one DLQ payload for its event type.
type RetryHandler func(ctx context.Context, payload map[string]any) error

// RetryDue claims due DLQ items and re-dispatches them through the
// registered handlers. Invoked by the scheduler.
func (s *Service) RetryDue(ctx context.Context, limit int, handlers map[string]RetryHandler) (int, error) {
	now := time.Now().UTC()
	items, err := s.dlq.ClaimForRetry(ctx, limit, now)
	if err != nil {
		return 0, fmt.Errorf("claim dlq items: %w", err)
	}

	retried := 0
	for _, item := range items {
		handler, ok := handlers[item.EventType]
		if !ok {
			if merr := s.dlq.MarkFailed(ctx, item.ID, "no handler for event type", now); merr != nil {
				s.log.WithError(merr).Error("Failed to park unhandled DLQ item")
			}
			continue
		}

		if herr := handler(ctx, item.Payload); herr != nil {
			if merr := s.dlq.MarkFailed(ctx, item.ID, herr.Error(), now); merr != nil {
				s.log.WithError(merr).Error("Failed to reschedule DLQ item")
			}
			continue
		}

		if merr := s.dlq.MarkResolved(ctx, item.ID); merr != nil {
			s.log.WithError(merr).Error("Failed to resolve DLQ item")
			continue
		}
		retried++
	}
	return retried, nil
}

// Housekeep prunes expired idempotency keys and DLQ items past
// retention.
func (s *Service) Housekeep(ctx context.Context, dlqRetention time.Duration) error {
	now := time.Now().UTC()

	keys, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("prune idempotency keys: %w", err)
	}

	items, err := s.dlq.DeleteOlderThan(ctx, now.Add(-dlqRetention))
	if err != nil {
		return fmt.Errorf("prune dlq: %w", err)
	}

	if keys > 0 || items > 0 {
		s.log.WithFields(map[string]interface{}{
			"idempotency_keys": keys,
			"dlq_items":        items,
		}).Info("Housekeeping pruned expired rows")
	}

	if stats, err := s.dlq.Stats(ctx); err == nil {
		metrics.DLQDepth.Set(float64(stats.Pending + stats.Retrying))
	}
	return nil
}
