// Package correlate folds normalized alert events into incidents.
package correlate

import (
	"context"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"

	"github.com/google/uuid"
)

// reopenWindow bounds how far back a resolved incident can be revived by
// a matching event instead of spawning a fresh one.
const reopenWindow = time.Hour

// Service runs the per-event correlation transaction.
type Service struct {
	incidents   out.IncidentRepository
	dedupeWin   time.Duration
	quietPeriod time.Duration
	log         *logger.Logger
	now         func() time.Time
}

func NewService(incidents out.IncidentRepository, dedupeWindow, quietPeriod time.Duration) *Service {
	return &Service{
		incidents:   incidents,
		dedupeWin:   dedupeWindow,
		quietPeriod: quietPeriod,
		log:         logger.Default().WithField("component", "correlator"),
		now:         time.Now,
	}
}

// ProcessEvent inserts the event and correlates it to an incident inside
// one transaction. Returns the incident id, or uuid.Nil when the event
// was a stray resolution with nothing to attach to.
func (s *Service) ProcessEvent(ctx context.Context, event *domain.AlertEvent) (uuid.UUID, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	var incidentID uuid.UUID
	err := s.incidents.WithTx(ctx, func(tx out.CorrelationTx) error {
		now := s.now().UTC()

		// Serializes first events per fingerprint; without an incident
		// row the FOR UPDATE below has nothing to lock.
		if err := tx.LockFingerprint(ctx, event.FingerprintV2); err != nil {
			return err
		}

		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}

		inc, err := tx.LockOpenIncident(ctx, event.FingerprintV2, event.Fingerprint)
		if err != nil {
			return err
		}
		if inc != nil {
			id, err := s.applyToExisting(ctx, tx, inc, event, now)
			incidentID = id
			return err
		}

		// No open-ish incident. A recently resolved one can absorb the
		// event: resolutions just link, firings reopen.
		recent, err := tx.FindRecentlyResolved(ctx, event.FingerprintV2, now.Add(-reopenWindow))
		if err != nil {
			return err
		}

		if event.State == domain.StateResolved {
			if recent != nil {
				incidentID = recent.ID
				return tx.LinkEvent(ctx, recent.ID, event.ID, false)
			}
			s.log.WithFields(map[string]interface{}{
				"fingerprint": event.FingerprintV2,
				"host":        event.Host,
			}).Debug("Dropping resolved event with no matching incident")
			return nil
		}

		if recent != nil {
			id, err := s.reopen(ctx, tx, recent, event, now)
			incidentID = id
			return err
		}

		id, err := s.create(ctx, tx, event)
		incidentID = id
		return err
	})
	return incidentID, err
}

func (s *Service) applyToExisting(ctx context.Context, tx out.CorrelationTx, inc *domain.Incident, event *domain.AlertEvent, now time.Time) (uuid.UUID, error) {
	deduplicated, err := tx.HasRecentEventWithState(ctx, inc.ID, event.State, now.Add(-s.dedupeWin))
	if err != nil {
		return uuid.Nil, err
	}

	lastFiring, err := tx.LastFiringAt(ctx, inc.ID)
	if err != nil {
		return uuid.Nil, err
	}

	tr := ApplyEvent(inc, event, lastFiring, now, s.quietPeriod)
	if tr.Escalated {
		s.log.WithFields(map[string]interface{}{
			"incident_id": inc.ID.String(),
			"severity":    string(inc.SeverityMax),
		}).Info("Incident severity escalated")
	}

	inc.LastSeenAt = event.OccurredAt
	inc.EventCount++
	if tr.StatusChanged {
		inc.LastStateChangeAt = now
		s.log.WithFields(map[string]interface{}{
			"incident_id": inc.ID.String(),
			"from":        string(tr.From),
			"to":          string(tr.To),
		}).Info("Incident status changed")
	}

	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return uuid.Nil, err
	}
	if err := tx.LinkEvent(ctx, inc.ID, event.ID, deduplicated); err != nil {
		return uuid.Nil, err
	}
	if deduplicated {
		metrics.DedupeHits.Inc()
	}
	return inc.ID, nil
}

func (s *Service) reopen(ctx context.Context, tx out.CorrelationTx, inc *domain.Incident, event *domain.AlertEvent, now time.Time) (uuid.UUID, error) {
	inc.Status = domain.StatusOpen
	inc.FlapCount++
	inc.ResolutionReason = nil
	inc.ResolvedAt = nil
	inc.LastState = event.State
	inc.SeverityCurrent = event.Severity
	if event.Severity.Rank() > inc.SeverityMax.Rank() {
		inc.SeverityMax = event.Severity
	}
	inc.LastSeenAt = event.OccurredAt
	inc.EventCount++
	inc.LastStateChangeAt = now

	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return uuid.Nil, err
	}
	if err := tx.LinkEvent(ctx, inc.ID, event.ID, false); err != nil {
		return uuid.Nil, err
	}

	metrics.IncidentsReopened.Inc()
	s.log.WithFields(map[string]interface{}{
		"incident_id": inc.ID.String(),
		"flap_count":  inc.FlapCount,
	}).Info("Reopened recently resolved incident")
	return inc.ID, nil
}

func (s *Service) create(ctx context.Context, tx out.CorrelationTx, event *domain.AlertEvent) (uuid.UUID, error) {
	inc := &domain.Incident{
		ID:                uuid.New(),
		FingerprintV2:     event.FingerprintV2,
		Fingerprint:       event.Fingerprint,
		Title:             domain.BuildIncidentTitle(event.Severity, event.Host, event.CheckOrService(), event.SourceTool),
		SourceTool:        event.SourceTool,
		Environment:       event.Environment,
		Region:            event.Region,
		Host:              event.Host,
		CheckName:         event.CheckName,
		Service:           event.Service,
		SeverityCurrent:   event.Severity,
		SeverityMax:       event.Severity,
		LastState:         event.State,
		Status:            domain.StatusOpen,
		FirstSeenAt:       event.OccurredAt,
		LastSeenAt:        event.OccurredAt,
		LastStateChangeAt: event.OccurredAt,
		EventCount:        1,
		Tags:              event.Tags,
	}

	if err := tx.CreateIncident(ctx, inc); err != nil {
		return uuid.Nil, err
	}
	if err := tx.LinkEvent(ctx, inc.ID, event.ID, false); err != nil {
		return uuid.Nil, err
	}

	metrics.IncidentsCreated.Inc()
	s.log.WithFields(map[string]interface{}{
		"incident_id": inc.ID.String(),
		"title":       inc.Title,
	}).Info("Created incident")
	return inc.ID, nil
}
