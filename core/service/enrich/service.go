// Package enrich asks the advisory service for triage guidance on
// incidents and stores the result.
package enrich

import (
	"context"
	"fmt"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"
	"alert_worker/pkg/redact"

	"github.com/google/uuid"
)

const (
	maxEventsPerRequest = 5
	maxEventBodyLen     = 1000
	maxAttempts         = 3
	retryBaseDelay      = 2 * time.Second
)

// Service builds redacted enrichment payloads and persists responses.
type Service struct {
	incidents out.IncidentRepository
	advisory  out.AdvisoryClient
	redactor  *redact.Redactor
	log       *logger.Logger
	sleep     func(time.Duration)
}

func NewService(incidents out.IncidentRepository, advisory out.AdvisoryClient, redactor *redact.Redactor) *Service {
	return &Service{
		incidents: incidents,
		advisory:  advisory,
		redactor:  redactor,
		log:       logger.Default().WithField("component", "enricher"),
		sleep:     time.Sleep,
	}
}

// EnrichIncident builds the payload for one incident, calls the advisory
// endpoint with retries, and stores the enrichment on success.
func (s *Service) EnrichIncident(ctx context.Context, incidentID uuid.UUID) error {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	if inc == nil {
		return nil
	}

	events, err := s.incidents.RecentEvents(ctx, incidentID, maxEventsPerRequest)
	if err != nil {
		return fmt.Errorf("load recent events: %w", err)
	}

	req := s.buildRequest(inc, events)

	var enrichment *domain.Enrichment
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		enrichment, err = s.advisory.Enrich(ctx, req)
		if err == nil {
			break
		}
		metrics.EnrichmentCalls.WithLabelValues("error").Inc()
		if attempt == maxAttempts {
			s.log.WithError(err).WithField("incident_id", incidentID.String()).Warn("Enrichment failed, giving up for this cycle")
			return fmt.Errorf("enrichment call: %w", err)
		}
		s.sleep(retryBaseDelay * time.Duration(1<<(attempt-1)))
	}
	metrics.EnrichmentCalls.WithLabelValues("success").Inc()

	now := time.Now().UTC()
	enrichment.EnrichedAt = &now
	if err := s.incidents.SaveEnrichment(ctx, incidentID, enrichment); err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"incident_id": incidentID.String(),
		"category":    enrichment.Category,
		"confidence":  enrichment.Confidence,
	}).Info("Incident enriched")
	return nil
}

// buildRequest assembles the redacted advisory payload: key incident
// fields plus the most recent events with truncated bodies.
func (s *Service) buildRequest(inc *domain.Incident, events []*domain.AlertEvent) *out.EnrichmentRequest {
	incident := map[string]any{
		"id":               inc.ID.String(),
		"title":            s.redactor.Redact(inc.Title),
		"source_tool":      inc.SourceTool,
		"environment":      inc.Environment,
		"region":           inc.Region,
		"host":             inc.Host,
		"check_name":       inc.CheckName,
		"service":          inc.Service,
		"severity_current": string(inc.SeverityCurrent),
		"severity_max":     string(inc.SeverityMax),
		"status":           string(inc.Status),
		"first_seen_at":    inc.FirstSeenAt.Format(time.RFC3339),
		"last_seen_at":     inc.LastSeenAt.Format(time.RFC3339),
		"event_count":      inc.EventCount,
		"flap_count":       inc.FlapCount,
		"tags":             inc.Tags,
	}

	evs := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		subject, _ := ev.Payload["subject"].(string)
		body, _ := ev.Payload["info"].(string)
		if len(body) > maxEventBodyLen {
			body = body[:maxEventBodyLen]
		}
		evs = append(evs, map[string]any{
			"source_tool": ev.SourceTool,
			"host":        ev.Host,
			"check":       ev.CheckOrService(),
			"severity":    string(ev.Severity),
			"state":       string(ev.State),
			"occurred_at": ev.OccurredAt.Format(time.RFC3339),
			"subject":     s.redactor.Redact(subject),
			"body":        s.redactor.Redact(body),
		})
	}

	return &out.EnrichmentRequest{
		Incident:       incident,
		Events:         evs,
		RequestType:    "enrichment",
		MaxSuggestions: 5,
	}
}
