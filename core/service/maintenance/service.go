// Package maintenance detects maintenance announcements and suppresses
// incidents covered by active windows.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"

	"github.com/google/uuid"
)

var bodyKeywords = []string{"maintenance window", "scheduled maintenance", "planned outage"}

const maxWindowTitleLen = 500

// Engine is the maintenance window engine.
type Engine struct {
	repo            out.MaintenanceRepository
	subjectPrefixes []string
	horizon         time.Duration
	log             *logger.Logger
	now             func() time.Time
}

func NewEngine(repo out.MaintenanceRepository, subjectPrefixes []string, expansionHorizon time.Duration) *Engine {
	if len(subjectPrefixes) == 0 {
		subjectPrefixes = []string{"[MW]", "[Maintenance]", "Maintenance:", "MAINTENANCE:"}
	}
	return &Engine{
		repo:            repo,
		subjectPrefixes: subjectPrefixes,
		horizon:         expansionHorizon,
		log:             logger.Default().WithField("component", "maintenance"),
		now:             time.Now,
	}
}

// IsMaintenanceEmail reports whether the email announces maintenance: a
// configured subject prefix, calendar content, or body keywords.
func (e *Engine) IsMaintenanceEmail(email *domain.RawEmail) bool {
	subjectLower := strings.ToLower(email.Subject)
	for _, prefix := range e.subjectPrefixes {
		if strings.Contains(subjectLower, strings.ToLower(prefix)) {
			return true
		}
	}

	if email.ICSContent != "" {
		return true
	}

	bodyLower := strings.ToLower(email.Body())
	for _, kw := range bodyKeywords {
		if strings.Contains(bodyLower, kw) {
			return true
		}
	}
	return false
}

// ProcessEmail extracts a maintenance window from the email and persists
// it. ICS takes priority, then body patterns, then defaults (start at the
// email date, two hours long, UTC). An ICS cancellation deactivates the
// referenced window instead.
func (e *Engine) ProcessEmail(ctx context.Context, email *domain.RawEmail) error {
	now := e.now().UTC()

	w := &domain.MaintenanceWindow{
		Source:       domain.WindowSourceEmail,
		Title:        email.Subject,
		Description:  truncateStr(email.Body(), 500),
		Organizer:    organizerName(email.FromAddress),
		Timezone:     "UTC",
		SuppressMode: domain.SuppressMute,
		IsActive:     true,
		CreatedBy:    email.FromAddress,
	}
	emailID := email.ID
	w.RawEmailID = &emailID

	var occurrences []occurrence

	if email.ICSContent != "" {
		ics, err := parseICS(email.ICSContent, now, e.horizon)
		if err != nil {
			e.log.WithError(err).WithField("email_id", email.ID.String()).Warn("ICS parse failed, falling back to body")
		} else if ics != nil {
			if ics.Cancelled {
				e.log.WithField("external_event_id", ics.ExternalEventID).Info("Maintenance window cancelled via ICS")
				return e.repo.CancelByExternalID(ctx, domain.WindowSourceEmail, ics.ExternalEventID)
			}
			w.ExternalEventID = ics.ExternalEventID
			if ics.Title != "" {
				w.Title = ics.Title
			}
			if ics.Organizer != "" {
				w.Organizer = ics.Organizer
			}
			w.StartsAt = ics.Start
			w.EndsAt = ics.End
			w.Timezone = ics.Timezone
			w.IsRecurring = ics.IsRecurring
			w.RecurrenceRule = ics.RecurrenceRule
			occurrences = ics.Occurrences
			if ics.Description != "" {
				w.Scope = ParseScope(ics.Description)
			}
		}
	}

	bw := parseBody(email.Body())
	if bw.Title != "" {
		w.Title = bw.Title
	}
	if bw.Scope != nil {
		w.Scope = *bw.Scope
	}
	if bw.SuppressMode != "" {
		w.SuppressMode = bw.SuppressMode
	}
	if bw.Start != nil {
		w.StartsAt = *bw.Start
	}
	if bw.End != nil {
		w.EndsAt = *bw.End
	}
	if bw.Timezone != "" {
		w.Timezone = bw.Timezone
	}

	if w.StartsAt.IsZero() {
		if email.DateHeader != nil {
			w.StartsAt = email.DateHeader.UTC()
		} else {
			w.StartsAt = now
		}
	}
	if w.EndsAt.IsZero() {
		w.EndsAt = w.StartsAt.Add(2 * time.Hour)
	}
	w.Title = truncateStr(w.Title, maxWindowTitleLen)

	parentID, err := e.repo.UpsertWindow(ctx, w)
	if err != nil {
		return fmt.Errorf("upsert maintenance window: %w", err)
	}

	if w.IsRecurring && len(occurrences) > 0 {
		if err := e.expandOccurrences(ctx, parentID, w, occurrences, now); err != nil {
			return err
		}
	}

	e.log.WithFields(map[string]interface{}{
		"window_id": parentID.String(),
		"title":     w.Title,
		"starts_at": w.StartsAt.Format(time.RFC3339),
		"ends_at":   w.EndsAt.Format(time.RFC3339),
	}).Info("Maintenance window created from email")
	return nil
}

// expandOccurrences replaces the stored occurrence rows of a recurring
// window so recomputation after an RRULE change stays deterministic.
func (e *Engine) expandOccurrences(ctx context.Context, parentID uuid.UUID, parent *domain.MaintenanceWindow, occurrences []occurrence, now time.Time) error {
	if err := e.repo.DeleteOccurrences(ctx, parentID); err != nil {
		return fmt.Errorf("delete stale occurrences: %w", err)
	}

	horizonEnd := now.Add(e.horizon)
	for _, occ := range occurrences {
		child := &domain.MaintenanceWindow{
			Source:           parent.Source,
			Title:            parent.Title,
			Organizer:        parent.Organizer,
			StartsAt:         occ.Start,
			EndsAt:           occ.End,
			Timezone:         parent.Timezone,
			OccurrenceOf:     &parentID,
			ExpansionHorizon: &horizonEnd,
			Scope:            parent.Scope,
			SuppressMode:     parent.SuppressMode,
			IsActive:         true,
			RawEmailID:       parent.RawEmailID,
		}
		if _, err := e.repo.UpsertWindow(ctx, child); err != nil {
			return fmt.Errorf("insert occurrence: %w", err)
		}
	}

	e.log.WithFields(map[string]interface{}{
		"window_id":   parentID.String(),
		"occurrences": len(occurrences),
	}).Debug("Expanded recurring maintenance window")
	return nil
}

// MatchIncidents is scheduler pass 1: flag unsuppressed open incidents
// covered by an active window. Returns the number of new matches.
func (e *Engine) MatchIncidents(ctx context.Context) (int, error) {
	now := e.now().UTC()

	windows, err := e.repo.ActiveWindows(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active windows: %w", err)
	}
	if len(windows) == 0 {
		return 0, nil
	}

	incidents, err := e.repo.CandidateIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list candidate incidents: %w", err)
	}

	matched := 0
	for _, inc := range incidents {
		for _, w := range windows {
			if !MatchesScope(inc, w.Scope) {
				continue
			}
			m := &domain.MaintenanceMatch{
				WindowID:    w.ID,
				IncidentID:  inc.ID,
				MatchReason: MatchReason(inc, w.Scope),
			}
			if err := e.repo.InsertMatch(ctx, m); err != nil {
				return matched, fmt.Errorf("insert match: %w", err)
			}
			if err := e.repo.MarkInMaintenance(ctx, inc.ID, w.ID); err != nil {
				return matched, fmt.Errorf("mark in maintenance: %w", err)
			}
			matched++
			metrics.MaintenanceMatches.Inc()
			e.log.WithFields(map[string]interface{}{
				"incident_id": inc.ID.String(),
				"window_id":   w.ID.String(),
			}).Info("Incident matched to maintenance window")
			break
		}
	}
	return matched, nil
}

// ClearExpired is scheduler pass 2: drop the maintenance flag from
// incidents whose window is no longer active.
func (e *Engine) ClearExpired(ctx context.Context) (int64, error) {
	cleared, err := e.repo.ClearExpired(ctx, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clear expired maintenance: %w", err)
	}
	if cleared > 0 {
		e.log.WithField("count", cleared).Info("Cleared expired maintenance suppression")
	}
	return cleared, nil
}

// ActiveModeFor returns the suppress mode covering the incident right
// now, or empty when the incident is not suppressed.
func (e *Engine) ActiveModeFor(ctx context.Context, incidentID uuid.UUID) (domain.SuppressMode, error) {
	w, err := e.repo.WindowForIncident(ctx, incidentID)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", nil
	}
	return w.SuppressMode, nil
}

func organizerName(from string) string {
	if idx := strings.Index(from, "<"); idx > 0 {
		return strings.TrimSpace(from[:idx])
	}
	return from
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
