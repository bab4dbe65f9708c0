package correlate

import (
	"testing"
	"time"

	"alert_worker/core/domain"
)

func newIncident(status domain.IncidentStatus, sev domain.Severity) *domain.Incident {
	return &domain.Incident{
		Status:          status,
		SeverityCurrent: sev,
		SeverityMax:     sev,
		LastState:       domain.StateFiring,
	}
}

func firingEvent(sev domain.Severity) *domain.AlertEvent {
	return &domain.AlertEvent{Severity: sev, State: domain.StateFiring}
}

func resolvedEvent() *domain.AlertEvent {
	return &domain.AlertEvent{Severity: domain.SeverityInfo, State: domain.StateResolved}
}

func TestApplyEventResolvedOnOpen(t *testing.T) {
	inc := newIncident(domain.StatusOpen, domain.SeverityHigh)
	now := time.Now().UTC()

	tr := ApplyEvent(inc, resolvedEvent(), &now, now, 30*time.Minute)

	if !tr.StatusChanged || tr.To != domain.StatusResolving {
		t.Errorf("open + resolved should enter resolving, got %+v", tr)
	}
	if inc.Status != domain.StatusResolving {
		t.Errorf("incident status = %q", inc.Status)
	}
	if inc.ResolvedAt != nil {
		t.Error("resolving must not set resolved_at")
	}
}

func TestApplyEventResolvedOnResolvingQuietElapsed(t *testing.T) {
	inc := newIncident(domain.StatusResolving, domain.SeverityHigh)
	now := time.Now().UTC()
	lastFiring := now.Add(-45 * time.Minute)

	tr := ApplyEvent(inc, resolvedEvent(), &lastFiring, now, 30*time.Minute)

	if tr.To != domain.StatusResolved {
		t.Errorf("quiet elapsed should close, got %q", tr.To)
	}
	if inc.ResolutionReason == nil || *inc.ResolutionReason != domain.ResolutionExplicitClear {
		t.Errorf("reason = %v, want explicit_clear", inc.ResolutionReason)
	}
	if inc.ResolvedAt == nil || !inc.ResolvedAt.Equal(now) {
		t.Errorf("resolved_at = %v, want %v", inc.ResolvedAt, now)
	}
}

func TestApplyEventResolvedOnResolvingQuietNotElapsed(t *testing.T) {
	inc := newIncident(domain.StatusResolving, domain.SeverityHigh)
	now := time.Now().UTC()
	lastFiring := now.Add(-5 * time.Minute)

	tr := ApplyEvent(inc, resolvedEvent(), &lastFiring, now, 30*time.Minute)

	if tr.StatusChanged {
		t.Errorf("must stay resolving inside the quiet period, got %q", tr.To)
	}
	if inc.Status != domain.StatusResolving {
		t.Errorf("status = %q", inc.Status)
	}
}

func TestApplyEventResolvedOnResolvingNoFiringHistory(t *testing.T) {
	inc := newIncident(domain.StatusResolving, domain.SeverityMedium)
	now := time.Now().UTC()

	tr := ApplyEvent(inc, resolvedEvent(), nil, now, 30*time.Minute)

	if tr.To != domain.StatusResolved {
		t.Errorf("no firing history should allow close, got %q", tr.To)
	}
}

func TestApplyEventFiringOnResolvingFlaps(t *testing.T) {
	inc := newIncident(domain.StatusResolving, domain.SeverityHigh)
	reason := domain.ResolutionExplicitClear
	inc.ResolutionReason = &reason
	resolvedAt := time.Now().UTC()
	inc.ResolvedAt = &resolvedAt
	now := time.Now().UTC()

	tr := ApplyEvent(inc, firingEvent(domain.SeverityHigh), &now, now, 30*time.Minute)

	if tr.To != domain.StatusOpen || !tr.Flapped {
		t.Errorf("firing on resolving should reopen and flap, got %+v", tr)
	}
	if inc.FlapCount != 1 {
		t.Errorf("FlapCount = %d, want 1", inc.FlapCount)
	}
	if inc.ResolutionReason != nil || inc.ResolvedAt != nil {
		t.Error("reopening must clear resolution fields")
	}
}

func TestApplyEventFiringOnOpenNoChange(t *testing.T) {
	inc := newIncident(domain.StatusOpen, domain.SeverityMedium)
	now := time.Now().UTC()

	tr := ApplyEvent(inc, firingEvent(domain.SeverityMedium), &now, now, 30*time.Minute)

	if tr.StatusChanged {
		t.Errorf("firing on open must not change status, got %+v", tr)
	}
}

func TestApplyEventSeverityTracking(t *testing.T) {
	inc := newIncident(domain.StatusOpen, domain.SeverityMedium)
	now := time.Now().UTC()

	tr := ApplyEvent(inc, firingEvent(domain.SeverityCritical), &now, now, 30*time.Minute)
	if !tr.Escalated || inc.SeverityMax != domain.SeverityCritical {
		t.Errorf("escalation not tracked: %+v max=%q", tr, inc.SeverityMax)
	}

	// A later lower-severity event moves current but never max.
	tr = ApplyEvent(inc, firingEvent(domain.SeverityLow), &now, now, 30*time.Minute)
	if tr.Escalated {
		t.Error("downgrade must not report escalation")
	}
	if inc.SeverityCurrent != domain.SeverityLow {
		t.Errorf("SeverityCurrent = %q, want low", inc.SeverityCurrent)
	}
	if inc.SeverityMax != domain.SeverityCritical {
		t.Errorf("SeverityMax = %q, must stay critical", inc.SeverityMax)
	}
}

func TestApplyEventOnAcknowledgedStaysAcknowledged(t *testing.T) {
	inc := newIncident(domain.StatusAcknowledged, domain.SeverityHigh)
	now := time.Now().UTC()

	tr := ApplyEvent(inc, firingEvent(domain.SeverityHigh), &now, now, 30*time.Minute)
	if tr.StatusChanged {
		t.Errorf("firing on acknowledged must not change status, got %+v", tr)
	}

	// Resolved on acknowledged keeps the ack; only open enters resolving.
	tr = ApplyEvent(inc, resolvedEvent(), &now, now, 30*time.Minute)
	if tr.StatusChanged {
		t.Errorf("resolved on acknowledged must not change status, got %+v", tr)
	}
	if inc.LastState != domain.StateResolved {
		t.Errorf("LastState = %q, want resolved", inc.LastState)
	}
}
