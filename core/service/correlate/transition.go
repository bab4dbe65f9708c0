package correlate

import (
	"time"

	"alert_worker/core/domain"
)

// Transition is the outcome of applying one event to a locked incident.
type Transition struct {
	From          domain.IncidentStatus
	To            domain.IncidentStatus
	StatusChanged bool
	Escalated     bool
	Flapped       bool
}

// ApplyEvent mutates the incident per the correlation state machine and
// severity-tracking rules, and returns what happened. lastFiringAt is the
// most recent firing event linked to the incident before this one;
// quiet is the quiet period a resolving incident must stay calm before a
// resolved event closes it.
func ApplyEvent(inc *domain.Incident, ev *domain.AlertEvent, lastFiringAt *time.Time, now time.Time, quiet time.Duration) Transition {
	tr := Transition{From: inc.Status, To: inc.Status}

	// Severity tracking: current always follows the event, max is monotonic.
	inc.SeverityCurrent = ev.Severity
	if ev.Severity.Rank() > inc.SeverityMax.Rank() {
		inc.SeverityMax = ev.Severity
		tr.Escalated = true
	}
	inc.LastState = ev.State

	switch {
	case ev.State == domain.StateResolved && inc.Status == domain.StatusOpen:
		tr.To = domain.StatusResolving

	case ev.State == domain.StateResolved && inc.Status == domain.StatusResolving:
		// Close only after the quiet period since the last firing event.
		if lastFiringAt == nil || now.Sub(*lastFiringAt) >= quiet {
			tr.To = domain.StatusResolved
			reason := domain.ResolutionExplicitClear
			inc.ResolutionReason = &reason
			resolvedAt := now
			inc.ResolvedAt = &resolvedAt
		}

	case ev.State != domain.StateResolved && inc.Status == domain.StatusResolving:
		// The problem came back before it settled.
		tr.To = domain.StatusOpen
		inc.FlapCount++
		inc.ResolutionReason = nil
		inc.ResolvedAt = nil
		tr.Flapped = true
	}

	if tr.To != tr.From {
		inc.Status = tr.To
		tr.StatusChanged = true
	}
	return tr
}
