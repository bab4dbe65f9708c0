package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is the correlation state machine status.
type IncidentStatus string

const (
	StatusOpen         IncidentStatus = "open"
	StatusAcknowledged IncidentStatus = "acknowledged"
	StatusResolving    IncidentStatus = "resolving"
	StatusResolved     IncidentStatus = "resolved"
	StatusSuppressed   IncidentStatus = "suppressed"
)

// IsOpenish reports whether the status participates in correlation.
// At most one incident per fingerprint may be in an open-ish status.
func (s IncidentStatus) IsOpenish() bool {
	return s == StatusOpen || s == StatusAcknowledged || s == StatusResolving
}

// ResolutionReason records why an incident was resolved.
type ResolutionReason string

const (
	ResolutionExplicitClear ResolutionReason = "explicit_clear"
	ResolutionManual        ResolutionReason = "manual"
	ResolutionMaintenance   ResolutionReason = "maintenance"
	ResolutionStale         ResolutionReason = "stale"
)

// RunbookRef points at a runbook suggested by the advisory service.
type RunbookRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// EvidenceRef is a supporting snippet returned by the advisory service.
type EvidenceRef struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
}

// Enrichment holds the advisory fields stored on an incident.
type Enrichment struct {
	Summary           string            `json:"summary"`
	Category          string            `json:"category"`
	OwnerTeam         string            `json:"owner_team"`
	RecommendedChecks []string          `json:"recommended_checks"`
	SuggestedRunbooks []RunbookRef      `json:"suggested_runbooks"`
	SafeActions       []string          `json:"safe_actions"`
	Confidence        float64           `json:"confidence"`
	Evidence          []EvidenceRef     `json:"evidence"`
	Labels            map[string]string `json:"labels"`
	EnrichedAt        *time.Time        `json:"enriched_at"`
}

// Incident is one correlated stream of alert events under a stable
// fingerprint. Never deleted; retention archives it.
type Incident struct {
	ID            uuid.UUID
	FingerprintV2 string
	Fingerprint   string // legacy v1
	Title         string

	SourceTool  string
	Environment string
	Region      string
	Host        string
	CheckName   string
	Service     string

	SeverityCurrent Severity
	SeverityMax     Severity
	LastState       State
	Status          IncidentStatus

	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	LastStateChangeAt time.Time
	EventCount        int
	FlapCount         int

	ResolvedAt       *time.Time
	ResolutionReason *ResolutionReason

	IsInMaintenance     bool
	MaintenanceWindowID *uuid.UUID

	Enrichment *Enrichment

	Tags   []string
	Labels map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IncidentEvent links an alert event to its incident.
type IncidentEvent struct {
	IncidentID     uuid.UUID
	AlertEventID   uuid.UUID
	IsDeduplicated bool
	LinkedAt       time.Time
}

const maxTitleLen = 500

// BuildIncidentTitle renders "[SEVERITY] host check (source)" truncated
// to 500 chars.
func BuildIncidentTitle(severity Severity, host, check, source string) string {
	parts := []string{fmt.Sprintf("[%s]", strings.ToUpper(string(severity)))}
	if host != "" {
		parts = append(parts, host)
	}
	if check != "" {
		parts = append(parts, check)
	}
	if source != "" {
		parts = append(parts, fmt.Sprintf("(%s)", source))
	}
	title := strings.Join(parts, " ")
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return title
}
