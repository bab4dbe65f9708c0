package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the normalized alert severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities for escalation and sorting.
var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the canonical ordering value; unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// severityAliases maps tool-specific severity words to normalized levels.
var severityAliases = map[string]Severity{
	"critical":      SeverityCritical,
	"crit":          SeverityCritical,
	"emergency":     SeverityCritical,
	"alert":         SeverityCritical,
	"red":           SeverityCritical,
	"excessive":     SeverityHigh,
	"firing":        SeverityHigh,
	"high":          SeverityHigh,
	"major":         SeverityHigh,
	"error":         SeverityHigh,
	"warning":       SeverityMedium,
	"warn":          SeverityMedium,
	"medium":        SeverityMedium,
	"yellow":        SeverityMedium,
	"minor":         SeverityLow,
	"low":           SeverityLow,
	"info":          SeverityInfo,
	"informational": SeverityInfo,
	"ok":            SeverityInfo,
	"resolved":      SeverityInfo,
	"recovery":      SeverityInfo,
	"green":         SeverityInfo,
}

// NormalizeSeverity maps a raw severity string to a normalized level.
// Empty or unrecognized values default to medium.
func NormalizeSeverity(raw string) Severity {
	if raw == "" {
		return SeverityMedium
	}
	if sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return sev
	}
	return SeverityMedium
}

// Downgrade returns the severity one rank lower, used by maintenance
// windows in downgrade suppress mode.
func (s Severity) Downgrade() Severity {
	switch s {
	case SeverityCritical:
		return SeverityHigh
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// State is the normalized alert state.
type State string

const (
	StateFiring   State = "firing"
	StateResolved State = "resolved"
	StateUnknown  State = "unknown"
)

var resolvedStateWords = map[string]bool{
	"ok": true, "resolved": true, "recovery": true, "green": true,
	"closed": true, "clear": true,
}

var firingStateWords = map[string]bool{
	"problem": true, "critical": true, "warning": true, "firing": true,
	"red": true, "yellow": true, "triggered": true, "open": true,
}

// NormalizeState maps a raw state string to firing/resolved/unknown.
// Empty defaults to firing: a monitoring email with no state marker is
// almost always a problem notification.
func NormalizeState(raw string) State {
	if raw == "" {
		return StateFiring
	}
	word := strings.ToLower(strings.TrimSpace(raw))
	if resolvedStateWords[word] {
		return StateResolved
	}
	if firingStateWords[word] {
		return StateFiring
	}
	return StateUnknown
}

// AlertEvent is one normalized alert extracted from a raw email.
// Immutable after insert.
type AlertEvent struct {
	ID                  uuid.UUID
	RawEmailID          *uuid.UUID // nil for synthetic events
	SourceTool          string
	Environment         string
	Region              string
	Host                string
	CheckName           string
	Service             string
	Severity            Severity
	State               State
	OccurredAt          time.Time
	NormalizedSignature string
	Fingerprint         string // legacy v1
	FingerprintV2       string // primary correlation key
	Payload             map[string]any
	Tags                []string
	CreatedAt           time.Time
}

// CheckOrService returns the check name, falling back to service.
func (e *AlertEvent) CheckOrService() string {
	if e.CheckName != "" {
		return e.CheckName
	}
	return e.Service
}
