package domain

import (
	"time"

	"github.com/google/uuid"
)

// SuppressMode controls how a maintenance window affects notification.
type SuppressMode string

const (
	SuppressMute      SuppressMode = "mute"      // hide from notifier output
	SuppressDowngrade SuppressMode = "downgrade" // one-step severity for routing
	SuppressDigest    SuppressMode = "digest"    // force digest delivery
)

// WindowSource records where a maintenance window came from.
type WindowSource string

const (
	WindowSourceEmail  WindowSource = "email"
	WindowSourceManual WindowSource = "manual"
	WindowSourceGraph  WindowSource = "graph"
)

// MaintenanceScope restricts which incidents a window suppresses.
// An empty scope matches everything (open-ended maintenance).
type MaintenanceScope struct {
	Hosts        []string `json:"hosts,omitempty"`
	HostRegex    string   `json:"host_regex,omitempty"`
	Services     []string `json:"services,omitempty"`
	ServiceRegex string   `json:"service_regex,omitempty"`
	Environments []string `json:"environments,omitempty"`
	Regions      []string `json:"regions,omitempty"`
	CheckNames   []string `json:"check_names,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// IsEmpty reports whether no dimension is constrained.
func (s MaintenanceScope) IsEmpty() bool {
	return len(s.Hosts) == 0 && s.HostRegex == "" &&
		len(s.Services) == 0 && s.ServiceRegex == "" &&
		len(s.Environments) == 0 && len(s.Regions) == 0 &&
		len(s.CheckNames) == 0 && len(s.Tags) == 0
}

// MaintenanceWindow is one suppression interval. Recurring windows store
// the RRULE; expanded occurrences reference the same row via
// OccurrenceOf so recomputation stays deterministic.
type MaintenanceWindow struct {
	ID              uuid.UUID
	Source          WindowSource
	ExternalEventID string // unique with source when present
	Title           string
	Description     string
	Organizer       string

	StartsAt time.Time
	EndsAt   time.Time
	Timezone string

	IsRecurring     bool
	RecurrenceRule  string
	OccurrenceOf    *uuid.UUID // parent window for expanded occurrences
	ExpansionHorizon *time.Time

	Scope        MaintenanceScope
	SuppressMode SuppressMode
	IsActive     bool

	RawEmailID *uuid.UUID
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ActiveAt reports whether the window covers the given instant.
func (w *MaintenanceWindow) ActiveAt(now time.Time) bool {
	return w.IsActive && !now.Before(w.StartsAt) && !now.After(w.EndsAt)
}

// MatchCriterion explains one dimension of a maintenance match.
type MatchCriterion struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	Value   string `json:"value"`
}

// MaintenanceMatch links a window to an incident it suppresses.
type MaintenanceMatch struct {
	ID          int64
	WindowID    uuid.UUID
	IncidentID  uuid.UUID
	MatchReason []MatchCriterion
	MatchedAt   time.Time
}
