package domain

import "time"

// Config types under version control.
const (
	ConfigTypeParsers   = "parsers"
	ConfigTypeRedaction = "redaction"
	ConfigTypeNotify    = "notifications"
)

// ConfigVersion is one hashed snapshot of a runtime configuration.
// At most one version per type is active.
type ConfigVersion struct {
	ID            int64
	ConfigType    string
	ConfigHash    string
	ConfigData    map[string]any
	CreatedBy     string
	Notes         string
	IsActive      bool
	ActivatedAt   *time.Time
	DeactivatedAt *time.Time
	CreatedAt     time.Time
}

// ConfigVersionSummary is the history view without the full payload.
type ConfigVersionSummary struct {
	ID          int64      `json:"id"`
	Hash        string     `json:"hash"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by"`
	Notes       string     `json:"notes,omitempty"`
	IsActive    bool       `json:"is_active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}
