package domain

import (
	"time"

	"github.com/google/uuid"
)

// Confidence thresholds for the learning extractor.
const (
	ConfidenceCacheThreshold      = 0.75 // at or above: cache the rule set
	ConfidenceQuarantineThreshold = 0.4  // below: quarantine the event
)

// Extraction types recorded on events and extraction logs.
const (
	ExtractionTypeCached        = "cached_match"
	ExtractionTypeLearned       = "learned"
	ExtractionTypeLowConfidence = "low_confidence"
	ExtractionTypeStatic        = "static"
)

// ExtractionRule extracts one field from subject or body.
type ExtractionRule struct {
	Source    string            `json:"source"` // subject | body
	Regex     string            `json:"regex"`
	Group     string            `json:"group"`
	Normalize map[string]string `json:"normalize,omitempty"`
}

// RuleSet maps field names (host, service, severity, state, summary) to
// their extraction rules.
type RuleSet map[string]ExtractionRule

// PatternCache is one learned extraction rule set, keyed by the format
// signature hash. Mutated only by match counting.
type PatternCache struct {
	ID               int64
	SignatureHash    string
	FromDomain       string
	SubjectPrefix    string
	BodyMarkers      []string
	SourceName       string
	SourceTool       string
	ExtractionRules  RuleSet
	MatchCount       int64
	LastMatchedAt    *time.Time
	CreatedFromEmail *uuid.UUID
	CreatedAt        time.Time
}

// ExtractionResult is the outcome of one extraction attempt.
type ExtractionResult struct {
	Fields     map[string]string
	SourceTool string
	SourceName string
	Confidence float64
	Type       string // cached_match | learned | low_confidence | static
}

// ExtractionLog audits every extraction attempt, cached or LLM.
type ExtractionLog struct {
	ID             int64
	RawEmailID     uuid.UUID
	PatternID      *int64
	ExtractionType string
	Extracted      map[string]string
	Confidence     float64
	LLMResponse    string
	DurationMS     int64
	CreatedAt      time.Time
}

// QuarantineReason classifies why an extraction was quarantined.
type QuarantineReason string

const (
	QuarantineLowConfidence    QuarantineReason = "low_confidence"
	QuarantineValidationFailed QuarantineReason = "validation_failed"
	QuarantineMissingFields    QuarantineReason = "missing_required_fields"
	QuarantineSuspicious       QuarantineReason = "suspicious_content"
	QuarantineLLMError         QuarantineReason = "llm_error"
)

// QuarantineAction is an operator decision on a quarantined event.
type QuarantineAction string

const (
	QuarantineApproved QuarantineAction = "approved"
	QuarantineRejected QuarantineAction = "rejected"
	QuarantineEdited   QuarantineAction = "edited"
)

// QuarantineEvent holds a low-confidence or invalid extraction pending
// operator review.
type QuarantineEvent struct {
	ID             int64
	RawEmailID     uuid.UUID
	ExtractionData map[string]any
	Confidence     float64
	Reason         QuarantineReason
	ReviewedAt     *time.Time
	ReviewedBy     string
	ActionTaken    *QuarantineAction
	EditedData     map[string]any
	CreatedAt      time.Time
}
