package out

import (
	"context"

	"alert_worker/core/domain"
)

// EnrichmentRequest is the redacted advisory payload for one incident.
type EnrichmentRequest struct {
	Incident       map[string]any   `json:"incident"`
	Events         []map[string]any `json:"events"`
	RequestType    string           `json:"request_type"`
	MaxSuggestions int              `json:"max_suggestions"`
}

// AdvisoryClient calls the external advisory (RAG) service.
type AdvisoryClient interface {
	Enrich(ctx context.Context, req *EnrichmentRequest) (*domain.Enrichment, error)
}
