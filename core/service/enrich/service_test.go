package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/redact"

	"github.com/google/uuid"
)

type fakeIncidents struct {
	incident *domain.Incident
	events   []*domain.AlertEvent
	saved    map[uuid.UUID]*domain.Enrichment
}

func (f *fakeIncidents) WithTx(ctx context.Context, fn func(tx out.CorrelationTx) error) error {
	return nil
}

func (f *fakeIncidents) GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	return f.incident, nil
}

func (f *fakeIncidents) AutoResolveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeIncidents) ResolveQuiet(ctx context.Context, quietPeriod time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeIncidents) IncidentsForEnrichment(ctx context.Context, limit int) ([]*domain.Incident, error) {
	return nil, nil
}

func (f *fakeIncidents) RecentEvents(ctx context.Context, incidentID uuid.UUID, limit int) ([]*domain.AlertEvent, error) {
	return f.events, nil
}

func (f *fakeIncidents) SaveEnrichment(ctx context.Context, incidentID uuid.UUID, e *domain.Enrichment) error {
	if f.saved == nil {
		f.saved = map[uuid.UUID]*domain.Enrichment{}
	}
	f.saved[incidentID] = e
	return nil
}

func (f *fakeIncidents) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return nil, nil
}

type fakeAdvisory struct {
	requests  []*out.EnrichmentRequest
	responses []*domain.Enrichment
	errs      []error
	calls     int
}

func (f *fakeAdvisory) Enrich(ctx context.Context, req *out.EnrichmentRequest) (*domain.Enrichment, error) {
	f.requests = append(f.requests, req)
	i := f.calls
	f.calls++
	var resp *domain.Enrichment
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func enrichTestIncident() *domain.Incident {
	return &domain.Incident{
		ID:              uuid.New(),
		Title:           "[HIGH] db-01 postgres (op5)",
		Host:            "db-01",
		CheckName:       "postgres",
		SeverityCurrent: domain.SeverityHigh,
		SeverityMax:     domain.SeverityHigh,
		Status:          domain.StatusOpen,
		FirstSeenAt:     time.Now().UTC().Add(-time.Hour),
		LastSeenAt:      time.Now().UTC(),
		EventCount:      4,
	}
}

func newEnrichService(incidents *fakeIncidents, advisory *fakeAdvisory) *Service {
	svc := NewService(incidents, advisory, redact.New(""))
	svc.sleep = func(time.Duration) {}
	return svc
}

func TestEnrichIncidentSavesResult(t *testing.T) {
	inc := enrichTestIncident()
	incidents := &fakeIncidents{incident: inc}
	advisory := &fakeAdvisory{responses: []*domain.Enrichment{{
		Summary:    "connection pool exhausted",
		Category:   "database",
		OwnerTeam:  "dba",
		Confidence: 0.8,
	}}}
	svc := newEnrichService(incidents, advisory)

	if err := svc.EnrichIncident(context.Background(), inc.ID); err != nil {
		t.Fatalf("EnrichIncident() error = %v", err)
	}

	saved := incidents.saved[inc.ID]
	if saved == nil {
		t.Fatal("enrichment not saved")
	}
	if saved.Category != "database" {
		t.Errorf("Category = %q", saved.Category)
	}
	if saved.EnrichedAt == nil {
		t.Error("EnrichedAt must be stamped")
	}
}

func TestEnrichIncidentRetriesTransientFailures(t *testing.T) {
	inc := enrichTestIncident()
	incidents := &fakeIncidents{incident: inc}
	advisory := &fakeAdvisory{
		errs:      []error{errors.New("503"), errors.New("503"), nil},
		responses: []*domain.Enrichment{nil, nil, {Summary: "ok", Confidence: 0.7}},
	}
	svc := newEnrichService(incidents, advisory)

	if err := svc.EnrichIncident(context.Background(), inc.ID); err != nil {
		t.Fatalf("EnrichIncident() error = %v", err)
	}
	if advisory.calls != 3 {
		t.Errorf("calls = %d, want 3", advisory.calls)
	}
	if incidents.saved[inc.ID] == nil {
		t.Error("third attempt succeeded, enrichment must be saved")
	}
}

func TestEnrichIncidentGivesUpAfterMaxAttempts(t *testing.T) {
	inc := enrichTestIncident()
	incidents := &fakeIncidents{incident: inc}
	advisory := &fakeAdvisory{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	svc := newEnrichService(incidents, advisory)

	if err := svc.EnrichIncident(context.Background(), inc.ID); err == nil {
		t.Fatal("persistent failure must surface")
	}
	if advisory.calls != 3 {
		t.Errorf("calls = %d, want 3", advisory.calls)
	}
	if len(incidents.saved) != 0 {
		t.Error("nothing may be saved after giving up")
	}
}

func TestEnrichIncidentMissingIncident(t *testing.T) {
	advisory := &fakeAdvisory{}
	svc := newEnrichService(&fakeIncidents{}, advisory)

	if err := svc.EnrichIncident(context.Background(), uuid.New()); err != nil {
		t.Fatalf("missing incident must be a no-op, got %v", err)
	}
	if advisory.calls != 0 {
		t.Error("no advisory call for a missing incident")
	}
}

func TestBuildRequestRedactsAndTruncates(t *testing.T) {
	inc := enrichTestIncident()
	inc.Title = "[HIGH] contact admin@example.com"

	longInfo := make([]byte, 2000)
	for i := range longInfo {
		longInfo[i] = 'x'
	}
	events := []*domain.AlertEvent{{
		SourceTool: "op5",
		Host:       "db-01",
		Severity:   domain.SeverityHigh,
		State:      domain.StateFiring,
		OccurredAt: time.Now().UTC(),
		Payload: map[string]any{
			"subject": "mail ops@example.com now",
			"info":    string(longInfo),
		},
	}}

	svc := newEnrichService(&fakeIncidents{}, &fakeAdvisory{})
	req := svc.buildRequest(inc, events)

	title, _ := req.Incident["title"].(string)
	if title != "[HIGH] contact [EMAIL]" {
		t.Errorf("title = %q, must be redacted", title)
	}

	if len(req.Events) != 1 {
		t.Fatalf("events = %d", len(req.Events))
	}
	subject, _ := req.Events[0]["subject"].(string)
	if subject != "mail [EMAIL] now" {
		t.Errorf("subject = %q", subject)
	}
	body, _ := req.Events[0]["body"].(string)
	if len(body) != 1000 {
		t.Errorf("body length = %d, want truncated to 1000", len(body))
	}

	if req.RequestType != "enrichment" || req.MaxSuggestions != 5 {
		t.Errorf("request meta = %q/%d", req.RequestType, req.MaxSuggestions)
	}
}
