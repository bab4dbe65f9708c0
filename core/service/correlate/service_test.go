package correlate

import (
	"context"
	"testing"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"

	"github.com/google/uuid"
)

type linkRec struct {
	incidentID   uuid.UUID
	eventID      uuid.UUID
	deduplicated bool
}

// fakeTx is an in-memory CorrelationTx for exercising ProcessEvent.
type fakeTx struct {
	open           *domain.Incident
	recentResolved *domain.Incident
	lastFiring     *time.Time
	recentSame     bool

	inserted []*domain.AlertEvent
	created  []*domain.Incident
	updated  []*domain.Incident
	links    []linkRec
	locked   []string

	lockedAtInsert int
}

func (f *fakeTx) LockFingerprint(ctx context.Context, fingerprint string) error {
	f.locked = append(f.locked, fingerprint)
	return nil
}

func (f *fakeTx) InsertEvent(ctx context.Context, event *domain.AlertEvent) error {
	f.lockedAtInsert = len(f.locked)
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeTx) LockOpenIncident(ctx context.Context, fpV2, fpV1 string) (*domain.Incident, error) {
	if f.open != nil && (f.open.FingerprintV2 == fpV2 || f.open.Fingerprint == fpV1) {
		return f.open, nil
	}
	return nil, nil
}

func (f *fakeTx) HasRecentEventWithState(ctx context.Context, incidentID uuid.UUID, state domain.State, since time.Time) (bool, error) {
	return f.recentSame, nil
}

func (f *fakeTx) LastFiringAt(ctx context.Context, incidentID uuid.UUID) (*time.Time, error) {
	return f.lastFiring, nil
}

func (f *fakeTx) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	f.updated = append(f.updated, incident)
	return nil
}

func (f *fakeTx) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	f.created = append(f.created, incident)
	return nil
}

func (f *fakeTx) LinkEvent(ctx context.Context, incidentID, eventID uuid.UUID, deduplicated bool) error {
	f.links = append(f.links, linkRec{incidentID, eventID, deduplicated})
	return nil
}

func (f *fakeTx) FindRecentlyResolved(ctx context.Context, fpV2 string, since time.Time) (*domain.Incident, error) {
	if f.recentResolved != nil && f.recentResolved.FingerprintV2 == fpV2 {
		if f.recentResolved.ResolvedAt != nil && f.recentResolved.ResolvedAt.After(since) {
			return f.recentResolved, nil
		}
	}
	return nil, nil
}

// fakeIncidentRepo satisfies out.IncidentRepository around a single fakeTx.
type fakeIncidentRepo struct {
	tx *fakeTx
}

func (f *fakeIncidentRepo) WithTx(ctx context.Context, fn func(tx out.CorrelationTx) error) error {
	return fn(f.tx)
}

func (f *fakeIncidentRepo) GetIncident(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	return nil, nil
}

func (f *fakeIncidentRepo) AutoResolveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeIncidentRepo) ResolveQuiet(ctx context.Context, quietPeriod time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeIncidentRepo) IncidentsForEnrichment(ctx context.Context, limit int) ([]*domain.Incident, error) {
	return nil, nil
}

func (f *fakeIncidentRepo) RecentEvents(ctx context.Context, incidentID uuid.UUID, limit int) ([]*domain.AlertEvent, error) {
	return nil, nil
}

func (f *fakeIncidentRepo) SaveEnrichment(ctx context.Context, incidentID uuid.UUID, e *domain.Enrichment) error {
	return nil
}

func (f *fakeIncidentRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return nil, nil
}

func newTestService(tx *fakeTx) *Service {
	return NewService(&fakeIncidentRepo{tx: tx}, 10*time.Minute, 30*time.Minute)
}

func testEvent(fp string, state domain.State, sev domain.Severity) *domain.AlertEvent {
	return &domain.AlertEvent{
		SourceTool:    "op5",
		Host:          "db-01",
		CheckName:     "postgres",
		Severity:      sev,
		State:         state,
		OccurredAt:    time.Now().UTC(),
		FingerprintV2: fp,
		Fingerprint:   "v1-" + fp,
	}
}

func TestProcessEventCreatesIncident(t *testing.T) {
	tx := &fakeTx{}
	svc := newTestService(tx)

	ev := testEvent("fp-a", domain.StateFiring, domain.SeverityCritical)
	id, err := svc.ProcessEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected new incident id")
	}

	if len(tx.inserted) != 1 {
		t.Errorf("event not inserted")
	}
	if len(tx.created) != 1 {
		t.Fatalf("created %d incidents, want 1", len(tx.created))
	}
	inc := tx.created[0]
	if inc.Status != domain.StatusOpen {
		t.Errorf("Status = %q, want open", inc.Status)
	}
	if inc.EventCount != 1 || inc.SeverityMax != domain.SeverityCritical {
		t.Errorf("unexpected incident: count=%d max=%q", inc.EventCount, inc.SeverityMax)
	}
	if inc.Title == "" {
		t.Error("incident must carry a title")
	}
	if len(tx.links) != 1 || tx.links[0].deduplicated {
		t.Errorf("expected one non-dedup link, got %v", tx.links)
	}
	if ev.ID == uuid.Nil {
		t.Error("ProcessEvent must assign the event an id")
	}
}

func TestProcessEventLocksFingerprintBeforeCreate(t *testing.T) {
	tx := &fakeTx{}
	svc := newTestService(tx)

	ev := testEvent("fp-a", domain.StateFiring, domain.SeverityHigh)
	if _, err := svc.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	if len(tx.locked) != 1 || tx.locked[0] != ev.FingerprintV2 {
		t.Fatalf("locked = %v, want exactly [%q]", tx.locked, ev.FingerprintV2)
	}
	// Two concurrent first events for the same fingerprint both see no
	// open incident; the lock must be in place before any row work so the
	// loser queues behind the winner instead of creating a duplicate.
	if tx.lockedAtInsert != 1 {
		t.Error("fingerprint must be locked before the event is inserted")
	}
	if len(tx.created) != 1 {
		t.Fatalf("created %d incidents, want 1", len(tx.created))
	}
}

func TestProcessEventDeduplicates(t *testing.T) {
	open := &domain.Incident{
		ID:            uuid.New(),
		FingerprintV2: "fp-a",
		Status:        domain.StatusOpen,
		SeverityMax:   domain.SeverityHigh,
		EventCount:    3,
	}
	tx := &fakeTx{open: open, recentSame: true}
	svc := newTestService(tx)

	ev := testEvent("fp-a", domain.StateFiring, domain.SeverityHigh)
	id, err := svc.ProcessEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if id != open.ID {
		t.Errorf("id = %v, want existing incident", id)
	}

	if len(tx.links) != 1 || !tx.links[0].deduplicated {
		t.Errorf("expected deduplicated link, got %v", tx.links)
	}
	if open.EventCount != 4 {
		t.Errorf("EventCount = %d, want 4", open.EventCount)
	}
	if len(tx.created) != 0 {
		t.Error("must not create a second incident for an open fingerprint")
	}
}

func TestProcessEventResolvedTransitionsExisting(t *testing.T) {
	open := &domain.Incident{
		ID:            uuid.New(),
		FingerprintV2: "fp-a",
		Status:        domain.StatusOpen,
		SeverityMax:   domain.SeverityHigh,
	}
	tx := &fakeTx{open: open}
	svc := newTestService(tx)

	_, err := svc.ProcessEvent(context.Background(), testEvent("fp-a", domain.StateResolved, domain.SeverityInfo))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if open.Status != domain.StatusResolving {
		t.Errorf("Status = %q, want resolving", open.Status)
	}
	if len(tx.updated) != 1 {
		t.Errorf("incident not persisted")
	}
}

func TestProcessEventStrayResolvedDropped(t *testing.T) {
	tx := &fakeTx{}
	svc := newTestService(tx)

	id, err := svc.ProcessEvent(context.Background(), testEvent("fp-x", domain.StateResolved, domain.SeverityInfo))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if id != uuid.Nil {
		t.Errorf("stray resolution must return Nil id, got %v", id)
	}
	if len(tx.inserted) != 1 {
		t.Error("the event itself is still recorded")
	}
	if len(tx.created) != 0 || len(tx.links) != 0 {
		t.Error("stray resolution must not create or link an incident")
	}
}

func TestProcessEventResolvedLinksToRecentlyResolved(t *testing.T) {
	resolvedAt := time.Now().UTC().Add(-10 * time.Minute)
	recent := &domain.Incident{
		ID:            uuid.New(),
		FingerprintV2: "fp-a",
		Status:        domain.StatusResolved,
		ResolvedAt:    &resolvedAt,
	}
	tx := &fakeTx{recentResolved: recent}
	svc := newTestService(tx)

	id, err := svc.ProcessEvent(context.Background(), testEvent("fp-a", domain.StateResolved, domain.SeverityInfo))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if id != recent.ID {
		t.Errorf("id = %v, want the resolved incident", id)
	}
	if recent.Status != domain.StatusResolved {
		t.Error("a late resolution must not reopen the incident")
	}
	if len(tx.links) != 1 {
		t.Errorf("expected one link, got %v", tx.links)
	}
}

func TestProcessEventFiringReopensRecentlyResolved(t *testing.T) {
	resolvedAt := time.Now().UTC().Add(-10 * time.Minute)
	reason := domain.ResolutionExplicitClear
	recent := &domain.Incident{
		ID:               uuid.New(),
		FingerprintV2:    "fp-a",
		Status:           domain.StatusResolved,
		SeverityMax:      domain.SeverityMedium,
		ResolvedAt:       &resolvedAt,
		ResolutionReason: &reason,
		EventCount:       5,
	}
	tx := &fakeTx{recentResolved: recent}
	svc := newTestService(tx)

	ev := testEvent("fp-a", domain.StateFiring, domain.SeverityCritical)
	id, err := svc.ProcessEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if id != recent.ID {
		t.Errorf("id = %v, want reopened incident", id)
	}

	if recent.Status != domain.StatusOpen {
		t.Errorf("Status = %q, want open after reopen", recent.Status)
	}
	if recent.FlapCount != 1 {
		t.Errorf("FlapCount = %d, want 1", recent.FlapCount)
	}
	if recent.ResolutionReason != nil || recent.ResolvedAt != nil {
		t.Error("reopen must clear resolution fields")
	}
	if recent.SeverityMax != domain.SeverityCritical {
		t.Errorf("SeverityMax = %q, want escalated", recent.SeverityMax)
	}
	if recent.EventCount != 6 {
		t.Errorf("EventCount = %d, want 6", recent.EventCount)
	}
	if len(tx.created) != 0 {
		t.Error("reopen must not create a new incident")
	}
}

func TestProcessEventFiringOutsideReopenWindowCreatesNew(t *testing.T) {
	resolvedAt := time.Now().UTC().Add(-2 * time.Hour)
	recent := &domain.Incident{
		ID:            uuid.New(),
		FingerprintV2: "fp-a",
		Status:        domain.StatusResolved,
		ResolvedAt:    &resolvedAt,
	}
	tx := &fakeTx{recentResolved: recent}
	svc := newTestService(tx)

	id, err := svc.ProcessEvent(context.Background(), testEvent("fp-a", domain.StateFiring, domain.SeverityHigh))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if id == uuid.Nil || id == recent.ID {
		t.Errorf("expected a fresh incident, got %v", id)
	}
	if len(tx.created) != 1 {
		t.Errorf("created %d, want 1", len(tx.created))
	}
	if recent.Status != domain.StatusResolved {
		t.Error("the old incident must stay resolved")
	}
}
