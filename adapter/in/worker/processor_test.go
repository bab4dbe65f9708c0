package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/core/service/correlate"
	"alert_worker/core/service/idempotency"
	"alert_worker/core/service/maintenance"
	"alert_worker/core/service/parse"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type fakeEmailRepo struct {
	email    *domain.RawEmail
	loadErr  error
	statuses map[uuid.UUID]domain.ParseStatus
}

func (f *fakeEmailRepo) StoreEmail(ctx context.Context, email *domain.RawEmail) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}

func (f *fakeEmailRepo) GetEmail(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error) {
	return f.email, f.loadErr
}

func (f *fakeEmailRepo) UpdateParseStatus(ctx context.Context, id uuid.UUID, status domain.ParseStatus, parseErr string) error {
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]domain.ParseStatus{}
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeEmailRepo) GetCursor(ctx context.Context, folder string) (*domain.FolderCursor, error) {
	return nil, nil
}

func (f *fakeEmailRepo) ListCursors(ctx context.Context) ([]*domain.FolderCursor, error) {
	return nil, nil
}

func (f *fakeEmailRepo) RecordPollError(ctx context.Context, folder string, pollErr error) error {
	return nil
}

func (f *fakeEmailRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeTx struct {
	inserted []*domain.AlertEvent
	created  []*domain.Incident
}

func (f *fakeTx) LockFingerprint(ctx context.Context, fingerprint string) error {
	return nil
}

func (f *fakeTx) InsertEvent(ctx context.Context, event *domain.AlertEvent) error {
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeTx) LockOpenIncident(ctx context.Context, fpV2, fpV1 string) (*domain.Incident, error) {
	return nil, nil
}

func (f *fakeTx) HasRecentEventWithState(ctx context.Context, incidentID uuid.UUID, state domain.State, since time.Time) (bool, error) {
	return false, nil
}

func (f *fakeTx) LastFiringAt(ctx context.Context, incidentID uuid.UUID) (*time.Time, error) {
	return nil, nil
}

func (f *fakeTx) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	return nil
}

func (f *fakeTx) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	f.created = append(f.created, incident)
	return nil
}

func (f *fakeTx) LinkEvent(ctx context.Context, incidentID, eventID uuid.UUID, deduplicated bool) error {
	return nil
}

func (f *fakeTx) FindRecentlyResolved(ctx context.Context, fpV2 string, since time.Time) (*domain.Incident, error) {
	return nil, nil
}

type fakeIncidentRepo struct {
	tx fakeTx
}

func (f *fakeIncidentRepo) WithTx(ctx context.Context, fn func(tx out.CorrelationTx) error) error {
	return fn(&f.tx)
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

type fakeIdemRepo struct {
	keys     map[string]*domain.IdempotencyKey
	acquires int
}

func (f *fakeIdemRepo) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*domain.IdempotencyKey, error) {
	f.acquires++
	if existing, ok := f.keys[key]; ok {
		return existing, nil
	}
	if f.keys == nil {
		f.keys = map[string]*domain.IdempotencyKey{}
	}
	f.keys[key] = &domain.IdempotencyKey{Key: key, Status: domain.IdempotencyProcessing}
	return nil, nil
}

func (f *fakeIdemRepo) Complete(ctx context.Context, key string, result []byte) error {
	f.keys[key].Status = domain.IdempotencyCompleted
	f.keys[key].Result = result
	return nil
}

func (f *fakeIdemRepo) Fail(ctx context.Context, key string) error {
	f.keys[key].Status = domain.IdempotencyFailed
	return nil
}

func (f *fakeIdemRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeDLQRepo struct {
	items []*domain.DLQItem
}

func (f *fakeDLQRepo) Enqueue(ctx context.Context, item *domain.DLQItem) (int64, error) {
	f.items = append(f.items, item)
	return int64(len(f.items)), nil
}

func (f *fakeDLQRepo) ClaimForRetry(ctx context.Context, limit int, now time.Time) ([]*domain.DLQItem, error) {
	return nil, nil
}

func (f *fakeDLQRepo) MarkResolved(ctx context.Context, id int64) error { return nil }

func (f *fakeDLQRepo) MarkFailed(ctx context.Context, id int64, errMsg string, now time.Time) error {
	return nil
}

func (f *fakeDLQRepo) Stats(ctx context.Context) (*domain.DLQStats, error) { return nil, nil }

func (f *fakeDLQRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeMaintRepo struct {
	windows []*domain.MaintenanceWindow
}

func (f *fakeMaintRepo) UpsertWindow(ctx context.Context, w *domain.MaintenanceWindow) (uuid.UUID, error) {
	w.ID = uuid.New()
	f.windows = append(f.windows, w)
	return w.ID, nil
}

func (f *fakeMaintRepo) CancelByExternalID(ctx context.Context, source domain.WindowSource, externalEventID string) error {
	return nil
}

func (f *fakeMaintRepo) DeleteOccurrences(ctx context.Context, parentID uuid.UUID) error {
	return nil
}

func (f *fakeMaintRepo) ActiveWindows(ctx context.Context, now time.Time) ([]*domain.MaintenanceWindow, error) {
	return nil, nil
}

func (f *fakeMaintRepo) CandidateIncidents(ctx context.Context) ([]*domain.Incident, error) {
	return nil, nil
}

func (f *fakeMaintRepo) InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error {
	return nil
}

func (f *fakeMaintRepo) MarkInMaintenance(ctx context.Context, incidentID, windowID uuid.UUID) error {
	return nil
}

func (f *fakeMaintRepo) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeMaintRepo) WindowForIncident(ctx context.Context, incidentID uuid.UUID) (*domain.MaintenanceWindow, error) {
	return nil, nil
}

type pipelineFakes struct {
	emails    *fakeEmailRepo
	incidents *fakeIncidentRepo
	idem      *fakeIdemRepo
	dlq       *fakeDLQRepo
	maint     *fakeMaintRepo
}

func newTestProcessor(f *pipelineFakes) *Processor {
	return NewProcessor(
		nil,
		ProcessorConfig{Consumer: "test", DLQMaxRetries: 5},
		f.emails,
		f.incidents,
		idempotency.NewService(f.idem, f.dlq, time.Hour),
		parse.NewService(),
		nil,
		correlate.NewService(f.incidents, 10*time.Minute, 30*time.Minute),
		maintenance.NewEngine(f.maint, nil, 90*24*time.Hour),
		nil,
	)
}

func newPipelineFakes(email *domain.RawEmail) *pipelineFakes {
	return &pipelineFakes{
		emails:    &fakeEmailRepo{email: email},
		incidents: &fakeIncidentRepo{},
		idem:      &fakeIdemRepo{},
		dlq:       &fakeDLQRepo{},
		maint:     &fakeMaintRepo{},
	}
}

func alertEmail() *domain.RawEmail {
	date := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	return &domain.RawEmail{
		ID:          uuid.New(),
		Folder:      "INBOX",
		MessageID:   "alert-1@monitor.example.com",
		Subject:     "** PROBLEM** Host: db-01",
		FromAddress: "alerts@monitor.example.com",
		DateHeader:  &date,
		BodyText: "Service: postgres\n" +
			"State: CRITICAL\n" +
			"Additional Info: connection refused\n" +
			"Notification sent by op5 Monitor\n",
		ParseStatus: domain.ParseStatusPending,
	}
}

func TestProcessEmailAlertBranch(t *testing.T) {
	email := alertEmail()
	fakes := newPipelineFakes(email)
	p := newTestProcessor(fakes)

	if err := p.ProcessEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}

	if len(fakes.incidents.tx.inserted) != 1 {
		t.Fatal("event not inserted")
	}
	ev := fakes.incidents.tx.inserted[0]
	if ev.SourceTool != "op5" || ev.Severity != domain.SeverityCritical || ev.State != domain.StateFiring {
		t.Errorf("event = tool=%q sev=%q state=%q", ev.SourceTool, ev.Severity, ev.State)
	}
	if len(fakes.incidents.tx.created) != 1 {
		t.Fatal("incident not created")
	}
	if fakes.emails.statuses[email.ID] != domain.ParseStatusSuccess {
		t.Errorf("status = %q", fakes.emails.statuses[email.ID])
	}

	key := idempotency.Key(email.ID.String(), email.MessageID)
	row := fakes.idem.keys[key]
	if row == nil || row.Status != domain.IdempotencyCompleted {
		t.Fatalf("idempotency key = %+v, want completed", row)
	}
	var result processResult
	if err := json.Unmarshal(row.Result, &result); err != nil {
		t.Fatalf("decode cached result: %v", err)
	}
	if result.Branch != "alert" || result.IncidentID == "" {
		t.Errorf("result = %+v", result)
	}
}

func TestProcessEmailMaintenanceBranch(t *testing.T) {
	date := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	email := &domain.RawEmail{
		ID:          uuid.New(),
		Folder:      "INBOX",
		MessageID:   "mw-1@ops.example.com",
		Subject:     "[MW] core switch upgrade",
		DateHeader:  &date,
		BodyText:    "Rack 12 switches will be upgraded.",
		ParseStatus: domain.ParseStatusPending,
	}
	fakes := newPipelineFakes(email)
	p := newTestProcessor(fakes)

	if err := p.ProcessEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}

	if len(fakes.maint.windows) != 1 {
		t.Fatal("maintenance window not created")
	}
	if len(fakes.incidents.tx.inserted) != 0 {
		t.Error("maintenance emails must not produce alert events")
	}
	if fakes.emails.statuses[email.ID] != domain.ParseStatusSuccess {
		t.Errorf("status = %q", fakes.emails.statuses[email.ID])
	}
}

func TestProcessEmailRejectedSkipped(t *testing.T) {
	email := alertEmail()
	email.ParseStatus = domain.ParseStatusRejected
	fakes := newPipelineFakes(email)
	p := newTestProcessor(fakes)

	if err := p.ProcessEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}
	if fakes.idem.acquires != 0 {
		t.Error("rejected emails must not enter the pipeline")
	}
}

func TestProcessEmailCachedResultSkipsPipeline(t *testing.T) {
	email := alertEmail()
	fakes := newPipelineFakes(email)
	key := idempotency.Key(email.ID.String(), email.MessageID)
	fakes.idem.keys = map[string]*domain.IdempotencyKey{
		key: {Key: key, Status: domain.IdempotencyCompleted, Result: []byte(`{"branch":"alert"}`)},
	}
	p := newTestProcessor(fakes)

	if err := p.ProcessEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}
	if len(fakes.incidents.tx.inserted) != 0 {
		t.Error("completed key must short-circuit the pipeline")
	}
	if len(fakes.emails.statuses) != 0 {
		t.Error("cached runs must not touch parse status")
	}
}

func TestHandleParksFailuresInDLQ(t *testing.T) {
	fakes := newPipelineFakes(nil)
	fakes.emails.loadErr = errors.New("db down")
	p := newTestProcessor(fakes)

	job, _ := json.Marshal(out.EmailIngestedJob{EmailID: uuid.NewString(), Folder: "INBOX"})
	if err := p.handle("1-0", job); err != nil {
		t.Fatalf("handle() error = %v, poison input must be parked, not retried", err)
	}

	if len(fakes.dlq.items) != 1 {
		t.Fatal("failure not parked in the DLQ")
	}
	item := fakes.dlq.items[0]
	if item.EventType != EventTypeEmailProcessing || item.MaxRetries != 5 {
		t.Errorf("item = %+v", item)
	}
}

func TestHandleDropsMalformedMessages(t *testing.T) {
	fakes := newPipelineFakes(nil)
	p := newTestProcessor(fakes)

	if err := p.handle("1-0", []byte("{not json")); err != nil {
		t.Errorf("malformed messages are dropped, got %v", err)
	}
	if err := p.handle("1-1", []byte(`{"email_id":"not-a-uuid"}`)); err != nil {
		t.Errorf("invalid ids are dropped, got %v", err)
	}
	if len(fakes.dlq.items) != 0 {
		t.Error("dropped messages must not reach the DLQ")
	}
}

func TestRetryHandlersReplayEmail(t *testing.T) {
	email := alertEmail()
	fakes := newPipelineFakes(email)
	p := newTestProcessor(fakes)
	handlers := p.RetryHandlers()

	handler := handlers[EventTypeEmailProcessing]
	if handler == nil {
		t.Fatal("no handler registered for email processing")
	}

	if err := handler(context.Background(), map[string]any{"email_id": email.ID.String()}); err != nil {
		t.Fatalf("retry handler error = %v", err)
	}
	if len(fakes.incidents.tx.created) != 1 {
		t.Error("replay must run the full pipeline")
	}

	if err := handler(context.Background(), map[string]any{"email_id": "garbage"}); err == nil {
		t.Error("invalid payloads must error so the DLQ backoff applies")
	}
}
