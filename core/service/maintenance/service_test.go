package maintenance

import (
	"context"
	"testing"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
)

type fakeMaintRepo struct {
	windows     []*domain.MaintenanceWindow
	cancelled   []string
	matches     []*domain.MaintenanceMatch
	marked      []uuid.UUID
	deleted     []uuid.UUID
	active      []*domain.MaintenanceWindow
	candidates  []*domain.Incident
	forIncident *domain.MaintenanceWindow
	clearedN    int64
}

func (f *fakeMaintRepo) UpsertWindow(ctx context.Context, w *domain.MaintenanceWindow) (uuid.UUID, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	f.windows = append(f.windows, w)
	return w.ID, nil
}

func (f *fakeMaintRepo) CancelByExternalID(ctx context.Context, source domain.WindowSource, externalEventID string) error {
	f.cancelled = append(f.cancelled, externalEventID)
	return nil
}

func (f *fakeMaintRepo) DeleteOccurrences(ctx context.Context, parentID uuid.UUID) error {
	f.deleted = append(f.deleted, parentID)
	return nil
}

func (f *fakeMaintRepo) ActiveWindows(ctx context.Context, now time.Time) ([]*domain.MaintenanceWindow, error) {
	return f.active, nil
}

func (f *fakeMaintRepo) CandidateIncidents(ctx context.Context) ([]*domain.Incident, error) {
	return f.candidates, nil
}

func (f *fakeMaintRepo) InsertMatch(ctx context.Context, m *domain.MaintenanceMatch) error {
	f.matches = append(f.matches, m)
	return nil
}

func (f *fakeMaintRepo) MarkInMaintenance(ctx context.Context, incidentID, windowID uuid.UUID) error {
	f.marked = append(f.marked, incidentID)
	return nil
}

func (f *fakeMaintRepo) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	return f.clearedN, nil
}

func (f *fakeMaintRepo) WindowForIncident(ctx context.Context, incidentID uuid.UUID) (*domain.MaintenanceWindow, error) {
	return f.forIncident, nil
}

func newTestEngine(repo *fakeMaintRepo) *Engine {
	return NewEngine(repo, nil, 90*24*time.Hour)
}

func maintEmail(subject, body, ics string) *domain.RawEmail {
	date := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	return &domain.RawEmail{
		ID:          uuid.New(),
		Subject:     subject,
		FromAddress: "NetOps <netops@example.com>",
		DateHeader:  &date,
		BodyText:    body,
		ICSContent:  ics,
	}
}

func TestIsMaintenanceEmail(t *testing.T) {
	e := newTestEngine(&fakeMaintRepo{})

	tests := []struct {
		name  string
		email *domain.RawEmail
		want  bool
	}{
		{"subject prefix", maintEmail("[MW] patching db tier", "", ""), true},
		{"subject prefix case-insensitive", maintEmail("maintenance: router swap", "", ""), true},
		{"ics attachment", maintEmail("calendar invite", "", simpleICS), true},
		{"body keyword", maintEmail("heads up", "there is a scheduled maintenance on friday", ""), true},
		{"plain alert", maintEmail("** PROBLEM ** Host: db-01", "State: CRITICAL", ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.IsMaintenanceEmail(tt.email); got != tt.want {
				t.Errorf("IsMaintenanceEmail() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessEmailBodyWindow(t *testing.T) {
	repo := &fakeMaintRepo{}
	e := newTestEngine(repo)

	body := `Title: Storage firmware upgrade
Scope: host=san-01; env=prod
Mode: mute
Start: 2026-09-01 22:00
End: 2026-09-02 02:00`

	if err := e.ProcessEmail(context.Background(), maintEmail("[MW] storage", body, "")); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}

	if len(repo.windows) != 1 {
		t.Fatalf("stored %d windows, want 1", len(repo.windows))
	}
	w := repo.windows[0]
	if w.Title != "Storage firmware upgrade" {
		t.Errorf("Title = %q", w.Title)
	}
	if w.SuppressMode != domain.SuppressMute {
		t.Errorf("SuppressMode = %q", w.SuppressMode)
	}
	if len(w.Scope.Hosts) != 1 || w.Scope.Hosts[0] != "san-01" {
		t.Errorf("Scope = %+v", w.Scope)
	}
	if !w.StartsAt.Equal(time.Date(2026, 9, 1, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("StartsAt = %v", w.StartsAt)
	}
	if w.Organizer != "NetOps" {
		t.Errorf("Organizer = %q, want display name", w.Organizer)
	}
	if w.RawEmailID == nil {
		t.Error("window must reference the source email")
	}
}

func TestProcessEmailDefaultsWithoutTimes(t *testing.T) {
	repo := &fakeMaintRepo{}
	e := newTestEngine(repo)

	email := maintEmail("[MW] quick patch", "planned outage, details to follow", "")
	if err := e.ProcessEmail(context.Background(), email); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}

	w := repo.windows[0]
	if !w.StartsAt.Equal(email.DateHeader.UTC()) {
		t.Errorf("StartsAt = %v, want email date", w.StartsAt)
	}
	if w.EndsAt.Sub(w.StartsAt) != 2*time.Hour {
		t.Errorf("default duration = %v, want 2h", w.EndsAt.Sub(w.StartsAt))
	}
	if w.SuppressMode != domain.SuppressMute {
		t.Errorf("default mode = %q, want mute", w.SuppressMode)
	}
}

func TestProcessEmailICSCancellation(t *testing.T) {
	repo := &fakeMaintRepo{}
	e := newTestEngine(repo)

	if err := e.ProcessEmail(context.Background(), maintEmail("cancelled", "", cancelledICS)); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}

	if len(repo.cancelled) != 1 || repo.cancelled[0] != "maint-123@ops.example.com" {
		t.Errorf("cancelled = %v", repo.cancelled)
	}
	if len(repo.windows) != 0 {
		t.Error("cancellation must not create a window")
	}
}

func TestProcessEmailRecurringExpandsOccurrences(t *testing.T) {
	repo := &fakeMaintRepo{}
	e := newTestEngine(repo)
	e.now = func() time.Time { return time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC) }
	e.horizon = 28 * 24 * time.Hour

	if err := e.ProcessEmail(context.Background(), maintEmail("weekly", "", recurringICS)); err != nil {
		t.Fatalf("ProcessEmail() error = %v", err)
	}

	// One parent plus four weekly occurrences inside the horizon.
	if len(repo.windows) != 5 {
		t.Fatalf("stored %d windows, want 5", len(repo.windows))
	}
	parent := repo.windows[0]
	if !parent.IsRecurring || parent.RecurrenceRule == "" {
		t.Error("parent must keep the recurrence rule")
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != parent.ID {
		t.Errorf("stale occurrences of %v not deleted: %v", parent.ID, repo.deleted)
	}
	for _, child := range repo.windows[1:] {
		if child.OccurrenceOf == nil || *child.OccurrenceOf != parent.ID {
			t.Errorf("occurrence not linked to parent: %+v", child)
		}
		if child.IsRecurring {
			t.Error("occurrences themselves are not recurring")
		}
	}
}

func TestMatchIncidents(t *testing.T) {
	inMaint := &domain.MaintenanceWindow{
		ID:       uuid.New(),
		Scope:    domain.MaintenanceScope{Hosts: []string{"db-01"}},
		IsActive: true,
	}
	covered := &domain.Incident{ID: uuid.New(), Host: "db-01"}
	outside := &domain.Incident{ID: uuid.New(), Host: "web-01"}

	repo := &fakeMaintRepo{
		active:     []*domain.MaintenanceWindow{inMaint},
		candidates: []*domain.Incident{covered, outside},
	}
	e := newTestEngine(repo)

	matched, err := e.MatchIncidents(context.Background())
	if err != nil {
		t.Fatalf("MatchIncidents() error = %v", err)
	}
	if matched != 1 {
		t.Errorf("matched = %d, want 1", matched)
	}
	if len(repo.marked) != 1 || repo.marked[0] != covered.ID {
		t.Errorf("marked = %v, want only the covered incident", repo.marked)
	}
	if len(repo.matches) != 1 || len(repo.matches[0].MatchReason) == 0 {
		t.Errorf("match audit row missing reason: %v", repo.matches)
	}
}

func TestMatchIncidentsNoActiveWindows(t *testing.T) {
	repo := &fakeMaintRepo{candidates: []*domain.Incident{{ID: uuid.New()}}}
	e := newTestEngine(repo)

	matched, err := e.MatchIncidents(context.Background())
	if err != nil {
		t.Fatalf("MatchIncidents() error = %v", err)
	}
	if matched != 0 || len(repo.marked) != 0 {
		t.Error("nothing should match without active windows")
	}
}

func TestActiveModeFor(t *testing.T) {
	repo := &fakeMaintRepo{
		forIncident: &domain.MaintenanceWindow{SuppressMode: domain.SuppressDigest},
	}
	e := newTestEngine(repo)

	mode, err := e.ActiveModeFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ActiveModeFor() error = %v", err)
	}
	if mode != domain.SuppressDigest {
		t.Errorf("mode = %q, want digest", mode)
	}

	e2 := newTestEngine(&fakeMaintRepo{})
	mode, err = e2.ActiveModeFor(context.Background(), uuid.New())
	if err != nil || mode != "" {
		t.Errorf("unsuppressed incident: mode=%q err=%v", mode, err)
	}
}
