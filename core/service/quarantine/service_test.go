package quarantine

import (
	"context"
	"testing"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"

	"github.com/google/uuid"
)

type reviewCall struct {
	id         int64
	action     domain.QuarantineAction
	reviewedBy string
	editedData map[string]any
}

type fakeQuarRepo struct {
	reviews []reviewCall
	emailID uuid.UUID
}

func (f *fakeQuarRepo) Insert(ctx context.Context, q *domain.QuarantineEvent) (int64, error) {
	return 1, nil
}

func (f *fakeQuarRepo) Get(ctx context.Context, id int64) (*domain.QuarantineEvent, error) {
	return nil, nil
}

func (f *fakeQuarRepo) HasPendingForEmail(ctx context.Context, emailID uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeQuarRepo) ListPending(ctx context.Context, limit int) ([]*domain.QuarantineEvent, error) {
	return make([]*domain.QuarantineEvent, limit), nil
}

func (f *fakeQuarRepo) Review(ctx context.Context, id int64, action domain.QuarantineAction, reviewedBy string, editedData map[string]any) (uuid.UUID, error) {
	f.reviews = append(f.reviews, reviewCall{id, action, reviewedBy, editedData})
	return f.emailID, nil
}

func (f *fakeQuarRepo) Stats(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"pending": 2}, nil
}

type fakeEmailRepo struct {
	email    *domain.RawEmail
	statuses map[uuid.UUID]domain.ParseStatus
}

func (f *fakeEmailRepo) StoreEmail(ctx context.Context, email *domain.RawEmail) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}

func (f *fakeEmailRepo) GetEmail(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error) {
	return f.email, nil
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

type fakeProducer struct {
	published []*out.EmailIngestedJob
}

func (f *fakeProducer) PublishEmailIngested(ctx context.Context, job *out.EmailIngestedJob) error {
	f.published = append(f.published, job)
	return nil
}

func TestReviewApprovedRequeues(t *testing.T) {
	emailID := uuid.New()
	repo := &fakeQuarRepo{emailID: emailID}
	emails := &fakeEmailRepo{email: &domain.RawEmail{ID: emailID, Folder: "INBOX"}}
	producer := &fakeProducer{}
	svc := NewService(repo, emails, producer)

	err := svc.Review(context.Background(), 5, domain.QuarantineApproved, "alice", nil)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	if len(repo.reviews) != 1 || repo.reviews[0].action != domain.QuarantineApproved {
		t.Errorf("reviews = %+v", repo.reviews)
	}
	if emails.statuses[emailID] != domain.ParseStatusPending {
		t.Errorf("status = %q, want pending requeue", emails.statuses[emailID])
	}
	if len(producer.published) != 1 || producer.published[0].Folder != "INBOX" {
		t.Errorf("published = %+v", producer.published)
	}
}

func TestReviewRejectedStops(t *testing.T) {
	emailID := uuid.New()
	repo := &fakeQuarRepo{emailID: emailID}
	emails := &fakeEmailRepo{}
	producer := &fakeProducer{}
	svc := NewService(repo, emails, producer)

	err := svc.Review(context.Background(), 5, domain.QuarantineRejected, "alice", nil)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	if emails.statuses[emailID] != domain.ParseStatusRejected {
		t.Errorf("status = %q, want rejected", emails.statuses[emailID])
	}
	if len(producer.published) != 0 {
		t.Error("rejected reviews must not requeue")
	}
}

func TestReviewEditedRequiresData(t *testing.T) {
	svc := NewService(&fakeQuarRepo{}, &fakeEmailRepo{}, &fakeProducer{})

	if err := svc.Review(context.Background(), 5, domain.QuarantineEdited, "alice", nil); err == nil {
		t.Error("edited review without data must error")
	}

	emailID := uuid.New()
	repo := &fakeQuarRepo{emailID: emailID}
	emails := &fakeEmailRepo{email: &domain.RawEmail{ID: emailID, Folder: "INBOX"}}
	producer := &fakeProducer{}
	svc = NewService(repo, emails, producer)

	edited := map[string]any{"host": "db-01"}
	if err := svc.Review(context.Background(), 5, domain.QuarantineEdited, "alice", edited); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if len(repo.reviews) != 1 || repo.reviews[0].editedData["host"] != "db-01" {
		t.Errorf("reviews = %+v", repo.reviews)
	}
	if len(producer.published) != 1 {
		t.Error("edited reviews requeue the email")
	}
}

func TestReviewUnknownAction(t *testing.T) {
	svc := NewService(&fakeQuarRepo{}, &fakeEmailRepo{}, &fakeProducer{})
	if err := svc.Review(context.Background(), 1, "escalated", "alice", nil); err == nil {
		t.Error("unknown actions must be refused")
	}
}

func TestListPendingClampsLimit(t *testing.T) {
	svc := NewService(&fakeQuarRepo{}, &fakeEmailRepo{}, &fakeProducer{})

	items, err := svc.ListPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(items) != 50 {
		t.Errorf("default limit = %d, want 50", len(items))
	}

	items, _ = svc.ListPending(context.Background(), 1000)
	if len(items) != 50 {
		t.Errorf("oversized limit must clamp to default, got %d", len(items))
	}
}
