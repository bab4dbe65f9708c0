package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"alert_worker/core/domain"
	"alert_worker/pkg/apperr"
)

func TestKey(t *testing.T) {
	k := Key("4be0643f-1d98-573b-97cd-ca98a65347dd", "<msg-1@mail>")
	if len(k) != 32 {
		t.Errorf("key length = %d, want 32", len(k))
	}
	if k != Key("4be0643f-1d98-573b-97cd-ca98a65347dd", "<msg-1@mail>") {
		t.Error("key must be deterministic")
	}
	if k == Key("4be0643f-1d98-573b-97cd-ca98a65347dd", "<msg-2@mail>") {
		t.Error("different message ids must yield different keys")
	}
}

type fakeIdemRepo struct {
	existing  *domain.IdempotencyKey
	completed map[string][]byte
	failed    []string
	expiredN  int64
}

func (f *fakeIdemRepo) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*domain.IdempotencyKey, error) {
	return f.existing, nil
}

func (f *fakeIdemRepo) Complete(ctx context.Context, key string, result []byte) error {
	if f.completed == nil {
		f.completed = map[string][]byte{}
	}
	f.completed[key] = result
	return nil
}

func (f *fakeIdemRepo) Fail(ctx context.Context, key string) error {
	f.failed = append(f.failed, key)
	return nil
}

func (f *fakeIdemRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return f.expiredN, nil
}

type fakeDLQRepo struct {
	items    []*domain.DLQItem
	claimed  []*domain.DLQItem
	resolved []int64
	failed   map[int64]string
	deletedN int64
}

func (f *fakeDLQRepo) Enqueue(ctx context.Context, item *domain.DLQItem) (int64, error) {
	item.ID = int64(len(f.items) + 1)
	f.items = append(f.items, item)
	return item.ID, nil
}

func (f *fakeDLQRepo) ClaimForRetry(ctx context.Context, limit int, now time.Time) ([]*domain.DLQItem, error) {
	if len(f.claimed) > limit {
		return f.claimed[:limit], nil
	}
	return f.claimed, nil
}

func (f *fakeDLQRepo) MarkResolved(ctx context.Context, id int64) error {
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakeDLQRepo) MarkFailed(ctx context.Context, id int64, errMsg string, now time.Time) error {
	if f.failed == nil {
		f.failed = map[int64]string{}
	}
	f.failed[id] = errMsg
	return nil
}

func (f *fakeDLQRepo) Stats(ctx context.Context) (*domain.DLQStats, error) {
	return &domain.DLQStats{}, nil
}

func (f *fakeDLQRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.deletedN, nil
}

func newIdemService(repo *fakeIdemRepo, dlq *fakeDLQRepo) *Service {
	return NewService(repo, dlq, 24*time.Hour)
}

func TestRunExecutesOnFreshKey(t *testing.T) {
	repo := &fakeIdemRepo{}
	svc := newIdemService(repo, &fakeDLQRepo{})

	ran := false
	result, err := svc.Run(context.Background(), "k1", func(ctx context.Context) ([]byte, error) {
		ran = true
		return []byte("done"), nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !ran {
		t.Error("fn must run on a fresh key")
	}
	if string(result) != "done" {
		t.Errorf("result = %q", result)
	}
	if string(repo.completed["k1"]) != "done" {
		t.Error("key must be completed with the result")
	}
}

func TestRunSkipsInFlightKey(t *testing.T) {
	repo := &fakeIdemRepo{existing: &domain.IdempotencyKey{
		Key: "k1", Status: domain.IdempotencyProcessing,
	}}
	svc := newIdemService(repo, &fakeDLQRepo{})

	_, err := svc.Run(context.Background(), "k1", func(ctx context.Context) ([]byte, error) {
		t.Fatal("fn must not run while another worker holds the key")
		return nil, nil
	})
	if !errors.Is(err, apperr.ErrSkipped) {
		t.Errorf("err = %v, want ErrSkipped", err)
	}
}

func TestRunReturnsCachedResult(t *testing.T) {
	repo := &fakeIdemRepo{existing: &domain.IdempotencyKey{
		Key: "k1", Status: domain.IdempotencyCompleted, Result: []byte("cached"),
	}}
	svc := newIdemService(repo, &fakeDLQRepo{})

	result, err := svc.Run(context.Background(), "k1", func(ctx context.Context) ([]byte, error) {
		t.Fatal("fn must not run for a completed key")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(result) != "cached" {
		t.Errorf("result = %q, want cached value", result)
	}
}

func TestRunRerunsFailedKey(t *testing.T) {
	repo := &fakeIdemRepo{existing: &domain.IdempotencyKey{
		Key: "k1", Status: domain.IdempotencyFailed,
	}}
	svc := newIdemService(repo, &fakeDLQRepo{})

	ran := false
	_, err := svc.Run(context.Background(), "k1", func(ctx context.Context) ([]byte, error) {
		ran = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !ran {
		t.Error("a previously failed key must run again")
	}
}

func TestRunMarksFailureAndPropagates(t *testing.T) {
	repo := &fakeIdemRepo{}
	svc := newIdemService(repo, &fakeDLQRepo{})

	boom := errors.New("boom")
	_, err := svc.Run(context.Background(), "k1", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the fn error", err)
	}
	if len(repo.failed) != 1 || repo.failed[0] != "k1" {
		t.Errorf("failed keys = %v", repo.failed)
	}
	if len(repo.completed) != 0 {
		t.Error("a failed run must not complete the key")
	}
}

func TestEnqueue(t *testing.T) {
	dlq := &fakeDLQRepo{}
	svc := newIdemService(&fakeIdemRepo{}, dlq)

	before := time.Now().UTC()
	err := svc.Enqueue(context.Background(), "email_processing",
		map[string]any{"email_id": "abc"}, errors.New("parse exploded"), 5)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if len(dlq.items) != 1 {
		t.Fatal("item not enqueued")
	}
	item := dlq.items[0]
	if item.EventType != "email_processing" || item.Status != domain.DLQPending {
		t.Errorf("item = %+v", item)
	}
	if item.ErrorMessage != "parse exploded" {
		t.Errorf("ErrorMessage = %q", item.ErrorMessage)
	}
	if item.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", item.MaxRetries)
	}
	if item.NextRetryAt == nil || item.NextRetryAt.Before(before.Add(59*time.Second)) {
		t.Errorf("first retry must be about a minute out, got %v", item.NextRetryAt)
	}
	if item.Traceback == "" {
		t.Error("traceback must be captured")
	}
}

func TestRetryDue(t *testing.T) {
	okItem := &domain.DLQItem{ID: 1, EventType: "email_processing", Payload: map[string]any{"email_id": "a"}}
	badItem := &domain.DLQItem{ID: 2, EventType: "email_processing", Payload: map[string]any{"email_id": "b"}}
	orphan := &domain.DLQItem{ID: 3, EventType: "unknown_type"}

	dlq := &fakeDLQRepo{claimed: []*domain.DLQItem{okItem, badItem, orphan}}
	svc := newIdemService(&fakeIdemRepo{}, dlq)

	handlers := map[string]RetryHandler{
		"email_processing": func(ctx context.Context, payload map[string]any) error {
			if payload["email_id"] == "b" {
				return errors.New("still broken")
			}
			return nil
		},
	}

	retried, err := svc.RetryDue(context.Background(), 10, handlers)
	if err != nil {
		t.Fatalf("RetryDue() error = %v", err)
	}
	if retried != 1 {
		t.Errorf("retried = %d, want 1", retried)
	}

	if len(dlq.resolved) != 1 || dlq.resolved[0] != 1 {
		t.Errorf("resolved = %v, want item 1", dlq.resolved)
	}
	if dlq.failed[2] != "still broken" {
		t.Errorf("failed[2] = %q", dlq.failed[2])
	}
	if dlq.failed[3] != "no handler for event type" {
		t.Errorf("failed[3] = %q", dlq.failed[3])
	}
}

func TestHousekeep(t *testing.T) {
	repo := &fakeIdemRepo{expiredN: 3}
	dlq := &fakeDLQRepo{deletedN: 2}
	svc := newIdemService(repo, dlq)

	if err := svc.Housekeep(context.Background(), 7*24*time.Hour); err != nil {
		t.Fatalf("Housekeep() error = %v", err)
	}
}
