package domain

import "time"

// IdempotencyStatus is the lifecycle of an idempotency key.
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "processing"
	IdempotencyCompleted  IdempotencyStatus = "completed"
	IdempotencyFailed     IdempotencyStatus = "failed"
)

// IdempotencyKey guards a side-effecting operation.
type IdempotencyKey struct {
	Key       string
	Status    IdempotencyStatus
	Result    []byte
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DLQStatus is the lifecycle of a dead letter item.
type DLQStatus string

const (
	DLQPending  DLQStatus = "pending"
	DLQRetrying DLQStatus = "retrying"
	DLQResolved DLQStatus = "resolved"
	DLQFailed   DLQStatus = "failed"
)

// DLQItem is one permanently failing operation awaiting backed-off retry.
type DLQItem struct {
	ID           int64
	EventType    string
	Payload      map[string]any
	ErrorMessage string
	Traceback    string
	RetryCount   int
	MaxRetries   int
	NextRetryAt  *time.Time
	Status       DLQStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DLQStats summarizes queue depth for the ops API.
type DLQStats struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Resolved int64 `json:"resolved"`
	Failed   int64 `json:"failed"`
}
