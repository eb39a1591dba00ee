// internal/ledger/domain.go
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateCheckout = errors.New("checkout already in progress")
	ErrUnknownIntent     = errors.New("no matching purchase intent")
	ErrInvalidTransition = errors.New("invalid purchase status transition")
	ErrInvalidOutcome    = errors.New("outcome must be completed or failed")
	ErrInvalidAmount     = errors.New("amount must not be negative")
	ErrMissingKey        = errors.New("idempotency key is required")
)

// Status is the lifecycle state of a purchase intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Intent is a single attempted purchase of one course by one user.
type Intent struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	CourseID       uuid.UUID `json:"course_id" db:"course_id"`
	Amount         int64     `json:"amount" db:"amount"`
	Status         Status    `json:"status" db:"status"`
	IdempotencyKey string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Resolution is the result of applying (or replaying) an outcome.
type Resolution struct {
	Intent   Intent `json:"intent"`
	Replayed bool   `json:"replayed"`
}

// Transition is one entry of an intent's audit trail.
type Transition struct {
	IntentID       uuid.UUID `json:"intent_id"`
	From           Status    `json:"from,omitempty"`
	To             Status    `json:"to"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	At             time.Time `json:"at"`
}

// Event payloads written to the event store by the Postgres ledger.

// IntentOpenedEvent is recorded when checkout begins.
type IntentOpenedEvent struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	CourseID uuid.UUID `json:"course_id"`
	Amount   int64     `json:"amount"`
}

// IntentResolvedEvent is recorded when a pending intent reaches a terminal status.
type IntentResolvedEvent struct {
	ID             uuid.UUID `json:"id"`
	Status         Status    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func eventTypeFor(s Status) string {
	switch s {
	case StatusCompleted:
		return "IntentCompleted"
	case StatusFailed:
		return "IntentFailed"
	default:
		return "IntentOpened"
	}
}
