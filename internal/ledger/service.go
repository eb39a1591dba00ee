// internal/ledger/service.go
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultDuplicateWindow is how long a pending intent blocks a second checkout
// for the same (user, course) pair.
const DefaultDuplicateWindow = 30 * time.Minute

// Ledger is the single source of truth for whether a payment succeeded.
// Intents are never deleted and only move pending -> completed or
// pending -> failed.
type Ledger interface {
	// Open creates a pending intent when checkout begins.
	Open(ctx context.Context, userID string, courseID uuid.UUID, amount int64) (uuid.UUID, error)
	// Resolve moves a pending intent to a terminal outcome. Replaying a key
	// already applied returns the prior result without re-applying it.
	Resolve(ctx context.Context, key string, intentID uuid.UUID, outcome Status) (*Resolution, error)
	StatusOf(ctx context.Context, intentID uuid.UUID) (Status, error)
	Get(ctx context.Context, intentID uuid.UUID) (*Intent, error)
	// History returns the audit trail of an intent, oldest first.
	History(ctx context.Context, intentID uuid.UUID) ([]Transition, error)
	// Intents returns every intent, for replaying projections.
	Intents(ctx context.Context) ([]Intent, error)
	// Completed returns completed intents for the given courses, or for all
	// courses when courseIDs is nil.
	Completed(ctx context.Context, courseIDs []uuid.UUID) ([]Intent, error)
}

func validOutcome(outcome Status) error {
	if !outcome.Terminal() {
		return ErrInvalidOutcome
	}
	return nil
}
