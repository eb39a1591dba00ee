// internal/enrollment/service.go
package enrollment

import (
	"context"

	"upskill/internal/ledger"

	"github.com/google/uuid"
)

// Index is the read-optimized projection of completed intents. It may lag the
// ledger but never contradicts it.
type Index interface {
	// Project records enrollment for a completed intent. It reports whether a
	// new (user, course) record was created.
	Project(ctx context.Context, intent ledger.Intent) (bool, error)
	IsEnrolled(ctx context.Context, userID string, courseID uuid.UUID) (bool, error)
	// Rebuild atomically replaces the index with the fold of intents.
	Rebuild(ctx context.Context, intents []ledger.Intent) error
	Records(ctx context.Context) ([]Record, error)
	ByCourses(ctx context.Context, courseIDs []uuid.UUID) ([]Record, error)
	ByUser(ctx context.Context, userID string) ([]Record, error)
}
