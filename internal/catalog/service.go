// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the course catalog. Every returned
// course is a copy the caller owns.
type Service interface {
	Save(ctx context.Context, course *Course) error
	Get(ctx context.Context, id uuid.UUID) (*Course, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Course, error)
	ListPublished(ctx context.Context) ([]*Course, error)
	ByEducator(ctx context.Context, educatorID string) ([]*Course, error)
	// Rate records one rating per user, replacing any earlier one.
	Rate(ctx context.Context, courseID uuid.UUID, userID string, value int) (*Course, error)
}
