// internal/checkout/service.go
package checkout

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the checkout service.
type Service interface {
	// Start opens a pending purchase intent for the course at its sale price.
	Start(ctx context.Context, userID string, courseID uuid.UUID) (*Session, error)
	EnrolledCourses(ctx context.Context, userID string) ([]EnrolledCourse, error)
}
