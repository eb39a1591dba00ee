// internal/checkout/domain.go
package checkout

import (
	"errors"
	"time"

	"upskill/internal/catalog"

	"github.com/google/uuid"
)

var (
	ErrAlreadyEnrolled   = errors.New("already enrolled in this course")
	ErrCourseUnavailable = errors.New("course is not available for purchase")
	ErrOwnCourse         = errors.New("educators cannot purchase their own course")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// Session is a started checkout. PurchaseID is what the payment provider
// echoes back in its events.
type Session struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	CourseID   uuid.UUID `json:"course_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnrolledCourse is a course in a student's library.
type EnrolledCourse struct {
	catalog.Summary
	EnrolledAt time.Time `json:"enrolled_at"`
}
