// internal/checkout/implementation.go
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"upskill/internal/catalog"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// service implements the Service interface.
type service struct {
	ledger      ledger.Ledger
	index       enrollment.Index
	catalog     catalog.Service
	rateLimiter *rate.Limiter
}

// NewService creates a new checkout service. perMinute caps how many
// checkouts may start per minute across all users; zero disables the cap.
func NewService(l ledger.Ledger, index enrollment.Index, courses catalog.Service, perMinute int) Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &service{
		ledger:      l,
		index:       index,
		catalog:     courses,
		rateLimiter: limiter,
	}
}

// Start validates the purchase and opens the ledger intent.
func (s *service) Start(ctx context.Context, userID string, courseID uuid.UUID) (*Session, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	// Step 1: the course must exist and be on sale
	course, err := s.catalog.Get(ctx, courseID)
	if errors.Is(err, catalog.ErrCourseNotFound) {
		return nil, ErrCourseUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	if !course.Published {
		return nil, ErrCourseUnavailable
	}
	if course.EducatorID == userID {
		return nil, ErrOwnCourse
	}

	// Step 2: do not sell a course twice
	enrolled, err := s.index.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if enrolled {
		return nil, ErrAlreadyEnrolled
	}

	// Step 3: record the intent the payment provider will resolve
	amount := course.SalePrice()
	intentID, err := s.ledger.Open(ctx, userID, courseID, amount)
	if err != nil {
		return nil, err
	}
	log.Printf("[checkout] opened intent %s for course %s", intentID, courseID)

	return &Session{
		PurchaseID: intentID,
		CourseID:   courseID,
		UserID:     userID,
		Amount:     amount,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (s *service) EnrolledCourses(ctx context.Context, userID string) ([]EnrolledCourse, error) {
	records, err := s.index.ByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}
	if len(records) == 0 {
		return []EnrolledCourse{}, nil
	}

	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.CourseID
	}
	courses, err := s.catalog.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load courses: %w", err)
	}
	byID := make(map[uuid.UUID]*catalog.Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}

	out := make([]EnrolledCourse, 0, len(records))
	for _, r := range records {
		c, ok := byID[r.CourseID]
		if !ok {
			continue
		}
		out = append(out, EnrolledCourse{Summary: c.Summary(), EnrolledAt: r.EnrolledAt})
	}
	return out, nil
}
