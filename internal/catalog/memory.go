// internal/catalog/memory.go
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

func validateCourse(course *Course) error {
	if course.ID == uuid.Nil {
		course.ID = uuid.New()
	}
	if err := validate.Struct(course); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCourse, err)
	}
	return nil
}

type memoryService struct {
	mu      sync.RWMutex
	courses map[uuid.UUID]*Course
}

// NewMemoryService creates an in-process catalog.
func NewMemoryService() Service {
	return &memoryService{courses: make(map[uuid.UUID]*Course)}
}

func (s *memoryService) Save(ctx context.Context, course *Course) error {
	if err := validateCourse(course); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := course.Clone()
	stored.Ratings = nil
	stored.Version = 1
	stored.CreatedAt = now
	if existing, ok := s.courses[course.ID]; ok {
		stored.Ratings = existing.Ratings
		stored.Version = existing.Version + 1
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = now
	s.courses[course.ID] = stored

	course.Version, course.CreatedAt, course.UpdatedAt = stored.Version, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (s *memoryService) Get(ctx context.Context, id uuid.UUID) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	course, ok := s.courses[id]
	if !ok {
		return nil, ErrCourseNotFound
	}
	return course.Clone(), nil
}

func (s *memoryService) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Course
	for _, id := range ids {
		if course, ok := s.courses[id]; ok {
			out = append(out, course.Clone())
		}
	}
	return out, nil
}

func (s *memoryService) ListPublished(ctx context.Context) ([]*Course, error) {
	return s.list(func(c *Course) bool { return c.Published }), nil
}

func (s *memoryService) ByEducator(ctx context.Context, educatorID string) ([]*Course, error) {
	return s.list(func(c *Course) bool { return c.EducatorID == educatorID }), nil
}

func (s *memoryService) list(keep func(*Course) bool) []*Course {
	s.mu.RLock()
	var out []*Course
	for _, c := range s.courses {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *memoryService) Rate(ctx context.Context, courseID uuid.UUID, userID string, value int) (*Course, error) {
	if value < 1 || value > 5 {
		return nil, ErrInvalidRating
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	course, ok := s.courses[courseID]
	if !ok {
		return nil, ErrCourseNotFound
	}

	replaced := false
	for i := range course.Ratings {
		if course.Ratings[i].UserID == userID {
			course.Ratings[i].Value = value
			replaced = true
			break
		}
	}
	if !replaced {
		course.Ratings = append(course.Ratings, Rating{UserID: userID, Value: value})
	}
	course.Version++
	course.UpdatedAt = time.Now().UTC()
	return course.Clone(), nil
}
