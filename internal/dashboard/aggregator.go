// internal/dashboard/aggregator.go
package dashboard

import (
	"context"
	"fmt"
	"time"

	"upskill/internal/catalog"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"
	"upskill/internal/membership"

	"github.com/google/uuid"
)

// Student is the roster view of a user. Name and image are empty when the
// identity webhook has not delivered the user yet.
type Student struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Enrollment struct {
	CourseID     uuid.UUID `json:"course_id"`
	CourseTitle  string    `json:"course_title"`
	Student      Student   `json:"student"`
	PurchaseDate time.Time `json:"purchase_date"`
}

type Dashboard struct {
	TotalCourses     int          `json:"total_courses"`
	TotalEarnings    int64        `json:"total_earnings"`
	EnrolledStudents []Enrollment `json:"enrolled_students"`
}

// Aggregator builds educator read models from the ledger, the enrollment
// index, the catalog and the user directory.
type Aggregator struct {
	ledger  ledger.Ledger
	index   enrollment.Index
	catalog catalog.Service
	users   membership.Service
}

func NewAggregator(l ledger.Ledger, index enrollment.Index, courses catalog.Service, users membership.Service) *Aggregator {
	return &Aggregator{ledger: l, index: index, catalog: courses, users: users}
}

// Dashboard summarizes an educator's courses. Earnings count each completed
// intent once; pending and failed intents never count.
func (a *Aggregator) Dashboard(ctx context.Context, educatorID string) (*Dashboard, error) {
	courses, err := a.catalog.ByEducator(ctx, educatorID)
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	d := &Dashboard{TotalCourses: len(courses), EnrolledStudents: []Enrollment{}}
	if len(courses) == 0 {
		return d, nil
	}

	completed, err := a.ledger.Completed(ctx, courseIDs(courses))
	if err != nil {
		return nil, fmt.Errorf("load completed intents: %w", err)
	}
	counted := make(map[uuid.UUID]bool, len(completed))
	for _, intent := range completed {
		if counted[intent.ID] {
			continue
		}
		counted[intent.ID] = true
		d.TotalEarnings += intent.Amount
	}

	d.EnrolledStudents, err = a.roster(ctx, courses)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CourseStats is one of the educator's own courses, drafts included.
type CourseStats struct {
	catalog.Summary
	Published   bool `json:"published"`
	Enrollments int  `json:"enrollments"`
}

// Courses lists the educator's courses with how many students each has.
func (a *Aggregator) Courses(ctx context.Context, educatorID string) ([]CourseStats, error) {
	courses, err := a.catalog.ByEducator(ctx, educatorID)
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	out := make([]CourseStats, 0, len(courses))
	if len(courses) == 0 {
		return out, nil
	}

	records, err := a.index.ByCourses(ctx, courseIDs(courses))
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}
	counts := make(map[uuid.UUID]int, len(courses))
	for _, r := range records {
		counts[r.CourseID]++
	}

	for i, s := range catalog.WithEducators(ctx, a.users, courses) {
		out = append(out, CourseStats{
			Summary:     s,
			Published:   courses[i].Published,
			Enrollments: counts[s.ID],
		})
	}
	return out, nil
}

// EnrolledStudents lists who is enrolled in the educator's courses.
func (a *Aggregator) EnrolledStudents(ctx context.Context, educatorID string) ([]Enrollment, error) {
	courses, err := a.catalog.ByEducator(ctx, educatorID)
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	if len(courses) == 0 {
		return []Enrollment{}, nil
	}
	return a.roster(ctx, courses)
}

func (a *Aggregator) roster(ctx context.Context, courses []*catalog.Course) ([]Enrollment, error) {
	titles := make(map[uuid.UUID]string, len(courses))
	for _, c := range courses {
		titles[c.ID] = c.Title
	}

	records, err := a.index.ByCourses(ctx, courseIDs(courses))
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}

	userIDs := make([]string, 0, len(records))
	for _, r := range records {
		userIDs = append(userIDs, r.UserID)
	}
	users, err := a.users.GetMany(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	out := make([]Enrollment, 0, len(records))
	for _, r := range records {
		student := Student{ID: r.UserID}
		if u, ok := users[r.UserID]; ok {
			student.Name = u.Name
			student.ImageURL = u.ImageURL
		}
		out = append(out, Enrollment{
			CourseID:     r.CourseID,
			CourseTitle:  titles[r.CourseID],
			Student:      student,
			PurchaseDate: r.EnrolledAt,
		})
	}
	return out, nil
}

func courseIDs(courses []*catalog.Course) []uuid.UUID {
	ids := make([]uuid.UUID, len(courses))
	for i, c := range courses {
		ids[i] = c.ID
	}
	return ids
}
