// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCourseNotFound = errors.New("course not found")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	ErrInvalidCourse  = errors.New("invalid course")
)

// Course is a sellable unit of content owned by one educator. Price is in
// minor units and Discount is a whole percentage.
type Course struct {
	ID          uuid.UUID `json:"id" validate:"required"`
	EducatorID  string    `json:"educator_id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Price       int64     `json:"price" validate:"gte=0"`
	Discount    int       `json:"discount" validate:"gte=0,lte=100"`
	Published   bool      `json:"published"`
	Chapters    []Chapter `json:"chapters" validate:"dive"`
	Ratings     []Rating  `json:"ratings,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Chapter struct {
	ID       string    `json:"id" validate:"required"`
	Title    string    `json:"title"`
	Lectures []Lecture `json:"lectures" validate:"dive"`
}

// Lecture is one playable item. URL locates the asset and is only shown to
// viewers the access gate lets through.
type Lecture struct {
	ID              string `json:"id" validate:"required"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
	URL             string `json:"url,omitempty"`
	PreviewFree     bool   `json:"preview_free"`
}

type Rating struct {
	UserID string `json:"user_id"`
	Value  int    `json:"rating"`
}

// Clone returns a deep copy, so callers can redact it freely.
func (c *Course) Clone() *Course {
	cp := *c
	if c.Chapters != nil {
		cp.Chapters = make([]Chapter, len(c.Chapters))
		for i, ch := range c.Chapters {
			cp.Chapters[i] = ch
			if ch.Lectures != nil {
				cp.Chapters[i].Lectures = append([]Lecture(nil), ch.Lectures...)
			}
		}
	}
	if c.Ratings != nil {
		cp.Ratings = append([]Rating(nil), c.Ratings...)
	}
	return &cp
}

// AverageRating is the floored mean of all ratings, or 0 with none.
func (c *Course) AverageRating() int {
	if len(c.Ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range c.Ratings {
		sum += r.Value
	}
	return sum / len(c.Ratings)
}

func (c *Course) DurationMinutes() int {
	total := 0
	for _, ch := range c.Chapters {
		for _, l := range ch.Lectures {
			total += l.DurationMinutes
		}
	}
	return total
}

func (c *Course) LectureCount() int {
	n := 0
	for _, ch := range c.Chapters {
		n += len(ch.Lectures)
	}
	return n
}

// SalePrice applies the discount, truncating toward zero.
func (c *Course) SalePrice() int64 {
	return c.Price - c.Price*int64(c.Discount)/100
}

// Summary is the listing view of a course: no content, no rater ids.
type Summary struct {
	ID              uuid.UUID `json:"id"`
	EducatorID      string    `json:"educator_id"`
	Educator        *Educator `json:"educator,omitempty"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Thumbnail       string    `json:"thumbnail,omitempty"`
	Price           int64     `json:"price"`
	Discount        int       `json:"discount"`
	SalePrice       int64     `json:"sale_price"`
	Rating          int       `json:"rating"`
	RatingCount     int       `json:"rating_count"`
	LectureCount    int       `json:"lecture_count"`
	DurationMinutes int       `json:"duration_minutes"`
}

func (c *Course) Summary() Summary {
	return Summary{
		ID:              c.ID,
		EducatorID:      c.EducatorID,
		Title:           c.Title,
		Description:     c.Description,
		Thumbnail:       c.Thumbnail,
		Price:           c.Price,
		Discount:        c.Discount,
		SalePrice:       c.SalePrice(),
		Rating:          c.AverageRating(),
		RatingCount:     len(c.Ratings),
		LectureCount:    c.LectureCount(),
		DurationMinutes: c.DurationMinutes(),
	}
}

// CourseSavedEvent is recorded when a course document is created or replaced.
type CourseSavedEvent struct {
	ID         uuid.UUID `json:"id"`
	EducatorID string    `json:"educator_id"`
	Title      string    `json:"title"`
	Published  bool      `json:"published"`
}

// CourseRatedEvent is recorded when a user rates a course.
type CourseRatedEvent struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"user_id"`
	Rating int       `json:"rating"`
}
