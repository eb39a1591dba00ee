// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"upskill/internal/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const aggregateType = "course"

const Schema = `
	CREATE TABLE IF NOT EXISTS courses (
		id UUID PRIMARY KEY,
		educator_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		thumbnail TEXT NOT NULL DEFAULT '',
		price BIGINT NOT NULL CHECK (price >= 0),
		discount INT NOT NULL CHECK (discount BETWEEN 0 AND 100),
		published BOOLEAN NOT NULL DEFAULT FALSE,
		content JSONB NOT NULL,
		version INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS courses_educator_idx ON courses (educator_id);

	CREATE TABLE IF NOT EXISTS course_ratings (
		course_id UUID NOT NULL REFERENCES courses (id),
		user_id TEXT NOT NULL,
		rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		PRIMARY KEY (course_id, user_id)
	);
`

const courseColumns = `id, educator_id, title, description, thumbnail, price, discount, published, content, version, created_at, updated_at`

// courseRow is the flat shape of a courses row; chapters live in content.
type courseRow struct {
	ID          uuid.UUID `db:"id"`
	EducatorID  string    `db:"educator_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Thumbnail   string    `db:"thumbnail"`
	Price       int64     `db:"price"`
	Discount    int       `db:"discount"`
	Published   bool      `db:"published"`
	Content     []byte    `db:"content"`
	Version     int       `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type ratingRow struct {
	CourseID uuid.UUID `db:"course_id"`
	UserID   string    `db:"user_id"`
	Rating   int       `db:"rating"`
}

// service implements the Service interface on Postgres. Every change is also
// appended to the course's event stream.
type service struct {
	eventStore *eventstore.EventStore
	db         *sqlx.DB
}

// NewService creates a new catalog service instance.
func NewService(es *eventstore.EventStore, db *sqlx.DB) Service {
	return &service{
		eventStore: es,
		db:         db,
	}
}

// Migrate creates the catalog tables.
func (s *service) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// Save creates or replaces a course document. Ratings are kept.
func (s *service) Save(ctx context.Context, course *Course) error {
	if err := validateCourse(course); err != nil {
		return err
	}
	content, err := json.Marshal(course.Chapters)
	if err != nil {
		return fmt.Errorf("failed to marshal course content: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.GetContext(ctx, &current, `SELECT version FROM courses WHERE id = $1 FOR UPDATE`, course.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load course version: %w", err)
	}

	if err := s.appendEvent(ctx, tx, course.ID, current, "CourseSaved", CourseSavedEvent{
		ID:         course.ID,
		EducatorID: course.EducatorID,
		Title:      course.Title,
		Published:  course.Published,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO courses (`+courseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (id) DO UPDATE SET
			educator_id = EXCLUDED.educator_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			thumbnail = EXCLUDED.thumbnail,
			price = EXCLUDED.price,
			discount = EXCLUDED.discount,
			published = EXCLUDED.published,
			content = EXCLUDED.content,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		RETURNING version, created_at, updated_at
	`, course.ID, course.EducatorID, course.Title, course.Description, course.Thumbnail,
		course.Price, course.Discount, course.Published, content, current+1, now,
	).Scan(&course.Version, &course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update read model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *service) appendEvent(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, version int, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	event := eventstore.Event{EventType: eventType, EventData: data}
	if err := s.eventStore.AppendTx(ctx, tx.Tx, id, aggregateType, version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Course, error) {
	courses, err := s.query(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return nil, ErrCourseNotFound
	}
	return courses[0], nil
}

func (s *service) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Course, error) {
	return s.query(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`, uuidArray(ids))
}

func (s *service) ListPublished(ctx context.Context) ([]*Course, error) {
	return s.query(ctx, `SELECT `+courseColumns+` FROM courses WHERE published ORDER BY created_at, id`)
}

func (s *service) ByEducator(ctx context.Context, educatorID string) ([]*Course, error) {
	return s.query(ctx, `SELECT `+courseColumns+` FROM courses WHERE educator_id = $1 ORDER BY created_at, id`, educatorID)
}

func (s *service) Rate(ctx context.Context, courseID uuid.UUID, userID string, value int) (*Course, error) {
	if value < 1 || value > 5 {
		return nil, ErrInvalidRating
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.GetContext(ctx, &version, `SELECT version FROM courses WHERE id = $1 FOR UPDATE`, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course version: %w", err)
	}

	if err := s.appendEvent(ctx, tx, courseID, version, "CourseRated", CourseRatedEvent{
		ID:     courseID,
		UserID: userID,
		Rating: value,
	}); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO course_ratings (course_id, user_id, rating)
		VALUES ($1, $2, $3)
		ON CONFLICT (course_id, user_id) DO UPDATE SET rating = EXCLUDED.rating
	`, courseID, userID, value); err != nil {
		return nil, fmt.Errorf("failed to record rating: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE courses SET version = version + 1, updated_at = NOW() WHERE id = $1
	`, courseID); err != nil {
		return nil, fmt.Errorf("failed to update read model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.Get(ctx, courseID)
}

func (s *service) query(ctx context.Context, query string, args ...interface{}) ([]*Course, error) {
	var rows []courseRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	courses := make([]*Course, len(rows))
	byID := make(map[uuid.UUID]*Course, len(rows))
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		course := &Course{
			ID:          row.ID,
			EducatorID:  row.EducatorID,
			Title:       row.Title,
			Description: row.Description,
			Thumbnail:   row.Thumbnail,
			Price:       row.Price,
			Discount:    row.Discount,
			Published:   row.Published,
			Version:     row.Version,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		}
		if err := json.Unmarshal(row.Content, &course.Chapters); err != nil {
			return nil, fmt.Errorf("failed to decode content of course %s: %w", row.ID, err)
		}
		courses[i] = course
		byID[row.ID] = course
		ids[i] = row.ID
	}

	var ratings []ratingRow
	err := s.db.SelectContext(ctx, &ratings, `
		SELECT course_id, user_id, rating FROM course_ratings
		WHERE course_id = ANY($1::uuid[])
		ORDER BY course_id, user_id
	`, uuidArray(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	for _, r := range ratings {
		c := byID[r.CourseID]
		c.Ratings = append(c.Ratings, Rating{UserID: r.UserID, Value: r.Rating})
	}
	return courses, nil
}

func uuidArray(ids []uuid.UUID) interface{} {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return pq.Array(out)
}
