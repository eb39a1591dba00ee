// internal/enrollment/postgres.go
package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"upskill/internal/ledger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const Schema = `
	CREATE TABLE IF NOT EXISTS enrollments (
		user_id TEXT NOT NULL,
		course_id UUID NOT NULL,
		intent_id UUID NOT NULL,
		enrolled_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, course_id)
	);
	CREATE INDEX IF NOT EXISTS enrollments_course_idx ON enrollments (course_id);
`

// upsertEnrollment keeps the earliest (enrolled_at, intent_id) per pair.
// xmax = 0 only for freshly inserted rows.
const upsertEnrollment = `
	INSERT INTO enrollments (user_id, course_id, intent_id, enrolled_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, course_id) DO UPDATE
	SET intent_id = EXCLUDED.intent_id, enrolled_at = EXCLUDED.enrolled_at
	WHERE (EXCLUDED.enrolled_at, EXCLUDED.intent_id) < (enrollments.enrolled_at, enrollments.intent_id)
	RETURNING (xmax = 0)
`

const recordColumns = `user_id, course_id, intent_id, enrolled_at`

type PostgresIndex struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewPostgresIndex(db *sqlx.DB) *PostgresIndex {
	return &PostgresIndex{db: db, tracer: otel.Tracer("upskill/enrollment")}
}

func (x *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, Schema)
	return err
}

func (x *PostgresIndex) Project(ctx context.Context, intent ledger.Intent) (bool, error) {
	ctx, span := x.tracer.Start(ctx, "enrollment.project", trace.WithAttributes(
		attribute.String("intent.id", intent.ID.String()),
	))
	defer span.End()

	rec, err := recordFor(intent)
	if err != nil {
		return false, err
	}
	return project(ctx, x.db, rec)
}

func project(ctx context.Context, q sqlx.QueryerContext, rec Record) (bool, error) {
	var inserted bool
	err := q.QueryRowxContext(ctx, upsertEnrollment, rec.UserID, rec.CourseID, rec.IntentID, rec.EnrolledAt).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		// An earlier record already holds the pair.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert enrollment: %w", err)
	}
	return inserted, nil
}

func (x *PostgresIndex) IsEnrolled(ctx context.Context, userID string, courseID uuid.UUID) (bool, error) {
	var exists bool
	err := x.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)
	`, userID, courseID)
	if err != nil {
		return false, fmt.Errorf("query enrollment: %w", err)
	}
	return exists, nil
}

// Rebuild truncates and refills the table in one transaction, so readers see
// either the old projection or the new one.
func (x *PostgresIndex) Rebuild(ctx context.Context, intents []ledger.Intent) error {
	ctx, span := x.tracer.Start(ctx, "enrollment.rebuild", trace.WithAttributes(
		attribute.Int("intent.count", len(intents)),
	))
	defer span.End()

	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments`); err != nil {
		return fmt.Errorf("clear enrollments: %w", err)
	}
	for _, intent := range intents {
		rec, err := recordFor(intent)
		if err != nil {
			continue
		}
		if _, err := project(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (x *PostgresIndex) Records(ctx context.Context) ([]Record, error) {
	return x.selectRecords(ctx, `SELECT `+recordColumns+` FROM enrollments`)
}

func (x *PostgresIndex) ByCourses(ctx context.Context, courseIDs []uuid.UUID) ([]Record, error) {
	ids := make([]string, len(courseIDs))
	for i, id := range courseIDs {
		ids[i] = id.String()
	}
	return x.selectRecords(ctx, `SELECT `+recordColumns+` FROM enrollments WHERE course_id = ANY($1::uuid[])`, pq.Array(ids))
}

func (x *PostgresIndex) ByUser(ctx context.Context, userID string) ([]Record, error) {
	return x.selectRecords(ctx, `SELECT `+recordColumns+` FROM enrollments WHERE user_id = $1`, userID)
}

func (x *PostgresIndex) selectRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	var records []Record
	if err := x.db.SelectContext(ctx, &records, query+` ORDER BY enrolled_at, user_id, course_id`, args...); err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	return records, nil
}

var (
	_ Index = (*MemoryIndex)(nil)
	_ Index = (*PostgresIndex)(nil)
)
