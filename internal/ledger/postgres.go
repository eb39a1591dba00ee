// internal/ledger/postgres.go
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"upskill/internal/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const aggregateType = "purchase_intent"

// Schema holds the read model for intents plus the applied-key table that
// makes Resolve idempotent across processes.
const Schema = `
	CREATE TABLE IF NOT EXISTS purchase_intents (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id UUID NOT NULL,
		amount BIGINT NOT NULL CHECK (amount >= 0),
		status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		idempotency_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS purchase_intents_pair_idx ON purchase_intents (user_id, course_id, status);
	CREATE INDEX IF NOT EXISTS purchase_intents_course_idx ON purchase_intents (course_id) WHERE status = 'completed';

	CREATE TABLE IF NOT EXISTS ledger_applied_keys (
		key TEXT PRIMARY KEY,
		intent_id UUID NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	);
`

const intentColumns = `id, user_id, course_id, amount, status, idempotency_key, created_at, updated_at`

// PostgresLedger stores intents in Postgres and records every transition in
// the event store within the same transaction.
type PostgresLedger struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
	opts       options
	tracer     trace.Tracer
}

// NewPostgresLedger creates a ledger over db. The event store must share the
// same underlying connection pool.
func NewPostgresLedger(db *sqlx.DB, es *eventstore.EventStore, opts ...Option) *PostgresLedger {
	return &PostgresLedger{
		db:         db,
		eventStore: es,
		opts:       buildOptions(opts),
		tracer:     otel.Tracer("upskill/ledger"),
	}
}

// Migrate creates the ledger tables.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, Schema)
	return err
}

func (l *PostgresLedger) Open(ctx context.Context, userID string, courseID uuid.UUID, amount int64) (uuid.UUID, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.open", trace.WithAttributes(
		attribute.String("course.id", courseID.String()),
	))
	defer span.End()

	if amount < 0 {
		return uuid.Nil, ErrInvalidAmount
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize concurrent checkouts for the same pair.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID+":"+courseID.String()); err != nil {
		return uuid.Nil, fmt.Errorf("lock checkout pair: %w", err)
	}

	now := l.opts.now().UTC()
	var blocking int
	err = tx.GetContext(ctx, &blocking, `
		SELECT COUNT(*) FROM purchase_intents
		WHERE user_id = $1 AND course_id = $2 AND status = 'pending' AND created_at > $3
	`, userID, courseID, now.Add(-l.opts.window))
	if err != nil {
		return uuid.Nil, fmt.Errorf("check pending intents: %w", err)
	}
	if blocking > 0 {
		return uuid.Nil, ErrDuplicateCheckout
	}

	intent := Intent{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO purchase_intents (`+intentColumns+`)
		VALUES (:id, :user_id, :course_id, :amount, :status, :idempotency_key, :created_at, :updated_at)
	`, intent)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert intent: %w", err)
	}

	data, err := json.Marshal(IntentOpenedEvent{ID: intent.ID, UserID: userID, CourseID: courseID, Amount: amount})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal event data: %w", err)
	}
	event := eventstore.Event{EventType: eventTypeFor(StatusPending), EventData: data}
	if err := l.eventStore.AppendTx(ctx, tx.Tx, intent.ID, aggregateType, 0, []eventstore.Event{event}); err != nil {
		return uuid.Nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit transaction: %w", err)
	}
	return intent.ID, nil
}

func (l *PostgresLedger) Resolve(ctx context.Context, key string, intentID uuid.UUID, outcome Status) (*Resolution, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.resolve", trace.WithAttributes(
		attribute.String("intent.id", intentID.String()),
		attribute.String("outcome", string(outcome)),
	))
	defer span.End()

	if err := validOutcome(outcome); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrMissingKey
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := l.opts.now().UTC()

	// A racing transaction with the same key blocks here until it finishes.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_applied_keys (key, intent_id, applied_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, intentID, now)
	if err != nil {
		return nil, fmt.Errorf("record idempotency key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var prior Intent
		err := tx.GetContext(ctx, &prior, `
			SELECT `+intentColumns+` FROM purchase_intents
			WHERE id = (SELECT intent_id FROM ledger_applied_keys WHERE key = $1)
		`, key)
		if err != nil {
			return nil, fmt.Errorf("load prior resolution: %w", err)
		}
		span.SetAttributes(attribute.Bool("replayed", true))
		return &Resolution{Intent: prior, Replayed: true}, nil
	}

	var intent Intent
	err = tx.GetContext(ctx, &intent, `
		UPDATE purchase_intents
		SET status = $2, idempotency_key = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+intentColumns,
		intentID, outcome, key, now)
	if errors.Is(err, sql.ErrNoRows) {
		return l.resolveSettled(ctx, tx, intentID, outcome)
	}
	if err != nil {
		return nil, fmt.Errorf("update intent: %w", err)
	}

	data, err := json.Marshal(IntentResolvedEvent{ID: intentID, Status: outcome, IdempotencyKey: key})
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	event := eventstore.Event{EventType: eventTypeFor(outcome), EventData: data}
	if err := l.eventStore.AppendTx(ctx, tx.Tx, intentID, aggregateType, 1, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &Resolution{Intent: intent}, nil
}

// resolveSettled handles a Resolve whose intent is missing or already
// terminal. The new key is kept only when the outcome matches.
func (l *PostgresLedger) resolveSettled(ctx context.Context, tx *sqlx.Tx, intentID uuid.UUID, outcome Status) (*Resolution, error) {
	var current Intent
	err := tx.GetContext(ctx, &current, `SELECT `+intentColumns+` FROM purchase_intents WHERE id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownIntent
	}
	if err != nil {
		return nil, fmt.Errorf("load intent: %w", err)
	}
	if current.Status != outcome {
		return nil, ErrInvalidTransition
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &Resolution{Intent: current, Replayed: true}, nil
}

func (l *PostgresLedger) StatusOf(ctx context.Context, intentID uuid.UUID) (Status, error) {
	var status Status
	err := l.db.GetContext(ctx, &status, `SELECT status FROM purchase_intents WHERE id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownIntent
	}
	if err != nil {
		return "", fmt.Errorf("query status: %w", err)
	}
	return status, nil
}

func (l *PostgresLedger) Get(ctx context.Context, intentID uuid.UUID) (*Intent, error) {
	var intent Intent
	err := l.db.GetContext(ctx, &intent, `SELECT `+intentColumns+` FROM purchase_intents WHERE id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownIntent
	}
	if err != nil {
		return nil, fmt.Errorf("query intent: %w", err)
	}
	return &intent, nil
}

// History rebuilds the audit trail from the intent's event stream.
func (l *PostgresLedger) History(ctx context.Context, intentID uuid.UUID) ([]Transition, error) {
	events, err := l.eventStore.LoadEvents(ctx, intentID, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrUnknownIntent
	}

	history := make([]Transition, 0, len(events))
	for _, e := range events {
		t := Transition{IntentID: intentID, At: e.CreatedAt}
		switch e.EventType {
		case eventTypeFor(StatusPending):
			t.To = StatusPending
		default:
			var resolved IntentResolvedEvent
			if err := json.Unmarshal(e.EventData, &resolved); err != nil {
				return nil, fmt.Errorf("decode event %d: %w", e.ID, err)
			}
			t.From = StatusPending
			t.To = resolved.Status
			t.IdempotencyKey = resolved.IdempotencyKey
		}
		history = append(history, t)
	}
	return history, nil
}

func (l *PostgresLedger) Intents(ctx context.Context) ([]Intent, error) {
	var intents []Intent
	err := l.db.SelectContext(ctx, &intents, `SELECT `+intentColumns+` FROM purchase_intents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	return intents, nil
}

func (l *PostgresLedger) Completed(ctx context.Context, courseIDs []uuid.UUID) ([]Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM purchase_intents WHERE status = 'completed'`
	var args []interface{}
	if courseIDs != nil {
		ids := make([]string, len(courseIDs))
		for i, id := range courseIDs {
			ids[i] = id.String()
		}
		query += ` AND course_id = ANY($1::uuid[])`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY created_at, id`

	var intents []Intent
	if err := l.db.SelectContext(ctx, &intents, query, args...); err != nil {
		return nil, fmt.Errorf("query completed intents: %w", err)
	}
	return intents, nil
}

// ensure both implementations satisfy the interface
var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Ledger = (*PostgresLedger)(nil)
)
