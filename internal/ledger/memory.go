// internal/ledger/memory.go
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a ledger implementation.
type Option func(*options)

type options struct {
	window time.Duration
	now    func() time.Time
}

// WithDuplicateWindow sets how long a pending intent blocks a second checkout.
func WithDuplicateWindow(d time.Duration) Option {
	return func(o *options) { o.window = d }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{window: DefaultDuplicateWindow, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type pairKey struct {
	userID   string
	courseID uuid.UUID
}

// MemoryLedger is an in-process Ledger. A single mutex is the serialization
// point for every transition.
type MemoryLedger struct {
	mu      sync.Mutex
	opts    options
	tracer  trace.Tracer
	intents map[uuid.UUID]*Intent
	order   []uuid.UUID
	pending map[pairKey]uuid.UUID
	applied map[string]uuid.UUID
	history map[uuid.UUID][]Transition
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(opts ...Option) *MemoryLedger {
	return &MemoryLedger{
		opts:    buildOptions(opts),
		tracer:  otel.Tracer("upskill/ledger"),
		intents: make(map[uuid.UUID]*Intent),
		pending: make(map[pairKey]uuid.UUID),
		applied: make(map[string]uuid.UUID),
		history: make(map[uuid.UUID][]Transition),
	}
}

func (l *MemoryLedger) Open(ctx context.Context, userID string, courseID uuid.UUID, amount int64) (uuid.UUID, error) {
	_, span := l.tracer.Start(ctx, "ledger.open", trace.WithAttributes(
		attribute.String("course.id", courseID.String()),
	))
	defer span.End()

	if amount < 0 {
		return uuid.Nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now().UTC()
	pair := pairKey{userID: userID, courseID: courseID}
	if id, ok := l.pending[pair]; ok {
		if existing := l.intents[id]; existing.Status == StatusPending && now.Sub(existing.CreatedAt) < l.opts.window {
			return uuid.Nil, ErrDuplicateCheckout
		}
	}

	intent := &Intent{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.intents[intent.ID] = intent
	l.order = append(l.order, intent.ID)
	l.pending[pair] = intent.ID
	l.history[intent.ID] = []Transition{{IntentID: intent.ID, To: StatusPending, At: now}}

	return intent.ID, nil
}

func (l *MemoryLedger) Resolve(ctx context.Context, key string, intentID uuid.UUID, outcome Status) (*Resolution, error) {
	_, span := l.tracer.Start(ctx, "ledger.resolve", trace.WithAttributes(
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

	l.mu.Lock()
	defer l.mu.Unlock()

	if priorID, ok := l.applied[key]; ok {
		span.SetAttributes(attribute.Bool("replayed", true))
		return &Resolution{Intent: *l.intents[priorID], Replayed: true}, nil
	}

	intent, ok := l.intents[intentID]
	if !ok {
		return nil, ErrUnknownIntent
	}

	if intent.Status.Terminal() {
		if intent.Status != outcome {
			return nil, ErrInvalidTransition
		}
		// Same outcome under a new key: remember the key so its own
		// redeliveries short-circuit above.
		l.applied[key] = intent.ID
		return &Resolution{Intent: *intent, Replayed: true}, nil
	}

	now := l.opts.now().UTC()
	intent.Status = outcome
	intent.IdempotencyKey = key
	intent.UpdatedAt = now
	l.applied[key] = intent.ID
	l.history[intent.ID] = append(l.history[intent.ID], Transition{
		IntentID:       intent.ID,
		From:           StatusPending,
		To:             outcome,
		IdempotencyKey: key,
		At:             now,
	})

	pair := pairKey{userID: intent.UserID, courseID: intent.CourseID}
	if l.pending[pair] == intent.ID {
		delete(l.pending, pair)
	}

	return &Resolution{Intent: *intent}, nil
}

func (l *MemoryLedger) StatusOf(ctx context.Context, intentID uuid.UUID) (Status, error) {
	intent, err := l.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	return intent.Status, nil
}

func (l *MemoryLedger) Get(ctx context.Context, intentID uuid.UUID) (*Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	intent, ok := l.intents[intentID]
	if !ok {
		return nil, ErrUnknownIntent
	}
	cp := *intent
	return &cp, nil
}

func (l *MemoryLedger) History(ctx context.Context, intentID uuid.UUID) ([]Transition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.history[intentID]
	if !ok {
		return nil, ErrUnknownIntent
	}
	return append([]Transition(nil), h...), nil
}

func (l *MemoryLedger) Intents(ctx context.Context) ([]Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Intent, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.intents[id])
	}
	return out, nil
}

func (l *MemoryLedger) Completed(ctx context.Context, courseIDs []uuid.UUID) ([]Intent, error) {
	var wanted map[uuid.UUID]bool
	if courseIDs != nil {
		wanted = make(map[uuid.UUID]bool, len(courseIDs))
		for _, id := range courseIDs {
			wanted[id] = true
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Intent
	for _, id := range l.order {
		intent := l.intents[id]
		if intent.Status != StatusCompleted {
			continue
		}
		if wanted != nil && !wanted[intent.CourseID] {
			continue
		}
		out = append(out, *intent)
	}
	return out, nil
}
