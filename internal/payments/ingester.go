// internal/payments/ingester.go
package payments

import (
	"context"
	"errors"
	"log"
	"time"

	"upskill/internal/enrollment"
	"upskill/internal/ledger"
	"upskill/internal/webhook"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBudget bounds the work done for one delivery.
const DefaultBudget = 5 * time.Second

// Reason explains a rejected delivery. Empty on Ack.
type Reason string

const (
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonMalformed        Reason = "malformed"
	ReasonUnknownIntent    Reason = "unknown_intent"
	ReasonUnavailable      Reason = "unavailable"
)

// Result is what the provider is told about a delivery. A rejected delivery
// may be retried by the provider; an acknowledged one is done.
type Result struct {
	Ack       bool
	Reason    Reason
	IntentID  uuid.UUID
	Replayed  bool
	Ignored   bool
	Anomaly   string
	Projected bool
}

func ack() Result                 { return Result{Ack: true} }
func reject(reason Reason) Result { return Result{Reason: reason} }

// Config tunes an Ingester.
type Config struct {
	// Provider namespaces idempotency keys, e.g. "stripe".
	Provider string
	Budget   time.Duration
	// BreakerFailures is how many consecutive projection failures open the
	// breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Ingester turns provider deliveries into ledger resolutions and enrollment
// projections.
type Ingester struct {
	ledger   ledger.Ledger
	index    enrollment.Index
	verifier *webhook.Verifier
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
	tracer   trace.Tracer

	outcomes  metric.Int64Counter
	anomalies metric.Int64Counter
	lag       metric.Int64Counter
}

func NewIngester(l ledger.Ledger, index enrollment.Index, verifier *webhook.Verifier, cfg Config) *Ingester {
	if cfg.Provider == "" {
		cfg.Provider = "stripe"
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	ing := &Ingester{
		ledger:   l,
		index:    index,
		verifier: verifier,
		cfg:      cfg,
		tracer:   otel.Tracer("upskill/payments"),
	}
	ing.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "enrollment-projection",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[payments] breaker %s: %s -> %s", name, from, to)
		},
	})

	meter := otel.Meter("upskill/payments")
	var err error
	if ing.outcomes, err = meter.Int64Counter("payments.ingest",
		metric.WithDescription("Payment deliveries by result")); err != nil {
		log.Printf("[payments] failed to create counter: %v", err)
	}
	if ing.anomalies, err = meter.Int64Counter("payments.anomalies",
		metric.WithDescription("Deliveries that contradict the ledger")); err != nil {
		log.Printf("[payments] failed to create counter: %v", err)
	}
	if ing.lag, err = meter.Int64Counter("payments.projection_lag",
		metric.WithDescription("Completed intents whose projection was deferred to the sweep")); err != nil {
		log.Printf("[payments] failed to create counter: %v", err)
	}
	return ing
}

// Handle verifies, classifies and applies one delivery.
func (i *Ingester) Handle(ctx context.Context, raw []byte, signature string) Result {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.Budget)
	defer cancel()

	ctx, span := i.tracer.Start(ctx, "payments.handle")
	defer span.End()

	res := i.handle(ctx, raw, signature)

	label := "ack"
	if !res.Ack {
		label = string(res.Reason)
	}
	span.SetAttributes(
		attribute.String("result", label),
		attribute.Bool("replayed", res.Replayed),
	)
	if i.outcomes != nil {
		i.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", label)))
	}
	return res
}

func (i *Ingester) handle(ctx context.Context, raw []byte, signature string) Result {
	if err := i.verifier.Verify(raw, signature); err != nil {
		log.Printf("[payments] rejected delivery: %v", err)
		return reject(ReasonInvalidSignature)
	}

	event, err := Parse(raw)
	if err != nil {
		log.Printf("[payments] rejected delivery: %v", err)
		return reject(ReasonMalformed)
	}

	var (
		intentID uuid.UUID
		outcome  ledger.Status
	)
	switch e := event.(type) {
	case PaymentSucceeded:
		intentID, outcome = e.IntentID, ledger.StatusCompleted
	case PaymentFailed:
		intentID, outcome = e.IntentID, ledger.StatusFailed
	case Unrecognized:
		res := ack()
		res.Ignored = true
		return res
	}

	key := webhook.IdempotencyKey(i.cfg.Provider, event.EventID())
	resolution, err := i.ledger.Resolve(ctx, key, intentID, outcome)
	switch {
	case errors.Is(err, ledger.ErrInvalidTransition):
		// The provider contradicts a settled intent. Retrying cannot help.
		i.anomaly(ctx, "invalid_transition", "event %s wants %s for settled intent %s", event.EventID(), outcome, intentID)
		res := ack()
		res.IntentID = intentID
		res.Anomaly = "invalid_transition"
		return res
	case errors.Is(err, ledger.ErrUnknownIntent):
		i.anomaly(ctx, "unknown_intent", "event %s references unknown intent %s", event.EventID(), intentID)
		res := reject(ReasonUnknownIntent)
		res.IntentID = intentID
		return res
	case err != nil:
		log.Printf("[payments] ledger unavailable for event %s: %v", event.EventID(), err)
		return reject(ReasonUnavailable)
	}

	res := ack()
	res.IntentID = intentID
	res.Replayed = resolution.Replayed
	if resolution.Intent.Status == ledger.StatusCompleted {
		res.Projected = i.project(ctx, resolution.Intent)
	}
	return res
}

// project derives enrollment for a completed intent. Failures are lag, not
// errors: the ledger already holds the truth and the sweep repairs the index.
func (i *Ingester) project(ctx context.Context, intent ledger.Intent) bool {
	_, err := i.breaker.Execute(func() (interface{}, error) {
		return i.index.Project(ctx, intent)
	})
	if err == nil {
		return true
	}
	log.Printf("[payments] projection lag for intent %s: %v", intent.ID, err)
	if i.lag != nil {
		i.lag.Add(ctx, 1)
	}
	return false
}

func (i *Ingester) anomaly(ctx context.Context, kind, format string, args ...interface{}) {
	log.Printf("[payments] anomaly: "+format, args...)
	if i.anomalies != nil {
		i.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}
