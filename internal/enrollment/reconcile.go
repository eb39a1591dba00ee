// internal/enrollment/reconcile.go
package enrollment

import (
	"context"
	"fmt"
	"log"
	"time"

	"upskill/internal/ledger"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// Reconciler repairs index lag by re-projecting completed intents the index
// has not seen.
type Reconciler struct {
	ledger  ledger.Ledger
	index   Index
	tracer  trace.Tracer
	repairs metric.Int64Counter
	cron    *cron.Cron
	timeout time.Duration
}

func NewReconciler(l ledger.Ledger, index Index) *Reconciler {
	meter := otel.Meter("upskill/enrollment")
	repairs, err := meter.Int64Counter("enrollment.repairs",
		metric.WithDescription("Enrollment records created by the reconciliation sweep"))
	if err != nil {
		log.Printf("[reconcile] failed to create repairs counter: %v", err)
	}
	return &Reconciler{
		ledger:  l,
		index:   index,
		tracer:  otel.Tracer("upskill/enrollment"),
		repairs: repairs,
		timeout: 30 * time.Second,
	}
}

// Sweep re-projects every completed intent and returns how many missing
// records it created.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "enrollment.sweep")
	defer span.End()

	completed, err := r.ledger.Completed(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("load completed intents: %w", err)
	}

	repaired := 0
	for _, intent := range completed {
		// Projecting an intent whose pair is already enrolled is a no-op
		// unless it is the earlier grant.
		created, err := r.index.Project(ctx, intent)
		if err != nil {
			return repaired, fmt.Errorf("project intent %s: %w", intent.ID, err)
		}
		if created {
			repaired++
		}
	}

	span.SetAttributes(attribute.Int("repaired", repaired))
	if r.repairs != nil && repaired > 0 {
		r.repairs.Add(ctx, int64(repaired))
	}
	return repaired, nil
}

// Rebuild replaces the index with a full replay of the ledger. Grants
// projected after the ledger snapshot was read are lost by the swap, so a
// sweep over a fresh read follows it.
func (r *Reconciler) Rebuild(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "enrollment.rebuild_from_ledger")
	defer span.End()

	intents, err := r.ledger.Intents(ctx)
	if err != nil {
		return fmt.Errorf("load intents: %w", err)
	}
	if err := r.index.Rebuild(ctx, intents); err != nil {
		return err
	}
	if _, err := r.Sweep(ctx); err != nil {
		return fmt.Errorf("catch up after rebuild: %w", err)
	}
	return nil
}

// Start runs Sweep on the given cron spec until Stop is called.
func (r *Reconciler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		n, err := r.Sweep(ctx)
		if err != nil {
			log.Printf("[reconcile] sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[reconcile] repaired %d enrollment(s)", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	log.Printf("[reconcile] sweep scheduled (%s)", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
