// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"upskill/internal/catalog"
	"upskill/internal/checkout"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"
	"upskill/internal/payments"
	"upskill/internal/webhook"

	"github.com/google/uuid"
)

var ErrInjected = errors.New("chaos: injected failure")

// FaultyIndex fails projections while a fault is active.
type FaultyIndex struct {
	enrollment.Index
	failing atomic.Bool
}

func (x *FaultyIndex) Project(ctx context.Context, intent ledger.Intent) (bool, error) {
	if x.failing.Load() {
		return false, ErrInjected
	}
	return x.Index.Project(ctx, intent)
}

func (x *FaultyIndex) SetFailing(on bool) { x.failing.Store(on) }

// Harness wires the purchase pipeline around the given stores so experiments
// can drive it the way the payment provider and checkout flow would.
type Harness struct {
	Ledger     ledger.Ledger
	Index      *FaultyIndex
	Courses    catalog.Service
	Ingester   *payments.Ingester
	Checkout   checkout.Service
	Reconciler *enrollment.Reconciler

	// SweepSchedule drives the reconciler during outage experiments.
	SweepSchedule string
	Concurrency   int

	secret string
	seq    atomic.Int64
}

func NewHarness(l ledger.Ledger, index enrollment.Index, courses catalog.Service) *Harness {
	secret := "chaos_" + uuid.NewString()
	faulty := &FaultyIndex{Index: index}
	return &Harness{
		Ledger:        l,
		Index:         faulty,
		Courses:       courses,
		Ingester:      payments.NewIngester(l, faulty, webhook.NewVerifier(secret, time.Minute), payments.Config{Provider: "chaos"}),
		Checkout:      checkout.NewService(l, faulty, courses, 0),
		Reconciler:    enrollment.NewReconciler(l, faulty),
		SweepSchedule: "@every 1s",
		Concurrency:   50,
		secret:        secret,
	}
}

// Deliver sends one signed provider event through the ingester.
func (h *Harness) Deliver(ctx context.Context, eventID, eventType string, intentID uuid.UUID) payments.Result {
	body := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"metadata":{"purchase_id":%q}}}}`,
		eventID, eventType, intentID))
	return h.Ingester.Handle(ctx, body, webhook.Sign(h.secret, time.Now(), body))
}

func (h *Harness) course(ctx context.Context) (*catalog.Course, error) {
	c := &catalog.Course{
		EducatorID: "chaos_educator",
		Title:      "Chaos course",
		Price:      1000,
		Published:  true,
	}
	if err := h.Courses.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("seed course: %w", err)
	}
	return c, nil
}

func (h *Harness) user() string {
	return fmt.Sprintf("chaos_user_%d_%s", h.seq.Add(1), uuid.NewString()[:8])
}

// open starts n checkouts for distinct users on one fresh course.
func (h *Harness) open(ctx context.Context, n int) ([]uuid.UUID, error) {
	c, err := h.course(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		session, err := h.Checkout.Start(ctx, h.user(), c.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, session.PurchaseID)
	}
	return ids, nil
}

type pair struct {
	user   string
	course uuid.UUID
}

// UnprojectedCompleted counts (user, course) pairs with a completed intent
// but no enrollment record.
func (h *Harness) UnprojectedCompleted(ctx context.Context) (float64, error) {
	completed, err := h.Ledger.Completed(ctx, nil)
	if err != nil {
		return 0, err
	}
	records, err := h.Index.Records(ctx)
	if err != nil {
		return 0, err
	}
	enrolled := make(map[pair]bool, len(records))
	for _, r := range records {
		enrolled[pair{r.UserID, r.CourseID}] = true
	}
	missing := make(map[pair]bool)
	for _, in := range completed {
		if p := (pair{in.UserID, in.CourseID}); !enrolled[p] {
			missing[p] = true
		}
	}
	return float64(len(missing)), nil
}

// UnbackedGrants counts enrollment records whose intent is not completed.
func (h *Harness) UnbackedGrants(ctx context.Context) (float64, error) {
	records, err := h.Index.Records(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		status, err := h.Ledger.StatusOf(ctx, r.IntentID)
		if err != nil || status != ledger.StatusCompleted {
			n++
		}
	}
	return float64(n), nil
}

// ExcessTransitions counts ledger transitions beyond open + one resolution.
func (h *Harness) ExcessTransitions(ctx context.Context) (float64, error) {
	intents, err := h.Ledger.Intents(ctx)
	if err != nil {
		return 0, err
	}
	excess := 0
	for _, in := range intents {
		history, err := h.Ledger.History(ctx, in.ID)
		if err != nil {
			return 0, err
		}
		if len(history) > 2 {
			excess += len(history) - 2
		}
	}
	return float64(excess), nil
}

// MaxPendingPerPair is the largest number of pending intents any single
// (user, course) pair holds.
func (h *Harness) MaxPendingPerPair(ctx context.Context) (float64, error) {
	intents, err := h.Ledger.Intents(ctx)
	if err != nil {
		return 0, err
	}
	counts := make(map[pair]int)
	most := 0
	for _, in := range intents {
		if in.Status != ledger.StatusPending {
			continue
		}
		p := pair{in.UserID, in.CourseID}
		counts[p]++
		if counts[p] > most {
			most = counts[p]
		}
	}
	return float64(most), nil
}

func zero(name string, query func(context.Context) (float64, error)) Metric {
	return Metric{Name: name, Query: query, Threshold: Threshold{Operator: "==", Value: 0}}
}

func staysZero(metric, message string) Assertion {
	return Assertion{Metric: metric, Condition: func(v float64) bool { return v == 0 }, Message: message}
}

// Experiments returns the standard game day suite.
func (h *Harness) Experiments(outage time.Duration) []Experiment {
	return []Experiment{
		h.DuplicateWebhookStorm(),
		h.OutOfOrderDelivery(10),
		h.ProjectionOutage(outage),
		h.ConcurrentCheckoutRace(),
	}
}

// DuplicateWebhookStorm delivers the same completion event concurrently.
func (h *Harness) DuplicateWebhookStorm() Experiment {
	return Experiment{
		Name:       "duplicate-webhook-storm",
		Hypothesis: "Concurrent redelivery of one payment event resolves the intent once and grants one enrollment",
		SteadyState: []Metric{
			zero("excess_transitions", h.ExcessTransitions),
			zero("unprojected_completed", h.UnprojectedCompleted),
			zero("unbacked_grants", h.UnbackedGrants),
		},
		Method: []Action{{
			Type:   "redeliver",
			Target: "payments-webhook",
			Execute: func(ctx context.Context) error {
				ids, err := h.open(ctx, 1)
				if err != nil {
					return err
				}
				eventID := "evt_storm_" + ids[0].String()
				var wg sync.WaitGroup
				var nacks atomic.Int64
				for i := 0; i < h.Concurrency; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if !h.Deliver(ctx, eventID, "checkout.session.completed", ids[0]).Ack {
							nacks.Add(1)
						}
					}()
				}
				wg.Wait()
				if n := nacks.Load(); n > 0 {
					return fmt.Errorf("%d deliveries rejected", n)
				}
				return nil
			},
		}},
		Validation: []Assertion{
			staysZero("excess_transitions", "Each intent is resolved exactly once"),
			staysZero("unprojected_completed", "Every completed intent grants access"),
			staysZero("unbacked_grants", "No access without a completed payment"),
		},
		Duration: 2 * time.Second,
	}
}

// OutOfOrderDelivery races contradictory outcomes for the same intents.
func (h *Harness) OutOfOrderDelivery(intents int) Experiment {
	return Experiment{
		Name:       "out-of-order-delivery",
		Hypothesis: "Contradictory and reordered provider events never grant access for a failed payment",
		SteadyState: []Metric{
			zero("unprojected_completed", h.UnprojectedCompleted),
			zero("unbacked_grants", h.UnbackedGrants),
		},
		Method: []Action{{
			Type:   "reorder",
			Target: "payments-webhook",
			Execute: func(ctx context.Context) error {
				ids, err := h.open(ctx, intents)
				if err != nil {
					return err
				}
				type delivery struct {
					eventID, eventType string
					intent             uuid.UUID
				}
				var deliveries []delivery
				for _, id := range ids {
					ok := delivery{"evt_ok_" + id.String(), "checkout.session.completed", id}
					deliveries = append(deliveries, ok, ok,
						delivery{"evt_fail_" + id.String(), "payment_intent.payment_failed", id})
				}
				rand.Shuffle(len(deliveries), func(i, j int) { deliveries[i], deliveries[j] = deliveries[j], deliveries[i] })

				var wg sync.WaitGroup
				for _, d := range deliveries {
					wg.Add(1)
					go func(d delivery) {
						defer wg.Done()
						h.Deliver(ctx, d.eventID, d.eventType, d.intent)
					}(d)
				}
				wg.Wait()
				return nil
			},
		}},
		Validation: []Assertion{
			staysZero("unprojected_completed", "Every completed intent grants access"),
			staysZero("unbacked_grants", "Failed intents never grant access"),
		},
		Duration: 2 * time.Second,
	}
}

// ProjectionOutage fails the enrollment index for a while and relies on the
// reconciliation sweep to catch up.
func (h *Harness) ProjectionOutage(outage time.Duration) Experiment {
	return Experiment{
		Name:       "projection-outage",
		Hypothesis: "Payments accepted while the enrollment index is down are granted once the sweep runs",
		SteadyState: []Metric{
			zero("unprojected_completed", h.UnprojectedCompleted),
			zero("unbacked_grants", h.UnbackedGrants),
		},
		Method: []Action{
			{
				Type:   "inject-failure",
				Target: "enrollment-index",
				Execute: func(ctx context.Context) error {
					h.Index.SetFailing(true)
					time.AfterFunc(outage, func() { h.Index.SetFailing(false) })
					return nil
				},
			},
			{
				Type:   "deliver",
				Target: "payments-webhook",
				Execute: func(ctx context.Context) error {
					ids, err := h.open(ctx, 5)
					if err != nil {
						return err
					}
					for _, id := range ids {
						if res := h.Deliver(ctx, "evt_outage_"+id.String(), "checkout.session.completed", id); !res.Ack {
							return fmt.Errorf("delivery for %s rejected: %s", id, res.Reason)
						}
					}
					return nil
				},
			},
			{
				Type:    "start-sweeper",
				Target:  "reconciler",
				Execute: func(ctx context.Context) error { return h.Reconciler.Start(h.SweepSchedule) },
			},
		},
		Rollback: []Action{
			{
				Type:   "stop-sweeper",
				Target: "reconciler",
				Execute: func(ctx context.Context) error {
					h.Reconciler.Stop()
					return nil
				},
			},
			{
				Type:   "remove-failure",
				Target: "enrollment-index",
				Execute: func(ctx context.Context) error {
					h.Index.SetFailing(false)
					return nil
				},
			},
		},
		Validation: []Assertion{
			staysZero("unprojected_completed", "Lagging enrollments are repaired by the sweep"),
			staysZero("unbacked_grants", "No access without a completed payment"),
		},
		Duration: outage + 3*time.Second,
	}
}

// ConcurrentCheckoutRace starts many checkouts for the same pair at once.
func (h *Harness) ConcurrentCheckoutRace() Experiment {
	return Experiment{
		Name:       "concurrent-checkout-race",
		Hypothesis: "Simultaneous checkouts for one user and course open a single pending intent",
		SteadyState: []Metric{{
			Name:      "max_pending_per_pair",
			Query:     h.MaxPendingPerPair,
			Threshold: Threshold{Operator: "<=", Value: 1},
		}},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "checkout",
			Execute: func(ctx context.Context) error {
				c, err := h.course(ctx)
				if err != nil {
					return err
				}
				user := h.user()
				var wg sync.WaitGroup
				var opened atomic.Int64
				for i := 0; i < h.Concurrency; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := h.Checkout.Start(ctx, user, c.ID); err == nil {
							opened.Add(1)
						}
					}()
				}
				wg.Wait()
				if n := opened.Load(); n != 1 {
					return fmt.Errorf("%d checkouts opened, want 1", n)
				}
				return nil
			},
		}},
		Validation: []Assertion{{
			Metric:    "max_pending_per_pair",
			Condition: func(v float64) bool { return v <= 1 },
			Message:   "At most one pending checkout per user and course",
		}},
		Duration: time.Second + 500*time.Millisecond,
	}
}
