package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestOpenCreatesPendingIntent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	courseID := uuid.New()

	id, err := l.Open(ctx, "user_1", courseID, 4999)
	require.NoError(t, err)

	intent, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, intent.Status)
	assert.Equal(t, "user_1", intent.UserID)
	assert.Equal(t, courseID, intent.CourseID)
	assert.Equal(t, int64(4999), intent.Amount)
}

func TestOpenRejectsNegativeAmount(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.Open(context.Background(), "user_1", uuid.New(), -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestOpenAllowsFreeCourse(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.Open(context.Background(), "user_1", uuid.New(), 0)
	assert.NoError(t, err)
}

func TestOpenBlocksDuplicateCheckoutWithinWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLedger(WithClock(clock.Now), WithDuplicateWindow(10*time.Minute))
	ctx := context.Background()
	courseID := uuid.New()

	_, err := l.Open(ctx, "user_1", courseID, 100)
	require.NoError(t, err)

	_, err = l.Open(ctx, "user_1", courseID, 100)
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	// A different user or course is unaffected.
	_, err = l.Open(ctx, "user_2", courseID, 100)
	assert.NoError(t, err)
	_, err = l.Open(ctx, "user_1", uuid.New(), 100)
	assert.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = l.Open(ctx, "user_1", courseID, 100)
	assert.NoError(t, err)
}

func TestOpenAfterFailureIsAllowed(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	courseID := uuid.New()

	id, err := l.Open(ctx, "user_1", courseID, 100)
	require.NoError(t, err)
	_, err = l.Resolve(ctx, "evt_fail", id, StatusFailed)
	require.NoError(t, err)

	_, err = l.Open(ctx, "user_1", courseID, 100)
	assert.NoError(t, err)
}

func TestResolveCompletesPendingIntent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	id, err := l.Open(ctx, "user_1", uuid.New(), 100)
	require.NoError(t, err)

	res, err := l.Resolve(ctx, "evt_1", id, StatusCompleted)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, StatusCompleted, res.Intent.Status)
	assert.Equal(t, "evt_1", res.Intent.IdempotencyKey)

	status, err := l.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestResolveReplaysSameKey(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	id, err := l.Open(ctx, "user_1", uuid.New(), 100)
	require.NoError(t, err)

	first, err := l.Resolve(ctx, "evt_1", id, StatusCompleted)
	require.NoError(t, err)

	// Replays return the prior result even when the outcome differs.
	for _, outcome := range []Status{StatusCompleted, StatusFailed} {
		again, err := l.Resolve(ctx, "evt_1", id, outcome)
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, first.Intent, again.Intent)
	}

	history, err := l.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestResolveSameOutcomeNewKeyIsReplay(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	id, err := l.Open(ctx, "user_1", uuid.New(), 100)
	require.NoError(t, err)
	_, err = l.Resolve(ctx, "evt_1", id, StatusCompleted)
	require.NoError(t, err)

	res, err := l.Resolve(ctx, "evt_2", id, StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "evt_1", res.Intent.IdempotencyKey)

	history, err := l.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestResolveRejectsConflictingOutcome(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	id, err := l.Open(ctx, "user_1", uuid.New(), 100)
	require.NoError(t, err)
	_, err = l.Resolve(ctx, "evt_1", id, StatusCompleted)
	require.NoError(t, err)

	_, err = l.Resolve(ctx, "evt_2", id, StatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, err := l.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestResolveErrors(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	id, err := l.Open(ctx, "user_1", uuid.New(), 100)
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		id      uuid.UUID
		outcome Status
		want    error
	}{
		{"unknown intent", "evt_1", uuid.New(), StatusCompleted, ErrUnknownIntent},
		{"pending outcome", "evt_1", id, StatusPending, ErrInvalidOutcome},
		{"bogus outcome", "evt_1", id, Status("refunded"), ErrInvalidOutcome},
		{"missing key", "", id, StatusCompleted, ErrMissingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Resolve(ctx, tt.key, tt.id, tt.outcome)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// None of the rejected calls consumed the key.
	res, err := l.Resolve(ctx, "evt_1", id, StatusCompleted)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestResolveConcurrentDeliveriesApplyOnce(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	id, err := l.Open(ctx, "user_1", uuid.New(), 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan *Resolution, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Resolve(ctx, fmt.Sprintf("evt_%d", i%5), id, StatusCompleted)
			if err == nil {
				results <- res
			}
		}(i)
	}
	wg.Wait()
	close(results)

	fresh := 0
	for res := range results {
		if !res.Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestCompletedFiltersByCourse(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	courseA, courseB := uuid.New(), uuid.New()

	a, _ := l.Open(ctx, "user_1", courseA, 10)
	b, _ := l.Open(ctx, "user_2", courseB, 20)
	_, _ = l.Open(ctx, "user_3", courseA, 30)
	_, err := l.Resolve(ctx, "k1", a, StatusCompleted)
	require.NoError(t, err)
	_, err = l.Resolve(ctx, "k2", b, StatusCompleted)
	require.NoError(t, err)

	all, err := l.Completed(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := l.Completed(ctx, []uuid.UUID{courseA})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, a, onlyA[0].ID)

	none, err := l.Completed(ctx, []uuid.UUID{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// Any sequence of resolutions leaves each intent with at most one terminal
// transition, and terminal intents never change status.
func TestResolveIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewMemoryLedger()
		ctx := context.Background()

		n := rapid.IntRange(1, 4).Draw(t, "intents")
		ids := make([]uuid.UUID, n)
		for i := range ids {
			id, err := l.Open(ctx, fmt.Sprintf("user_%d", i), uuid.New(), 100)
			require.NoError(t, err)
			ids[i] = id
		}

		settled := make(map[uuid.UUID]Status)
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			idx := rapid.IntRange(0, n-1).Draw(t, "intent")
			key := fmt.Sprintf("evt_%d", rapid.IntRange(0, 8).Draw(t, "key"))
			outcome := rapid.SampledFrom([]Status{StatusCompleted, StatusFailed}).Draw(t, "outcome")

			res, err := l.Resolve(ctx, key, ids[idx], outcome)
			if err != nil {
				require.ErrorIs(t, err, ErrInvalidTransition)
				continue
			}
			if prev, ok := settled[res.Intent.ID]; ok {
				require.Equal(t, prev, res.Intent.Status)
			}
			settled[res.Intent.ID] = res.Intent.Status
		}

		for _, id := range ids {
			history, err := l.History(ctx, id)
			require.NoError(t, err)
			require.LessOrEqual(t, len(history), 2)
			status, err := l.StatusOf(ctx, id)
			require.NoError(t, err)
			if want, ok := settled[id]; ok {
				require.Equal(t, want, status)
			}
		}
	})
}
