package enrollment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"upskill/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func completedIntent(user string, course uuid.UUID, at time.Time) ledger.Intent {
	return ledger.Intent{
		ID:        uuid.New(),
		UserID:    user,
		CourseID:  course,
		Amount:    100,
		Status:    ledger.StatusCompleted,
		CreatedAt: at.Add(-time.Minute),
		UpdatedAt: at,
	}
}

func TestProjectCreatesRecordOnce(t *testing.T) {
	x := NewMemoryIndex()
	ctx := context.Background()
	intent := completedIntent("user_1", uuid.New(), base)

	created, err := x.Project(ctx, intent)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = x.Project(ctx, intent)
	require.NoError(t, err)
	assert.False(t, created)

	ok, err := x.IsEnrolled(ctx, "user_1", intent.CourseID)
	require.NoError(t, err)
	assert.True(t, ok)

	records, err := x.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, intent.ID, records[0].IntentID)
	assert.Equal(t, base, records[0].EnrolledAt)
}

func TestProjectRejectsNonCompleted(t *testing.T) {
	x := NewMemoryIndex()
	for _, status := range []ledger.Status{ledger.StatusPending, ledger.StatusFailed} {
		intent := completedIntent("user_1", uuid.New(), base)
		intent.Status = status
		_, err := x.Project(context.Background(), intent)
		assert.ErrorIs(t, err, ErrNotCompleted)
	}
	records, _ := x.Records(context.Background())
	assert.Empty(t, records)
}

func TestProjectKeepsEarliestIntent(t *testing.T) {
	x := NewMemoryIndex()
	ctx := context.Background()
	course := uuid.New()
	early := completedIntent("user_1", course, base)
	late := completedIntent("user_1", course, base.Add(time.Hour))

	_, err := x.Project(ctx, late)
	require.NoError(t, err)
	created, err := x.Project(ctx, early)
	require.NoError(t, err)
	assert.False(t, created)

	records, _ := x.ByUser(ctx, "user_1")
	require.Len(t, records, 1)
	assert.Equal(t, early.ID, records[0].IntentID)
}

func TestByCoursesAndByUser(t *testing.T) {
	x := NewMemoryIndex()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	for _, in := range []ledger.Intent{
		completedIntent("user_1", a, base),
		completedIntent("user_2", a, base.Add(time.Minute)),
		completedIntent("user_1", b, base.Add(2*time.Minute)),
	} {
		_, err := x.Project(ctx, in)
		require.NoError(t, err)
	}

	onA, err := x.ByCourses(ctx, []uuid.UUID{a})
	require.NoError(t, err)
	assert.Len(t, onA, 2)

	mine, err := x.ByUser(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a, mine[0].CourseID)
	assert.Equal(t, b, mine[1].CourseID)

	none, err := x.ByCourses(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIsEnrolledForUnknownPair(t *testing.T) {
	x := NewMemoryIndex()
	ok, err := x.IsEnrolled(context.Background(), "nobody", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func drawIntents(t *rapid.T) []ledger.Intent {
	users := []string{"u1", "u2", "u3"}
	courses := []uuid.UUID{uuid.New(), uuid.New()}
	n := rapid.IntRange(0, 12).Draw(t, "n")
	intents := make([]ledger.Intent, n)
	for i := range intents {
		in := completedIntent(
			rapid.SampledFrom(users).Draw(t, "user"),
			rapid.SampledFrom(courses).Draw(t, "course"),
			base.Add(time.Duration(rapid.IntRange(0, 5).Draw(t, "minute"))*time.Minute),
		)
		in.Status = rapid.SampledFrom([]ledger.Status{
			ledger.StatusCompleted, ledger.StatusCompleted, ledger.StatusFailed, ledger.StatusPending,
		}).Draw(t, "status")
		intents[i] = in
	}
	return intents
}

// Projecting the same intents in any order, with repeats, lands on the same
// index that Rebuild produces.
func TestProjectionIsOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		intents := drawIntents(t)

		want := NewMemoryIndex()
		require.NoError(t, want.Rebuild(ctx, intents))
		expected, _ := want.Records(ctx)

		order := rapid.Permutation(intents).Draw(t, "order")
		repeats := rapid.SliceOfN(rapid.IntRange(0, max(len(intents)-1, 0)), 0, 5).Draw(t, "repeats")

		got := NewMemoryIndex()
		for _, in := range order {
			_, _ = got.Project(ctx, in)
		}
		for _, i := range repeats {
			if len(intents) > 0 {
				_, _ = got.Project(ctx, intents[i])
			}
		}
		actual, _ := got.Records(ctx)
		require.Equal(t, expected, actual, fmt.Sprintf("order %v", order))
	})
}
