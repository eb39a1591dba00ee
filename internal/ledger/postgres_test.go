package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"upskill/internal/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresLedger(t *testing.T) *PostgresLedger {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping: DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	es := eventstore.NewEventStore(db.DB)
	ctx := context.Background()
	require.NoError(t, es.Migrate(ctx))
	l := NewPostgresLedger(db, es)
	require.NoError(t, l.Migrate(ctx))
	return l
}

func TestPostgresResolveLifecycle(t *testing.T) {
	l := setupPostgresLedger(t)
	ctx := context.Background()
	user := "user_" + uuid.NewString()
	courseID := uuid.New()

	id, err := l.Open(ctx, user, courseID, 1999)
	require.NoError(t, err)

	_, err = l.Open(ctx, user, courseID, 1999)
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	key := "key_" + uuid.NewString()
	res, err := l.Resolve(ctx, key, id, StatusCompleted)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, StatusCompleted, res.Intent.Status)

	again, err := l.Resolve(ctx, key, id, StatusCompleted)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	_, err = l.Resolve(ctx, "key_"+uuid.NewString(), id, StatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = l.Resolve(ctx, "key_"+uuid.NewString(), uuid.New(), StatusCompleted)
	assert.ErrorIs(t, err, ErrUnknownIntent)

	history, err := l.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StatusPending, history[0].To)
	assert.Equal(t, StatusCompleted, history[1].To)
	assert.Equal(t, key, history[1].IdempotencyKey)

	completed, err := l.Completed(ctx, []uuid.UUID{courseID})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, id, completed[0].ID)
}

func TestPostgresConcurrentResolveAppliesOnce(t *testing.T) {
	l := setupPostgresLedger(t)
	ctx := context.Background()

	id, err := l.Open(ctx, "user_"+uuid.NewString(), uuid.New(), 500)
	require.NoError(t, err)

	prefix := uuid.NewString()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Resolve(ctx, fmt.Sprintf("%s_%d", prefix, i%4), id, StatusCompleted)
			if err != nil {
				return
			}
			if !res.Replayed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}
