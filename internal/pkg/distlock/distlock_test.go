package distlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "followup-sweep", time.Minute)
	b := NewRedisLock(client, "followup-sweep", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, b.Release(ctx), ErrNotHeld, "b cannot release a's lock")
	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_TTLExpiry(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	b := NewRedisLock(client, "k", time.Second)
	ok, err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, a.Extend(ctx, time.Minute), ErrNotHeld)
}

func TestRedisLock_Extend(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)
	require.NoError(t, a.Extend(ctx, time.Hour))

	mr.FastForward(10 * time.Second)
	assert.True(t, mr.Exists("lock:k"))
}

func TestWithLock(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	l := NewLock(client, nil, "job", time.Minute)

	calls := 0
	ran, err := WithLock(ctx, l, func(context.Context) error { calls++; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)

	other := NewRedisLock(client, "job", time.Minute)
	ok, _ := other.Acquire(ctx)
	require.True(t, ok)

	ran, err = WithLock(ctx, l, func(context.Context) error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
}

func TestWithLock_PropagatesFnError(t *testing.T) {
	_, client := newRedis(t)
	l := NewRedisLock(client, "job", time.Minute)

	ran, err := WithLock(context.Background(), l, func(context.Context) error { return errors.New("sweep failed") })
	assert.True(t, ran)
	assert.ErrorContains(t, err, "sweep failed")

	ok, _ := l.Acquire(context.Background())
	assert.True(t, ok, "lock released after fn error")
}

func TestWithLock_RenewsLeaseWhileRunning(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLock(client, "job", 150*time.Millisecond)

	ran, err := WithLock(context.Background(), l, func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			// Advance the lease most of the way, then let a renewal tick fire.
			mr.FastForward(100 * time.Millisecond)
			time.Sleep(120 * time.Millisecond)
			if !mr.Exists("lock:job") {
				return errors.New("lease expired mid-run")
			}
		}
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:job"), "released afterwards")
}

// lease is an in-memory Extender that can be revoked.
type lease struct {
	mu      sync.Mutex
	held    bool
	revoked bool
	renewed int
}

func (l *lease) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	return true, nil
}

func (l *lease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

func (l *lease) Extend(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrNotHeld
	}
	l.renewed++
	return nil
}

func (l *lease) TTL() time.Duration { return 30 * time.Millisecond }

func (l *lease) revoke() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked = true
}

func TestWithLock_LostLeaseCancelsWork(t *testing.T) {
	l := &lease{}

	ran, err := WithLock(context.Background(), l, func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		l.revoke()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return errors.New("work not cancelled")
		}
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.Canceled)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Positive(t, l.renewed)
	assert.False(t, l.held)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "followup-sweep")
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock\\(\\$1\\)").WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "already held by this instance")

	mock.ExpectQuery("SELECT pg_advisory_unlock\\(\\$1\\)").WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
	require.NoError(t, l.Release(ctx))
	assert.ErrorIs(t, l.Release(ctx), ErrNotHeld)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLock_FallsBackToPostgres(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, isPG := NewLock(nil, db, "k", time.Minute).(*PGAdvisoryLock)
	assert.True(t, isPG)
}
