// Package distlock provides a lock held by at most one process at a time,
// backed by Redis or by a PostgreSQL advisory lock.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock is not (or no longer) held
// by this instance.
var ErrNotHeld = errors.New("lock not held")

// DistLock is a non-blocking mutual-exclusion lock across processes.
type DistLock interface {
	// Acquire tries to take the lock without waiting. It reports whether the
	// lock was taken.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance holds it.
	Release(ctx context.Context) error
}

// Extender is a lock whose lease expires unless it is renewed. WithLock
// renews such locks every TTL/3 while fn runs.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
	TTL() time.Duration
}

// NewLock prefers Redis when a client is given and falls back to a
// PostgreSQL advisory lock.
func NewLock(redisClient redis.UniversalClient, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// WithLock runs fn only if the lock can be taken, releasing it afterwards.
// ran is false when another holder already had the lock. If l is an
// Extender its lease is renewed while fn runs, and fn's context is cancelled
// should the lock be lost.
func WithLock(ctx context.Context, l DistLock, fn func(context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// Release with a fresh context so a cancelled ctx still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := l.Release(rctx); rerr != nil && !errors.Is(rerr, ErrNotHeld) && err == nil {
			err = fmt.Errorf("release lock: %w", rerr)
		}
	}()

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e, ok := l.(Extender); ok && e.TTL() > 0 {
		stop := keepAlive(fnCtx, e, cancel)
		defer stop()
	}
	return true, fn(fnCtx)
}

// keepAlive renews e until stop is called or ctx ends. A renewal that finds
// the lock gone calls lost; other failures are retried on the next tick.
func keepAlive(ctx context.Context, e Extender, lost context.CancelFunc) (stop func()) {
	ttl := e.TTL()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.Extend(ctx, ttl)
				switch {
				case err == nil:
				case errors.Is(err, ErrNotHeld):
					logger.Error("distributed lock lost while held", "error", err)
					lost()
					return
				case ctx.Err() == nil:
					logger.Warn("distributed lock renewal failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// session, so the lock pins one pooled connection from Acquire until
// Release; if that connection drops the server frees the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a stable 64-bit lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return err
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}
