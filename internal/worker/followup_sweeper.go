package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/pkg/distlock"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/service/opens"
)

// =============================================================================
// FOLLOW-UP SWEEPER: Reminds the operator about unopened messages
// =============================================================================
// Runs one follow-up sweep immediately on start and then once per interval.
// The ticker keeps a fixed cadence no matter how long a cycle took or whether
// it failed. When several replicas run, the distributed lock lets only one of
// them sweep in a given cycle.

const (
	// DefaultSweepInterval is how often a sweep cycle runs.
	DefaultSweepInterval = 1 * time.Hour

	// SweepLockKey names the lock shared by every sweeper replica.
	SweepLockKey = "mailtrack:followup-sweep"

	// SweepCycleTimeout bounds one cycle.
	SweepCycleTimeout = 15 * time.Minute

	// SweepLockTTL is the lock lease. It is renewed while a cycle runs, so it
	// only bounds how long a crashed replica blocks the others.
	SweepLockTTL = 1 * time.Minute
)

// Sweeper runs one follow-up cycle. *opens.Service satisfies it.
type Sweeper interface {
	SweepFollowups(ctx context.Context) (opens.SweepReport, error)
}

// FollowupSweeper drives a Sweeper on a fixed interval.
type FollowupSweeper struct {
	sweeper  Sweeper
	lock     distlock.DistLock
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewFollowupSweeper builds the loop. lock may be nil for a single-replica
// deployment; interval <= 0 means DefaultSweepInterval.
func NewFollowupSweeper(s Sweeper, lock distlock.DistLock, interval time.Duration) *FollowupSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &FollowupSweeper{sweeper: s, lock: lock, interval: interval}
}

// Start launches the loop in a goroutine. Calling Start twice is a no-op.
func (fs *FollowupSweeper) Start(ctx context.Context) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cancel != nil {
		return
	}
	ctx, fs.cancel = context.WithCancel(ctx)
	fs.stopped = make(chan struct{})
	go func() {
		defer close(fs.stopped)
		fs.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to return.
func (fs *FollowupSweeper) Stop() {
	fs.mu.Lock()
	cancel, stopped := fs.cancel, fs.stopped
	fs.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Run blocks until ctx is cancelled.
func (fs *FollowupSweeper) Run(ctx context.Context) {
	log.Printf("[FollowupSweeper] Starting (interval=%s)", fs.interval)

	fs.RunOnce(ctx)

	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[FollowupSweeper] Stopping")
			return
		case <-ticker.C:
			fs.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single guarded cycle. It reports whether this replica
// actually swept; false means the lock was held elsewhere or the cycle failed.
func (fs *FollowupSweeper) RunOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, SweepCycleTimeout)
	defer cancel()

	start := time.Now()
	var report opens.SweepReport

	sweep := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("follow-up sweep panicked", "panic", r)
				err = errPanicked
			}
		}()
		report, err = fs.sweeper.SweepFollowups(ctx)
		return err
	}

	var (
		ran bool
		err error
	)
	if fs.lock == nil {
		ran, err = true, sweep(ctx)
	} else {
		ran, err = distlock.WithLock(ctx, fs.lock, sweep)
	}

	if !ran {
		if err != nil {
			metrics.Sweep(err)
			logger.Error("follow-up sweep lock failed", "error", err)
		} else {
			logger.Debug("follow-up sweep skipped; another replica holds the lock")
		}
		return false
	}

	metrics.Sweep(err)
	if err != nil {
		logger.Error("follow-up sweep failed",
			"error", err,
			"candidates", report.Candidates,
			"reminded", report.Reminded,
			"failed", report.Failed)
		return false
	}
	logger.Info("follow-up sweep complete",
		"candidates", report.Candidates,
		"reminded", report.Reminded,
		"already_opened", report.AlreadyOpened,
		"failed", report.Failed,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return true
}
