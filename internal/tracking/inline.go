package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// InlineIngester processes each fetch in its own goroutine inside the
// serving process. The HTTP handler returns as soon as the goroutine starts.
type InlineIngester struct {
	proc    Processor
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewInlineIngester bounds each fetch's processing, notifier calls included,
// by timeout.
func NewInlineIngester(proc Processor, timeout time.Duration) *InlineIngester {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InlineIngester{proc: proc, timeout: timeout}
}

func (in *InlineIngester) Ingest(evt TrackingEvent) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
		defer cancel()
		if err := process(ctx, in.proc, evt); err != nil {
			logger.Error("pixel fetch processing failed", "tracking_id", evt.TrackingID, "error", err)
		}
	}()
}

// Wait blocks until in-flight fetches finish or ctx is done.
func (in *InlineIngester) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process records the fetch and runs the inline triggers. A panic anywhere
// below is turned into an error so the process keeps serving.
func process(ctx context.Context, proc Processor, evt TrackingEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	out, err := proc.Record(ctx, evt.fetch())
	if err != nil {
		return err
	}
	if !out.Recorded() {
		logger.Debug("pixel fetch suppressed", "tracking_id", evt.TrackingID, "reason", out.Reason)
		return nil
	}
	fired, err := proc.Evaluate(ctx, out.Event)
	if len(fired) > 0 {
		logger.Info("triggers fired", "tracking_id", evt.TrackingID, "latches", fired)
	}
	return err
}
