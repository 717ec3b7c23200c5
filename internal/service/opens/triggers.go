package opens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/proxy"
)

const day = 24 * time.Hour

// Evaluate runs the inline triggers for a freshly recorded event, in order:
// first open, hot conversation, revived conversation. It returns the latches
// this call won. Only real (non-proxy) opens can fire a trigger.
//
// The message is re-read from storage rather than taken from the caller, and
// each latch is committed with a conditional write before the notifier runs.
// Notifier errors are logged and never returned.
func (s *Service) Evaluate(ctx context.Context, ev *domain.OpenEvent) ([]domain.Latch, error) {
	if !proxy.IsRealOpen(ev.IPAddress, ev.UserAgent) {
		return nil, nil
	}

	msg, err := s.repo.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return nil, fmt.Errorf("reload tracked message: %w", err)
	}

	now := ev.OpenedAt
	var (
		fired []domain.Latch
		errs  []error
	)

	for _, check := range []func(context.Context, *domain.TrackedMessage, *domain.OpenEvent, time.Time) (domain.Latch, bool, error){
		s.checkFirstOpen,
		s.checkHot,
		s.checkRevived,
	} {
		latch, won, err := check(ctx, msg, ev, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if won {
			fired = append(fired, latch)
		}
	}

	return fired, errors.Join(errs...)
}

func (s *Service) checkFirstOpen(ctx context.Context, msg *domain.TrackedMessage, ev *domain.OpenEvent, now time.Time) (domain.Latch, bool, error) {
	if msg.LatchSet(domain.LatchFirstOpen) {
		return domain.LatchFirstOpen, false, nil
	}
	won, err := s.commit(ctx, msg, domain.LatchFirstOpen, now)
	if err != nil || !won {
		return domain.LatchFirstOpen, false, err
	}

	n := domain.FirstOpenNotice{
		TrackingID: msg.ID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		SentAt:     msg.CreatedAt,
		OpenedAt:   ev.OpenedAt,
		Country:    ev.Country,
		City:       ev.City,
		Elapsed:    FormatElapsed(msg.CreatedAt, ev.OpenedAt),
	}
	s.deliver(msg, domain.LatchFirstOpen, s.notifier.NotifyFirstOpen(ctx, n))
	return domain.LatchFirstOpen, true, nil
}

func (s *Service) checkHot(ctx context.Context, msg *domain.TrackedMessage, _ *domain.OpenEvent, now time.Time) (domain.Latch, bool, error) {
	if msg.LatchSet(domain.LatchHot) {
		return domain.LatchHot, false, nil
	}
	// Proxy fetches are counted too; they are rare enough not to matter here.
	count, err := s.repo.CountEventsSince(ctx, msg.ID, now.Add(-s.cfg.HotWindow))
	if err != nil {
		return domain.LatchHot, false, fmt.Errorf("count recent opens: %w", err)
	}
	if count < s.cfg.HotThreshold {
		return domain.LatchHot, false, nil
	}
	won, err := s.commit(ctx, msg, domain.LatchHot, now)
	if err != nil || !won {
		return domain.LatchHot, false, err
	}

	n := domain.HotNotice{
		TrackingID: msg.ID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		OpenCount:  count,
	}
	s.deliver(msg, domain.LatchHot, s.notifier.NotifyHot(ctx, n))
	return domain.LatchHot, true, nil
}

func (s *Service) checkRevived(ctx context.Context, msg *domain.TrackedMessage, _ *domain.OpenEvent, now time.Time) (domain.Latch, bool, error) {
	if msg.LatchSet(domain.LatchRevived) {
		return domain.LatchRevived, false, nil
	}
	first, ok, err := s.repo.EarliestEventAt(ctx, msg.ID)
	if err != nil {
		return domain.LatchRevived, false, fmt.Errorf("earliest open: %w", err)
	}
	if !ok {
		return domain.LatchRevived, false, nil
	}
	days := int(now.Sub(first) / day)
	if days < s.cfg.RevivedAfterDays {
		return domain.LatchRevived, false, nil
	}
	won, err := s.commit(ctx, msg, domain.LatchRevived, now)
	if err != nil || !won {
		return domain.LatchRevived, false, err
	}

	n := domain.RevivedNotice{
		TrackingID:         msg.ID,
		Recipient:          msg.Recipient,
		Subject:            msg.Subject,
		DaysSinceFirstOpen: days,
	}
	s.deliver(msg, domain.LatchRevived, s.notifier.NotifyRevived(ctx, n))
	return domain.LatchRevived, true, nil
}

// commit performs the conditional latch write. Losing the race is not an error.
func (s *Service) commit(ctx context.Context, msg *domain.TrackedMessage, latch domain.Latch, at time.Time) (bool, error) {
	won, err := s.repo.SetLatch(ctx, msg.ID, latch, at)
	if err != nil {
		return false, fmt.Errorf("set %s latch: %w", latch, err)
	}
	if !won {
		logger.Debug("latch already taken", "tracking_id", msg.ID, "latch", latch)
		return false, nil
	}
	msg.SetLatch(latch, at)
	return true, nil
}

func (s *Service) deliver(msg *domain.TrackedMessage, latch domain.Latch, err error) {
	metrics.Notification(latch, err)
	if err != nil {
		logger.Error("notification failed; latch stays set", "tracking_id", msg.ID, "latch", latch, "recipient", msg.Recipient, "error", err)
		return
	}
	logger.Info("notification sent", "tracking_id", msg.ID, "latch", latch)
}
