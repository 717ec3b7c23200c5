package opens

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/proxy"
)

// SweepReport summarises one follow-up sweep cycle.
type SweepReport struct {
	Candidates    int `json:"candidates"`
	Reminded      int `json:"reminded"`
	AlreadyOpened int `json:"already_opened"`
	Failed        int `json:"failed"`
}

// SweepFollowups runs one follow-up cycle over every message older than
// FollowupDays whose follow-up latch is unset.
//
// A message with a real open gets its latch set without a reminder. Otherwise
// a reminder is sent and the latch is set only after delivery succeeds, so a
// failed reminder is retried next cycle. A failure on one message never stops
// the rest of the sweep; only a failure to list candidates or a cancelled ctx
// returns an error.
func (s *Service) SweepFollowups(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()
	cutoff := now.Add(-time.Duration(s.cfg.FollowupDays) * day)

	candidates, err := s.repo.ListFollowupCandidates(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("list follow-up candidates: %w", err)
	}
	report.Candidates = len(candidates)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		msg := &candidates[i]
		reminded, err := s.followupOne(ctx, msg)
		switch {
		case err != nil:
			report.Failed++
			logger.Error("follow-up check failed", "tracking_id", msg.ID, "recipient", msg.Recipient, "error", err)
		case reminded:
			report.Reminded++
		default:
			report.AlreadyOpened++
		}
	}
	return report, nil
}

func (s *Service) followupOne(ctx context.Context, msg *domain.TrackedMessage) (reminded bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	events, err := s.repo.ListEvents(ctx, msg.ID)
	if err != nil {
		return false, fmt.Errorf("list opens: %w", err)
	}

	now := s.now()
	for _, ev := range events {
		if proxy.IsRealOpen(ev.IPAddress, ev.UserAgent) {
			// Opened; latch it so it is never rechecked. Nothing is sent.
			if _, err := s.repo.SetLatch(ctx, msg.ID, domain.LatchFollowup, now); err != nil {
				return false, fmt.Errorf("set followup latch: %w", err)
			}
			return false, nil
		}
	}

	n := domain.FollowupNotice{
		TrackingID: msg.ID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		SentAt:     msg.CreatedAt,
		DaysAgo:    int(now.Sub(msg.CreatedAt) / day),
	}
	err = s.notifier.NotifyFollowup(ctx, n)
	metrics.Notification(domain.LatchFollowup, err)
	if err != nil {
		return false, fmt.Errorf("send follow-up reminder: %w", err)
	}

	if _, err := s.repo.SetLatch(ctx, msg.ID, domain.LatchFollowup, now); err != nil {
		return true, fmt.Errorf("set followup latch after delivery: %w", err)
	}
	logger.Info("follow-up reminder sent", "tracking_id", msg.ID, "days_ago", n.DaysAgo)
	return true, nil
}
