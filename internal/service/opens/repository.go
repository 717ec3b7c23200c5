package opens

import (
	"context"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
)

// Repository is the storage contract the recorder, trigger engine and sweeper
// depend on.
type Repository interface {
	// GetMessage returns the current persisted state of a tracked message,
	// or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*domain.TrackedMessage, error)

	// InsertEvent persists an open event and assigns its ID.
	InsertEvent(ctx context.Context, ev *domain.OpenEvent) error

	// CountEventsSince counts every event of the message opened at or after since.
	CountEventsSince(ctx context.Context, messageID string, since time.Time) (int, error)

	// EarliestEventAt returns the opened_at of the message's oldest event.
	// ok is false when the message has no events.
	EarliestEventAt(ctx context.Context, messageID string) (at time.Time, ok bool, err error)

	// ListEvents returns all events of the message, oldest first.
	ListEvents(ctx context.Context, messageID string) ([]domain.OpenEvent, error)

	// SetLatch sets the latch to at only if it is currently unset. It reports
	// whether this call performed the transition; among concurrent callers
	// exactly one gets true.
	SetLatch(ctx context.Context, messageID string, latch domain.Latch, at time.Time) (bool, error)

	// ListFollowupCandidates returns messages created at or before cutoff whose
	// follow-up latch is unset.
	ListFollowupCandidates(ctx context.Context, cutoff time.Time) ([]domain.TrackedMessage, error)
}

// GeoResolver maps an IP to a location. Empty strings mean unknown; private
// ranges and lookup misses are unknown, never errors.
type GeoResolver interface {
	Lookup(ip string) (country, city string)
}

// Notifier delivers engagement notifications. A nil error means the
// notification was handed off successfully.
type Notifier interface {
	NotifyFirstOpen(ctx context.Context, n domain.FirstOpenNotice) error
	NotifyHot(ctx context.Context, n domain.HotNotice) error
	NotifyRevived(ctx context.Context, n domain.RevivedNotice) error
	NotifyFollowup(ctx context.Context, n domain.FollowupNotice) error
}
