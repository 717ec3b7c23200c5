package opens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/proxy"
)

// Fetch is one request for a tracking pixel, as seen at the HTTP edge.
type Fetch struct {
	TrackingID string    `json:"tracking_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Referer    string    `json:"referer"`
	At         time.Time `json:"at"`
}

// SuppressReason says why a fetch was not recorded.
type SuppressReason string

const (
	SuppressedUnknownID SuppressReason = "unknown_id"
	SuppressedTooSoon   SuppressReason = "too_soon"
)

// RecordOutcome is either suppressed (Event nil) or recorded.
type RecordOutcome struct {
	Reason SuppressReason
	Event  *domain.OpenEvent
}

// Recorded reports whether an OpenEvent was persisted.
func (o RecordOutcome) Recorded() bool { return o.Event != nil }

// Record persists one OpenEvent for the fetch unless the tracking ID is
// unknown or the fetch falls inside the self-load window. Unknown IDs are not
// an error so the pixel response cannot be used to probe for valid IDs.
func (s *Service) Record(ctx context.Context, f Fetch) (RecordOutcome, error) {
	msg, err := s.repo.GetMessage(ctx, f.TrackingID)
	if errors.Is(err, ErrNotFound) {
		metrics.Fetch(metrics.FetchUnknown)
		return RecordOutcome{Reason: SuppressedUnknownID}, nil
	}
	if err != nil {
		metrics.Fetch(metrics.FetchError)
		return RecordOutcome{}, fmt.Errorf("load tracked message: %w", err)
	}

	at := f.At
	if at.IsZero() {
		at = s.now()
	}
	if at.Sub(msg.CreatedAt) < s.cfg.MinOpenDelay {
		metrics.Fetch(metrics.FetchTooSoon)
		return RecordOutcome{Reason: SuppressedTooSoon}, nil
	}

	ev := &domain.OpenEvent{
		MessageID: msg.ID,
		OpenedAt:  at.UTC(),
		IPAddress: f.IPAddress,
		UserAgent: f.UserAgent,
		Referer:   f.Referer,
	}
	if s.geo != nil && f.IPAddress != "" {
		ev.Country, ev.City = s.geo.Lookup(f.IPAddress)
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		metrics.Fetch(metrics.FetchError)
		return RecordOutcome{}, fmt.Errorf("insert open event: %w", err)
	}

	metrics.Fetch(metrics.FetchRecorded)
	metrics.Open(proxy.Classify(ev.IPAddress, ev.UserAgent))
	return RecordOutcome{Event: ev}, nil
}
