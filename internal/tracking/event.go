package tracking

import (
	"context"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/opens"
)

type EventType string

const EventOpen EventType = "opened"

// TrackingEvent is a pixel fetch as it travels over the queue.
type TrackingEvent struct {
	EventType  EventType `json:"event_type"`
	TrackingID string    `json:"tracking_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Referer    string    `json:"referer,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e TrackingEvent) fetch() opens.Fetch {
	return opens.Fetch{
		TrackingID: e.TrackingID,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Referer:    e.Referer,
		At:         e.Timestamp,
	}
}

// Ingester accepts a pixel fetch without blocking the HTTP response.
type Ingester interface {
	Ingest(evt TrackingEvent)
}

// Processor records a fetch and evaluates its triggers. *opens.Service
// satisfies it.
type Processor interface {
	Record(ctx context.Context, f opens.Fetch) (opens.RecordOutcome, error)
	Evaluate(ctx context.Context, ev *domain.OpenEvent) ([]domain.Latch, error)
}
