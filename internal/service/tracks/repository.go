package tracks

import (
	"context"

	"github.com/ignite/mailtrack/internal/domain"
)

// Repository defines the data access contract for tracked messages.
type Repository interface {
	// Create inserts a new tracked message. ID and CreatedAt must be set.
	Create(ctx context.Context, m *domain.TrackedMessage) error

	// Get returns one tracked message, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.TrackedMessage, error)

	// List returns tracked messages matching the filter, pinned first and
	// then newest first, along with the total count before pagination.
	List(ctx context.Context, filter ListFilter) ([]domain.TrackedMessage, int, error)

	// Update applies the non-nil fields of u. Returns ErrNotFound if the
	// message doesn't exist.
	Update(ctx context.Context, id string, u Update) error

	// Delete removes a message and, by cascade, its events. Returns
	// ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// ListEvents returns all events of the message, oldest first.
	ListEvents(ctx context.Context, messageID string) ([]domain.OpenEvent, error)

	// EventsForMessages returns the events of every listed message.
	EventsForMessages(ctx context.Context, messageIDs []string) ([]domain.OpenEvent, error)

	// CountTotals returns the message and event totals behind Stats.
	CountTotals(ctx context.Context) (Totals, error)

	// EventSources returns each distinct (IP, user agent) pair among stored
	// events with the number of events carrying it.
	EventSources(ctx context.Context) ([]EventSource, error)
}

// ListFilter controls pagination and filtering for track lists.
type ListFilter struct {
	GroupID string
	Search  string
	Limit   int
	Offset  int
}

// Update carries the user-editable fields of a tracked message.
type Update struct {
	Notes  *string `json:"notes,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

// Totals are the counts storage can aggregate without classifying events.
type Totals struct {
	Messages           int
	Events             int
	MessagesWithEvents int
}

// EventSource is a group of events sharing the inputs of proxy
// classification.
type EventSource struct {
	IPAddress string
	UserAgent string
	Count     int
}
