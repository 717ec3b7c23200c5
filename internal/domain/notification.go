package domain

import "time"

// FirstOpenNotice is sent once, on the first real open of a message.
type FirstOpenNotice struct {
	TrackingID string    `json:"tracking_id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
	OpenedAt   time.Time `json:"opened_at"`
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
	Elapsed    string    `json:"elapsed"`
}

// HotNotice is sent once when a message is opened repeatedly within a day.
type HotNotice struct {
	TrackingID string `json:"tracking_id"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	OpenCount  int    `json:"open_count"`
}

// RevivedNotice is sent once when a message is re-opened long after its first open.
type RevivedNotice struct {
	TrackingID         string `json:"tracking_id"`
	Recipient          string `json:"recipient"`
	Subject            string `json:"subject"`
	DaysSinceFirstOpen int    `json:"days_since_first_open"`
}

// FollowupNotice reminds the sender that a message has gone unopened.
type FollowupNotice struct {
	TrackingID string    `json:"tracking_id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
	DaysAgo    int       `json:"days_ago"`
}
