package domain

import "time"

// TrackedMessage is one outbound email whose tracking pixel we serve.
//
// The four *NotifiedAt fields are one-way latches: once set they are never
// cleared and never overwritten.
type TrackedMessage struct {
	ID                 string     `json:"id" db:"id"`
	Recipient          string     `json:"recipient,omitempty" db:"recipient"`
	Subject            string     `json:"subject,omitempty" db:"subject"`
	Notes              string     `json:"notes,omitempty" db:"notes"`
	GroupID            string     `json:"message_group_id,omitempty" db:"message_group_id"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	NotifiedAt         *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	FollowupNotifiedAt *time.Time `json:"followup_notified_at,omitempty" db:"followup_notified_at"`
	HotNotifiedAt      *time.Time `json:"hot_notified_at,omitempty" db:"hot_notified_at"`
	RevivedNotifiedAt  *time.Time `json:"revived_notified_at,omitempty" db:"revived_notified_at"`
	Pinned             bool       `json:"pinned" db:"pinned"`
}

// LatchSet reports whether the given latch has already fired.
func (m *TrackedMessage) LatchSet(l Latch) bool {
	switch l {
	case LatchFirstOpen:
		return m.NotifiedAt != nil
	case LatchFollowup:
		return m.FollowupNotifiedAt != nil
	case LatchHot:
		return m.HotNotifiedAt != nil
	case LatchRevived:
		return m.RevivedNotifiedAt != nil
	}
	return false
}

// SetLatch records the latch on the in-memory copy. It does not overwrite an
// already-set latch.
func (m *TrackedMessage) SetLatch(l Latch, at time.Time) {
	if m.LatchSet(l) {
		return
	}
	t := at
	switch l {
	case LatchFirstOpen:
		m.NotifiedAt = &t
	case LatchFollowup:
		m.FollowupNotifiedAt = &t
	case LatchHot:
		m.HotNotifiedAt = &t
	case LatchRevived:
		m.RevivedNotifiedAt = &t
	}
}

// OpenEvent is one recorded fetch of a message's tracking image. Empty string
// fields mean the value was absent.
type OpenEvent struct {
	ID        int64     `json:"id" db:"id"`
	MessageID string    `json:"tracked_email_id" db:"tracked_message_id"`
	OpenedAt  time.Time `json:"opened_at" db:"opened_at"`
	IPAddress string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty" db:"user_agent"`
	Referer   string    `json:"referer,omitempty" db:"referer"`
	Country   string    `json:"country,omitempty" db:"country"`
	City      string    `json:"city,omitempty" db:"city"`
}

// Location renders "City, Country", or "Unknown location" if both are absent.
func (e *OpenEvent) Location() string {
	switch {
	case e.City != "" && e.Country != "":
		return e.City + ", " + e.Country
	case e.City != "":
		return e.City
	case e.Country != "":
		return e.Country
	}
	return "Unknown location"
}

// ProxyKind classifies who fetched a pixel. ProxyNone is a genuine human open.
type ProxyKind string

const (
	ProxyNone   ProxyKind = ""
	ProxyApple  ProxyKind = "apple"
	ProxyGoogle ProxyKind = "google"
)

// IsReal reports whether the fetch counts as a human open.
func (k ProxyKind) IsReal() bool { return k == ProxyNone }

// Latch names one of the one-shot notification fields on TrackedMessage.
type Latch string

const (
	LatchFirstOpen Latch = "first_open"
	LatchHot       Latch = "hot"
	LatchRevived   Latch = "revived"
	LatchFollowup  Latch = "followup"
)

// Latches lists every latch in trigger evaluation order.
var Latches = []Latch{LatchFirstOpen, LatchHot, LatchRevived, LatchFollowup}
