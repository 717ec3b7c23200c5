package tracks

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/proxy"
)

// MaxGroupIDLen is the longest message_group_id storage accepts.
const MaxGroupIDLen = 36

// Service implements tracked-message management. It is safe for concurrent use.
type Service struct {
	repo    Repository
	baseURL string
	now     func() time.Time
}

// NewService creates a tracks service. baseURL is the public origin pixel
// URLs are built on, e.g. "https://t.example.com".
func NewService(repo Repository, baseURL string) *Service {
	return &Service{
		repo:    repo,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is the user-supplied part of a new tracked message.
type CreateInput struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Notes     string `json:"notes"`
	GroupID   string `json:"message_group_id"`
}

// Track is a tracked message with its pixel URL and open counts.
type Track struct {
	domain.TrackedMessage
	PixelURL      string     `json:"pixel_url"`
	OpenCount     int        `json:"open_count"`
	RealOpenCount int        `json:"real_open_count"`
	LastOpenedAt  *time.Time `json:"last_opened_at,omitempty"`
}

// Open is a stored event annotated with its proxy classification.
type Open struct {
	domain.OpenEvent
	Proxy    domain.ProxyKind `json:"proxy,omitempty"`
	Real     bool             `json:"real"`
	Location string           `json:"location"`
}

// Detail is a track with all of its opens, newest first.
type Detail struct {
	Track
	Opens []Open `json:"opens"`
}

// Stats is the aggregate view over every tracked message.
type Stats struct {
	TotalTracks     int `json:"total_tracks"`
	TotalOpens      int `json:"total_opens"`
	RealOpens       int `json:"real_opens"`
	TracksWithOpens int `json:"tracks_with_opens"`
}

// PixelURL returns the absolute URL of a message's tracking image.
func (s *Service) PixelURL(id string) string {
	return fmt.Sprintf("%s/p/%s.gif", s.baseURL, id)
}

// Create registers a new tracked message and returns it with its pixel URL.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Track, error) {
	in.Recipient = strings.TrimSpace(in.Recipient)
	if in.Recipient != "" {
		addr, err := mail.ParseAddress(in.Recipient)
		if err != nil {
			return nil, fmt.Errorf("%w: recipient %q is not an email address", ErrInvalidInput, in.Recipient)
		}
		in.Recipient = addr.Address
	}
	in.GroupID = strings.TrimSpace(in.GroupID)
	if len(in.GroupID) > MaxGroupIDLen {
		return nil, fmt.Errorf("%w: message_group_id is longer than %d characters", ErrInvalidInput, MaxGroupIDLen)
	}

	m := &domain.TrackedMessage{
		ID:        uuid.New().String(),
		Recipient: in.Recipient,
		Subject:   strings.TrimSpace(in.Subject),
		Notes:     in.Notes,
		GroupID:   in.GroupID,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	return &Track{TrackedMessage: *m, PixelURL: s.PixelURL(m.ID)}, nil
}

// CreateGroup creates one track per recipient of a multi-recipient send, all
// sharing a freshly generated group ID.
func (s *Service) CreateGroup(ctx context.Context, recipients []string, subject, notes string) ([]Track, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidInput)
	}
	group := uuid.New().String()
	out := make([]Track, 0, len(recipients))
	for _, r := range recipients {
		t, err := s.Create(ctx, CreateInput{Recipient: r, Subject: subject, Notes: notes, GroupID: group})
		if err != nil {
			return out, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// Get returns one track with its opens, newest first.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list opens: %w", err)
	}

	d := &Detail{Track: s.summarize(*m, events), Opens: annotate(events)}
	return d, nil
}

// Opens returns the opens of one track, newest first.
func (s *Service) Opens(ctx context.Context, id string) ([]Open, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list opens: %w", err)
	}
	return annotate(events), nil
}

// List returns tracks matching the filter with their open counts.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Track, int, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	msgs, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list tracks: %w", err)
	}
	if len(msgs) == 0 {
		return []Track{}, total, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	events, err := s.repo.EventsForMessages(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("load opens: %w", err)
	}
	byMessage := make(map[string][]domain.OpenEvent, len(msgs))
	for _, ev := range events {
		byMessage[ev.MessageID] = append(byMessage[ev.MessageID], ev)
	}

	out := make([]Track, len(msgs))
	for i, m := range msgs {
		out[i] = s.summarize(m, byMessage[m.ID])
	}
	return out, total, nil
}

// Update changes notes and/or the pinned flag and returns the updated track.
func (s *Service) Update(ctx context.Context, id string, u Update) (*Track, error) {
	if u.Notes == nil && u.Pinned == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list opens: %w", err)
	}
	t := s.summarize(*m, events)
	return &t, nil
}

// Delete removes a track and all of its opens.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// GetStats computes the aggregate counts for the dashboard.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	totals, err := s.repo.CountTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tracks: %w", err)
	}
	sources, err := s.repo.EventSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open sources: %w", err)
	}

	st := &Stats{
		TotalTracks:     totals.Messages,
		TotalOpens:      totals.Events,
		TracksWithOpens: totals.MessagesWithEvents,
	}
	for _, src := range sources {
		if proxy.IsRealOpen(src.IPAddress, src.UserAgent) {
			st.RealOpens += src.Count
		}
	}
	return st, nil
}

func (s *Service) summarize(m domain.TrackedMessage, events []domain.OpenEvent) Track {
	t := Track{TrackedMessage: m, PixelURL: s.PixelURL(m.ID), OpenCount: len(events)}
	for i := range events {
		ev := &events[i]
		if proxy.IsRealOpen(ev.IPAddress, ev.UserAgent) {
			t.RealOpenCount++
		}
		if t.LastOpenedAt == nil || ev.OpenedAt.After(*t.LastOpenedAt) {
			at := ev.OpenedAt
			t.LastOpenedAt = &at
		}
	}
	return t
}

func annotate(events []domain.OpenEvent) []Open {
	out := make([]Open, len(events))
	for i, ev := range events {
		kind := proxy.Classify(ev.IPAddress, ev.UserAgent)
		out[i] = Open{OpenEvent: ev, Proxy: kind, Real: kind.IsReal(), Location: ev.Location()}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}
