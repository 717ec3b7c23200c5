package opens

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
)

// mockRepo is an in-memory repository for testing. SetLatch is atomic under
// the mutex, mirroring the conditional UPDATE of the Postgres repo.
type mockRepo struct {
	mu       sync.Mutex
	messages map[string]*domain.TrackedMessage
	events   map[string][]domain.OpenEvent
	nextID   int64

	getErr    error
	insertErr error
	latchErr  error
	// latchCalls counts SetLatch calls per latch, won or lost.
	latchCalls map[domain.Latch]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		messages:   make(map[string]*domain.TrackedMessage),
		events:     make(map[string][]domain.OpenEvent),
		latchCalls: make(map[domain.Latch]int),
	}
}

func (m *mockRepo) addMessage(msg domain.TrackedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := msg
	m.messages[msg.ID] = &cp
}

func (m *mockRepo) addEvent(ev domain.OpenEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	m.events[ev.MessageID] = append(m.events[ev.MessageID], ev)
}

func (m *mockRepo) message(id string) domain.TrackedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.messages[id]
}

func (m *mockRepo) eventCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[id])
}

func (m *mockRepo) GetMessage(_ context.Context, id string) (*domain.TrackedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *mockRepo) InsertEvent(_ context.Context, ev *domain.OpenEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	ev.ID = m.nextID
	m.events[ev.MessageID] = append(m.events[ev.MessageID], *ev)
	return nil
}

func (m *mockRepo) CountEventsSince(_ context.Context, id string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events[id] {
		if !ev.OpenedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) EarliestEventAt(_ context.Context, id string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[id]
	if len(evs) == 0 {
		return time.Time{}, false, nil
	}
	earliest := evs[0].OpenedAt
	for _, ev := range evs[1:] {
		if ev.OpenedAt.Before(earliest) {
			earliest = ev.OpenedAt
		}
	}
	return earliest, true, nil
}

func (m *mockRepo) ListEvents(_ context.Context, id string) ([]domain.OpenEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.OpenEvent(nil), m.events[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *mockRepo) SetLatch(_ context.Context, id string, latch domain.Latch, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latchCalls[latch]++
	if m.latchErr != nil {
		return false, m.latchErr
	}
	msg, ok := m.messages[id]
	if !ok || msg.LatchSet(latch) {
		return false, nil
	}
	msg.SetLatch(latch, at)
	return true, nil
}

func (m *mockRepo) ListFollowupCandidates(_ context.Context, cutoff time.Time) ([]domain.TrackedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrackedMessage
	for _, msg := range m.messages {
		if !msg.CreatedAt.After(cutoff) && msg.FollowupNotifiedAt == nil {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// mockNotifier records every notice it is handed.
type mockNotifier struct {
	mu        sync.Mutex
	firstOpen []domain.FirstOpenNotice
	hot       []domain.HotNotice
	revived   []domain.RevivedNotice
	followup  []domain.FollowupNotice

	err error
	// failFor makes NotifyFollowup fail for these tracking IDs only.
	failFor map[string]bool
	// panicFor makes NotifyFollowup panic for these tracking IDs.
	panicFor map[string]bool
	// delay simulates a slow relay.
	delay time.Duration
}

func (n *mockNotifier) wait() {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
}

func (n *mockNotifier) NotifyFirstOpen(_ context.Context, fo domain.FirstOpenNotice) error {
	n.wait()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.firstOpen = append(n.firstOpen, fo)
	return n.err
}

func (n *mockNotifier) NotifyHot(_ context.Context, h domain.HotNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hot = append(n.hot, h)
	return n.err
}

func (n *mockNotifier) NotifyRevived(_ context.Context, r domain.RevivedNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revived = append(n.revived, r)
	return n.err
}

func (n *mockNotifier) NotifyFollowup(_ context.Context, f domain.FollowupNotice) error {
	if n.panicFor[f.TrackingID] {
		panic("relay exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[f.TrackingID] {
		return errors.New("relay refused")
	}
	if n.err != nil {
		return n.err
	}
	n.followup = append(n.followup, f)
	return nil
}

func (n *mockNotifier) counts() (first, hot, revived, followup int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.firstOpen), len(n.hot), len(n.revived), len(n.followup)
}

type staticGeo struct{ country, city string }

func (g staticGeo) Lookup(string) (string, string) { return g.country, g.city }
