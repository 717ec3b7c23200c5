package tracks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu       sync.RWMutex
	messages map[string]*domain.TrackedMessage
	events   []domain.OpenEvent
}

func newMockRepo() *mockRepo {
	return &mockRepo{messages: make(map[string]*domain.TrackedMessage)}
}

func (m *mockRepo) Create(_ context.Context, msg *domain.TrackedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*domain.TrackedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]domain.TrackedMessage, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TrackedMessage
	for _, msg := range m.messages {
		if f.GroupID != "" && msg.GroupID != f.GroupID {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (m *mockRepo) Update(_ context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	if u.Notes != nil {
		msg.Notes = *u.Notes
	}
	if u.Pinned != nil {
		msg.Pinned = *u.Pinned
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.MessageID != id {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	return nil
}

func (m *mockRepo) ListEvents(_ context.Context, id string) ([]domain.OpenEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.OpenEvent
	for _, ev := range m.events {
		if ev.MessageID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockRepo) EventsForMessages(_ context.Context, ids []string) ([]domain.OpenEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.OpenEvent
	for _, ev := range m.events {
		if want[ev.MessageID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockRepo) CountTotals(context.Context) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opened := make(map[string]struct{})
	for _, ev := range m.events {
		opened[ev.MessageID] = struct{}{}
	}
	return Totals{Messages: len(m.messages), Events: len(m.events), MessagesWithEvents: len(opened)}, nil
}

func (m *mockRepo) EventSources(context.Context) ([]EventSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type pair struct{ ip, ua string }
	counts := make(map[pair]int)
	for _, ev := range m.events {
		counts[pair{ev.IPAddress, ev.UserAgent}]++
	}
	out := make([]EventSource, 0, len(counts))
	for p, n := range counts {
		out = append(out, EventSource{IPAddress: p.ip, UserAgent: p.ua, Count: n})
	}
	return out, nil
}

func (m *mockRepo) addEvent(id string, at time.Time, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, domain.OpenEvent{ID: int64(len(m.events) + 1), MessageID: id, OpenedAt: at, IPAddress: ip})
}

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepo) *Service {
	svc := NewService(repo, "https://t.example.com/")
	svc.now = func() time.Time { return t0 }
	return svc
}

func TestCreate(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	tr, err := svc.Create(context.Background(), CreateInput{Recipient: " jane@example.com ", Subject: "Hello"})
	require.NoError(t, err)
	assert.Len(t, tr.ID, 36)
	assert.Equal(t, "jane@example.com", tr.Recipient)
	assert.Equal(t, t0, tr.CreatedAt)
	assert.Equal(t, "https://t.example.com/p/"+tr.ID+".gif", tr.PixelURL)

	stored, err := repo.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", stored.Subject)
}

func TestCreate_RecipientOptionalButValidated(t *testing.T) {
	svc := newTestService(newMockRepo())

	_, err := svc.Create(context.Background(), CreateInput{Subject: "no recipient"})
	assert.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{Recipient: "not an address"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_DisplayNameRecipientStoresBareAddress(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	tr, err := svc.Create(context.Background(), CreateInput{Recipient: "Alice Example <alice@example.com>"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", tr.Recipient)

	stored, err := repo.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.Recipient)
}

func TestCreate_GroupIDLength(t *testing.T) {
	svc := newTestService(newMockRepo())

	_, err := svc.Create(context.Background(), CreateInput{GroupID: strings.Repeat("g", MaxGroupIDLen)})
	assert.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{GroupID: strings.Repeat("g", MaxGroupIDLen+1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateGroup(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	got, err := svc.CreateGroup(context.Background(), []string{"a@example.com", "b@example.com"}, "Offer", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].GroupID)
	assert.Equal(t, got[0].GroupID, got[1].GroupID)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	list, total, err := svc.List(context.Background(), ListFilter{GroupID: got[0].GroupID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)

	_, err = svc.CreateGroup(context.Background(), nil, "x", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGet_AnnotatesOpensNewestFirst(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	tr, err := svc.Create(context.Background(), CreateInput{Recipient: "jane@example.com"})
	require.NoError(t, err)

	repo.addEvent(tr.ID, t0.Add(time.Minute), "17.1.2.3")
	repo.addEvent(tr.ID, t0.Add(time.Hour), "81.2.69.142")

	d, err := svc.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, d.OpenCount)
	assert.Equal(t, 1, d.RealOpenCount)
	require.NotNil(t, d.LastOpenedAt)
	assert.Equal(t, t0.Add(time.Hour), *d.LastOpenedAt)

	require.Len(t, d.Opens, 2)
	assert.True(t, d.Opens[0].Real)
	assert.Equal(t, domain.ProxyApple, d.Opens[1].Proxy)
	assert.False(t, d.Opens[1].Real)
	assert.Equal(t, "Unknown location", d.Opens[1].Location)
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(newMockRepo())
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.Opens(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	tr, err := svc.Create(context.Background(), CreateInput{Recipient: "jane@example.com"})
	require.NoError(t, err)

	notes, pinned := "called back", true
	got, err := svc.Update(context.Background(), tr.ID, Update{Notes: &notes, Pinned: &pinned})
	require.NoError(t, err)
	assert.Equal(t, "called back", got.Notes)
	assert.True(t, got.Pinned)

	_, err = svc.Update(context.Background(), tr.ID, Update{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(context.Background(), "missing", Update{Pinned: &pinned})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCascadesOpens(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	tr, err := svc.Create(context.Background(), CreateInput{})
	require.NoError(t, err)
	repo.addEvent(tr.ID, t0.Add(time.Hour), "81.2.69.142")

	require.NoError(t, svc.Delete(context.Background(), tr.ID))
	st, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *st)

	assert.ErrorIs(t, svc.Delete(context.Background(), tr.ID), ErrNotFound)
}

func TestGetStats(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateInput{})
	b, _ := svc.Create(ctx, CreateInput{})
	_, _ = svc.Create(ctx, CreateInput{})

	repo.addEvent(a.ID, t0.Add(time.Hour), "81.2.69.142")
	repo.addEvent(a.ID, t0.Add(2*time.Hour), "74.125.0.9")
	repo.addEvent(b.ID, t0.Add(time.Hour), "17.0.0.9")

	st, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalTracks: 3, TotalOpens: 3, RealOpens: 1, TracksWithOpens: 2}, *st)
}

func TestGetStats_RepeatedSourcesCountEveryOpen(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateInput{})
	for i := 0; i < 4; i++ {
		repo.addEvent(a.ID, t0.Add(time.Duration(i+1)*time.Hour), "81.2.69.142")
	}
	repo.addEvent(a.ID, t0.Add(6*time.Hour), "17.0.0.9")
	repo.addEvent(a.ID, t0.Add(7*time.Hour), "17.0.0.9")

	st, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalTracks: 1, TotalOpens: 6, RealOpens: 4, TracksWithOpens: 1}, *st)
}

func TestPixelURLTrimsTrailingSlash(t *testing.T) {
	svc := NewService(newMockRepo(), "http://localhost:8080///")
	assert.True(t, strings.HasPrefix(svc.PixelURL("x"), "http://localhost:8080/p/"))
	assert.Equal(t, "http://localhost:8080/p/x.gif", svc.PixelURL("x"))
}
