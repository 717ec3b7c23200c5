package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/opens"
	"github.com/ignite/mailtrack/internal/service/tracks"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

var (
	msgCols = []string{"id", "recipient", "subject", "notes", "message_group_id", "created_at",
		"notified_at", "followup_notified_at", "hot_notified_at", "revived_notified_at", "pinned"}
	evCols = []string{"id", "tracked_message_id", "opened_at", "ip_address", "user_agent", "referer", "country", "city"}
	t0     = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
)

func TestGetMessage(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	notified := t0.Add(time.Hour)
	mock.ExpectQuery("SELECT .+ FROM tracked_messages WHERE id = \\$1").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow("m1", "jane@example.com", "Hi", "", "", t0, notified, nil, nil, nil, true))

	m, err := repo.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", m.Recipient)
	require.NotNil(t, m.NotifiedAt)
	assert.Equal(t, notified, *m.NotifiedAt)
	assert.Nil(t, m.HotNotifiedAt)
	assert.True(t, m.Pinned)
}

func TestGet_NotFoundMapsToEachServiceSentinel(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	mock.ExpectQuery("SELECT .+ FROM tracked_messages").WillReturnError(sql.ErrNoRows)
	_, err := repo.GetMessage(context.Background(), "x")
	assert.ErrorIs(t, err, opens.ErrNotFound)

	mock.ExpectQuery("SELECT .+ FROM tracked_messages").WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "x")
	assert.ErrorIs(t, err, tracks.ErrNotFound)

	mock.ExpectQuery("SELECT .+ FROM tracked_messages").WillReturnError(errors.New("conn refused"))
	_, err = repo.Get(context.Background(), "x")
	assert.ErrorContains(t, err, "conn refused")
	assert.False(t, errors.Is(err, tracks.ErrNotFound))
}

func TestSetLatch(t *testing.T) {
	tests := []struct {
		latch domain.Latch
		col   string
	}{
		{domain.LatchFirstOpen, "notified_at"},
		{domain.LatchHot, "hot_notified_at"},
		{domain.LatchRevived, "revived_notified_at"},
		{domain.LatchFollowup, "followup_notified_at"},
	}

	for _, tt := range tests {
		t.Run(string(tt.latch), func(t *testing.T) {
			db, mock, cleanup := setupTestDB(t)
			defer cleanup()
			repo := NewTrackRepo(db)

			q := regexp.QuoteMeta("UPDATE tracked_messages SET " + tt.col + " = $2 WHERE id = $1 AND " + tt.col + " IS NULL")
			mock.ExpectExec(q).WithArgs("m1", t0).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(q).WithArgs("m1", t0).WillReturnResult(sqlmock.NewResult(0, 0))

			won, err := repo.SetLatch(context.Background(), "m1", tt.latch, t0)
			require.NoError(t, err)
			assert.True(t, won)

			won, err = repo.SetLatch(context.Background(), "m1", tt.latch, t0)
			require.NoError(t, err)
			assert.False(t, won)
		})
	}
}

func TestSetLatch_UnknownLatch(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewTrackRepo(db).SetLatch(context.Background(), "m1", domain.Latch("bogus"), t0)
	assert.Error(t, err)
}

func TestInsertEvent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	mock.ExpectQuery("INSERT INTO open_events").
		WithArgs("m1", t0, "81.2.69.142", "Mozilla/5.0", nil, "United Kingdom", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	ev := &domain.OpenEvent{MessageID: "m1", OpenedAt: t0, IPAddress: "81.2.69.142", UserAgent: "Mozilla/5.0", Country: "United Kingdom"}
	require.NoError(t, repo.InsertEvent(context.Background(), ev))
	assert.Equal(t, int64(42), ev.ID)
}

func TestInsertEvent_DataErrorsAreRejected(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"string too long", &pq.Error{Code: "22001"}, true},
		{"foreign key violation", &pq.Error{Code: "23503"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, false},
		{"connection reset", errors.New("connection reset by peer"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, cleanup := setupTestDB(t)
			defer cleanup()

			mock.ExpectQuery("INSERT INTO open_events").WillReturnError(tt.err)
			err := NewTrackRepo(db).InsertEvent(context.Background(), &domain.OpenEvent{MessageID: "m1", OpenedAt: t0})
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, opens.ErrRejected))
		})
	}
}

func TestCountEventsSince(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	since := t0.Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM open_events WHERE tracked_message_id = \\$1 AND opened_at >= \\$2").
		WithArgs("m1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewTrackRepo(db).CountEventsSince(context.Background(), "m1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEarliestEventAt(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	mock.ExpectQuery("SELECT MIN\\(opened_at\\)").WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(t0))
	at, ok, err := repo.EarliestEventAt(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, t0, at)

	mock.ExpectQuery("SELECT MIN\\(opened_at\\)").WithArgs("m2").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	_, ok, err = repo.EarliestEventAt(context.Background(), "m2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListEvents(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .+ FROM open_events WHERE tracked_message_id = \\$1 ORDER BY opened_at").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(evCols).
			AddRow(int64(1), "m1", t0, "17.0.0.1", "", "", "", "").
			AddRow(int64(2), "m1", t0.Add(time.Hour), "81.2.69.142", "Mozilla/5.0", "", "United Kingdom", "London"))

	evs, err := NewTrackRepo(db).ListEvents(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "London, United Kingdom", evs[1].Location())
}

func TestEventsForMessages(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	evs, err := repo.EventsForMessages(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, evs)

	mock.ExpectQuery("WHERE tracked_message_id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(evCols).AddRow(int64(7), "b", t0, "", "", "", "", ""))
	evs, err = repo.EventsForMessages(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "b", evs[0].MessageID)
}

func TestListFollowupCandidates(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	cutoff := t0.Add(-72 * time.Hour)
	mock.ExpectQuery("WHERE created_at <= \\$1 AND followup_notified_at IS NULL").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow("old", "a@example.com", "", "", "", cutoff.Add(-time.Hour), nil, nil, nil, nil, false))

	got, err := NewTrackRepo(db).ListFollowupCandidates(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}

func TestCreate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO tracked_messages").
		WithArgs("m1", "jane@example.com", "Hello", nil, "g1", t0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewTrackRepo(db).Create(context.Background(), &domain.TrackedMessage{
		ID: "m1", Recipient: "jane@example.com", Subject: "Hello", GroupID: "g1", CreatedAt: t0,
	})
	assert.NoError(t, err)
}

func TestList_GroupFilterAndPagination(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tracked_messages WHERE 1=1 AND message_group_id = \\$1").
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("ORDER BY pinned DESC, created_at DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("g1", 10, 0).
		WillReturnRows(sqlmock.NewRows(msgCols).
			AddRow("a", "", "", "", "g1", t0, nil, nil, nil, nil, false).
			AddRow("b", "", "", "", "g1", t0, nil, nil, nil, nil, false))

	got, total, err := NewTrackRepo(db).List(context.Background(), tracks.ListFilter{GroupID: "g1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, got, 2)
}

func TestUpdate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	pinned := true
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tracked_messages SET pinned = $2 WHERE id = $1")).
		WithArgs("m1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), "m1", tracks.Update{Pinned: &pinned}))

	notes := "n"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tracked_messages SET notes = $2, pinned = $3 WHERE id = $1")).
		WithArgs("gone", "n", true).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), "gone", tracks.Update{Notes: &notes, Pinned: &pinned})
	assert.ErrorIs(t, err, tracks.ErrNotFound)
}

func TestDelete(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	mock.ExpectExec("DELETE FROM tracked_messages WHERE id = \\$1").WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.Delete(context.Background(), "m1"))

	mock.ExpectExec("DELETE FROM tracked_messages").WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "m1"), tracks.ErrNotFound)
}

func TestCountTotalsAndEventSources(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTrackRepo(db)

	mock.ExpectQuery("SELECT \\(SELECT COUNT\\(\\*\\) FROM tracked_messages\\).+COUNT\\(DISTINCT tracked_message_id\\)").
		WillReturnRows(sqlmock.NewRows([]string{"messages", "events", "opened"}).AddRow(5, 40, 3))
	totals, err := repo.CountTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tracks.Totals{Messages: 5, Events: 40, MessagesWithEvents: 3}, totals)

	mock.ExpectQuery("SELECT .+ COUNT\\(\\*\\)\\s+FROM open_events\\s+GROUP BY 1, 2").
		WillReturnRows(sqlmock.NewRows([]string{"ip", "ua", "count"}).
			AddRow("17.0.0.1", "", 30).
			AddRow("81.2.69.142", "Mozilla/5.0", 10))
	srcs, err := repo.EventSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tracks.EventSource{
		{IPAddress: "17.0.0.1", Count: 30},
		{IPAddress: "81.2.69.142", UserAgent: "Mozilla/5.0", Count: 10},
	}, srcs)
}
