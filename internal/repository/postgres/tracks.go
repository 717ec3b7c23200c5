package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/opens"
	"github.com/ignite/mailtrack/internal/service/tracks"
	"github.com/lib/pq"
)

// TrackRepo implements opens.Repository and tracks.Repository against
// PostgreSQL.
type TrackRepo struct{ db *sql.DB }

// NewTrackRepo creates a Postgres-backed tracked-message repository.
func NewTrackRepo(db *sql.DB) *TrackRepo { return &TrackRepo{db: db} }

var (
	_ opens.Repository  = (*TrackRepo)(nil)
	_ tracks.Repository = (*TrackRepo)(nil)
)

const messageColumns = `id, COALESCE(recipient,''), COALESCE(subject,''), COALESCE(notes,''),
		       COALESCE(message_group_id,''), created_at,
		       notified_at, followup_notified_at, hot_notified_at, revived_notified_at, pinned`

const eventColumns = `id, tracked_message_id, opened_at, COALESCE(ip_address,''), COALESCE(user_agent,''),
		       COALESCE(referer,''), COALESCE(country,''), COALESCE(city,'')`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (domain.TrackedMessage, error) {
	var m domain.TrackedMessage
	err := s.Scan(
		&m.ID, &m.Recipient, &m.Subject, &m.Notes,
		&m.GroupID, &m.CreatedAt,
		&m.NotifiedAt, &m.FollowupNotifiedAt, &m.HotNotifiedAt, &m.RevivedNotifiedAt, &m.Pinned,
	)
	return m, err
}

func scanEvent(s scanner) (domain.OpenEvent, error) {
	var ev domain.OpenEvent
	err := s.Scan(&ev.ID, &ev.MessageID, &ev.OpenedAt, &ev.IPAddress, &ev.UserAgent,
		&ev.Referer, &ev.Country, &ev.City)
	return ev, err
}

// latchColumn maps a latch to its column. The result is only ever one of the
// fixed names below, so it is safe to splice into SQL.
func latchColumn(l domain.Latch) (string, error) {
	switch l {
	case domain.LatchFirstOpen:
		return "notified_at", nil
	case domain.LatchFollowup:
		return "followup_notified_at", nil
	case domain.LatchHot:
		return "hot_notified_at", nil
	case domain.LatchRevived:
		return "revived_notified_at", nil
	}
	return "", fmt.Errorf("unknown latch %q", l)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *TrackRepo) get(ctx context.Context, id string) (*domain.TrackedMessage, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM tracked_messages WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage implements opens.Repository.
func (r *TrackRepo) GetMessage(ctx context.Context, id string) (*domain.TrackedMessage, error) {
	m, err := r.get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opens.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked message: %w", err)
	}
	return m, nil
}

// Get implements tracks.Repository.
func (r *TrackRepo) Get(ctx context.Context, id string) (*domain.TrackedMessage, error) {
	m, err := r.get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked message: %w", err)
	}
	return m, nil
}

func (r *TrackRepo) Create(ctx context.Context, m *domain.TrackedMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_messages (id, recipient, subject, notes, message_group_id, created_at, pinned)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, nullable(m.Recipient), nullable(m.Subject), nullable(m.Notes), nullable(m.GroupID), m.CreatedAt, m.Pinned)
	if err != nil {
		return fmt.Errorf("insert tracked message: %w", err)
	}
	return nil
}

func (r *TrackRepo) List(ctx context.Context, f tracks.ListFilter) ([]domain.TrackedMessage, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1
	if f.GroupID != "" {
		where += fmt.Sprintf(" AND message_group_id = $%d", idx)
		args = append(args, f.GroupID)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (recipient ILIKE $%d OR subject ILIKE $%d)", idx, idx)
		args = append(args, "%"+strings.TrimSpace(f.Search)+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tracked messages: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM tracked_messages` + where +
		fmt.Sprintf(" ORDER BY pinned DESC, created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tracked messages: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan tracked message: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *TrackRepo) Update(ctx context.Context, id string, u tracks.Update) error {
	var (
		sets []string
		args = []any{id}
	)
	if u.Notes != nil {
		args = append(args, nullable(*u.Notes))
		sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
	}
	if u.Pinned != nil {
		args = append(args, *u.Pinned)
		sets = append(sets, fmt.Sprintf("pinned = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE tracked_messages SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update tracked message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tracks.ErrNotFound
	}
	return nil
}

func (r *TrackRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tracked_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tracked message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tracks.ErrNotFound
	}
	return nil
}

func (r *TrackRepo) InsertEvent(ctx context.Context, ev *domain.OpenEvent) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO open_events (tracked_message_id, opened_at, ip_address, user_agent, referer, country, city)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, ev.MessageID, ev.OpenedAt, nullable(ev.IPAddress), nullable(ev.UserAgent), nullable(ev.Referer),
		nullable(ev.Country), nullable(ev.City)).Scan(&ev.ID)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("insert open event: %w: %v", opens.ErrRejected, err)
		}
		return fmt.Errorf("insert open event: %w", err)
	}
	return nil
}

// permanent reports data exceptions (class 22) and integrity violations
// (class 23), which fail the same way on every retry.
func permanent(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23":
		return true
	}
	return false
}

func (r *TrackRepo) CountEventsSince(ctx context.Context, messageID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM open_events WHERE tracked_message_id = $1 AND opened_at >= $2`,
		messageID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open events: %w", err)
	}
	return n, nil
}

func (r *TrackRepo) EarliestEventAt(ctx context.Context, messageID string) (time.Time, bool, error) {
	var at sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(opened_at) FROM open_events WHERE tracked_message_id = $1`, messageID,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("earliest open event: %w", err)
	}
	return at.Time, at.Valid, nil
}

func (r *TrackRepo) ListEvents(ctx context.Context, messageID string) ([]domain.OpenEvent, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM open_events WHERE tracked_message_id = $1 ORDER BY opened_at, id`,
		messageID)
}

func (r *TrackRepo) EventsForMessages(ctx context.Context, messageIDs []string) ([]domain.OpenEvent, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM open_events WHERE tracked_message_id = ANY($1) ORDER BY opened_at, id`,
		pq.Array(messageIDs))
}

func (r *TrackRepo) queryEvents(ctx context.Context, q string, args ...any) ([]domain.OpenEvent, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list open events: %w", err)
	}
	defer rows.Close()

	var out []domain.OpenEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *TrackRepo) CountTotals(ctx context.Context) (tracks.Totals, error) {
	var t tracks.Totals
	err := r.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM tracked_messages),
		       (SELECT COUNT(*) FROM open_events),
		       (SELECT COUNT(DISTINCT tracked_message_id) FROM open_events)
	`).Scan(&t.Messages, &t.Events, &t.MessagesWithEvents)
	if err != nil {
		return tracks.Totals{}, fmt.Errorf("count totals: %w", err)
	}
	return t, nil
}

func (r *TrackRepo) EventSources(ctx context.Context) ([]tracks.EventSource, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(ip_address, ''), COALESCE(user_agent, ''), COUNT(*)
		FROM open_events
		GROUP BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("list open sources: %w", err)
	}
	defer rows.Close()

	var out []tracks.EventSource
	for rows.Next() {
		var s tracks.EventSource
		if err := rows.Scan(&s.IPAddress, &s.UserAgent, &s.Count); err != nil {
			return nil, fmt.Errorf("scan open source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetLatch is the conditional one-shot write. Among concurrent callers for
// the same message and latch, exactly one sees a row affected.
func (r *TrackRepo) SetLatch(ctx context.Context, messageID string, latch domain.Latch, at time.Time) (bool, error) {
	col, err := latchColumn(latch)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE tracked_messages SET `+col+` = $2 WHERE id = $1 AND `+col+` IS NULL`,
		messageID, at,
	)
	if err != nil {
		return false, fmt.Errorf("set %s: %w", col, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", col, err)
	}
	return n == 1, nil
}

func (r *TrackRepo) ListFollowupCandidates(ctx context.Context, cutoff time.Time) ([]domain.TrackedMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM tracked_messages
		WHERE created_at <= $1 AND followup_notified_at IS NULL
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list follow-up candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PingContext checks the database connection for health reporting.
func (r *TrackRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
