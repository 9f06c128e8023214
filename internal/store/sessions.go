package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session statuses.
const (
	SessionActive = "ACTIVE"
	SessionEnded  = "ENDED"
)

// Summary is written once when a session ends.
type Summary struct {
	PracticeMinutes       float64  `json:"practice_minutes"`
	EventsCount           int      `json:"events_count"`
	AdaptationsCount      int      `json:"adaptations_count"`
	AvgFlowScore          float64  `json:"avg_flow_score"`
	AvgPronunciationScore float64  `json:"avg_pronunciation_score"`
	AdaptationHelpfulRate float64  `json:"adaptation_helpful_rate"`
	CompletedGoal         bool     `json:"completed_goal"`
	UserValueRating       *float64 `json:"user_value_rating"`
	MeaningfulSession     bool     `json:"meaningful_session"`
}

// Session is a single practice session.
type Session struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	MantraKey             string     `json:"mantra_key"`
	Intention             string     `json:"intention"`
	Mood                  string     `json:"mood"`
	TargetDurationMinutes int        `json:"target_duration_minutes"`
	Status                string     `json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	EndedAt               *time.Time `json:"ended_at"`
	Summary               *Summary   `json:"summary"`
}

const sessionColumns = `id, user_id, mantra_key, intention, mood, target_duration_minutes,
	status, started_at, ended_at, summary_json`

// InsertSession writes a new ACTIVE session.
func (t *Tx) InsertSession(ctx context.Context, s Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, mantra_key, intention, mood, target_duration_minutes, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.UserID, s.MantraKey, s.Intention, s.Mood, s.TargetDurationMinutes,
		SessionActive, FormatTime(s.StartedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert session %s: %w", s.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns ErrNotFound for unknown ids.
func (t *Tx) GetSession(ctx context.Context, id string) (Session, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, notFound(err))
	}
	return s, nil
}

// EndSession moves an ACTIVE session to ENDED and writes its summary.
// It returns false when the session was not ACTIVE; the summary of an
// ended session is never rewritten.
func (t *Tx) EndSession(ctx context.Context, id string, endedAt time.Time, summary Summary) (bool, error) {
	summaryJSON, err := marshalJSON(summary)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, ended_at = ?, summary_json = ?
		WHERE id = ? AND status = ? AND summary_json IS NULL
	`, SessionEnded, FormatTime(endedAt), summaryJSON, id, SessionActive)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end session: rows affected: %w", err)
	}
	return n == 1, nil
}

// SessionsStartedOn returns sessions whose start falls on dateKey,
// ordered by start time.
func (t *Tx) SessionsStartedOn(ctx context.Context, dateKey string) ([]Session, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE substr(started_at, 1, 10) = ?
		ORDER BY started_at ASC, id ASC
	`, dateKey)
	if err != nil {
		return nil, fmt.Errorf("query sessions started on %s: %w", dateKey, err)
	}
	return collect(rows, "session", scanSessionRows)
}

// SessionsEndedOn returns ended sessions whose end falls on dateKey.
func (t *Tx) SessionsEndedOn(ctx context.Context, dateKey string) ([]Session, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND substr(ended_at, 1, 10) = ?
		ORDER BY ended_at ASC, id ASC
	`, SessionEnded, dateKey)
	if err != nil {
		return nil, fmt.Errorf("query sessions ended on %s: %w", dateKey, err)
	}
	return collect(rows, "session", scanSessionRows)
}

// ReturningUsersOn counts users who started a session on dateKey and
// whose first ever session started at least seven days earlier.
// The scan grows with each user's session history.
func (t *Tx) ReturningUsersOn(ctx context.Context, dateKey string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT s.user_id
			FROM sessions s
			WHERE substr(s.started_at, 1, 10) = ?
			GROUP BY s.user_id
			HAVING (
				SELECT MIN(substr(f.started_at, 1, 10)) FROM sessions f WHERE f.user_id = s.user_id
			) <= date(?, '-7 days')
		)
	`, dateKey, dateKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count returning users on %s: %w", dateKey, err)
	}
	return n, nil
}

// SessionStartDates returns every distinct date with a session start or end.
func (t *Tx) SessionStartDates(ctx context.Context) ([]string, error) {
	return t.dateKeys(ctx, "session dates", `
		SELECT substr(started_at, 1, 10) FROM sessions
		UNION
		SELECT substr(ended_at, 1, 10) FROM sessions WHERE ended_at IS NOT NULL
	`)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var started string
	var ended, summary sql.NullString
	if err := row.Scan(
		&s.ID, &s.UserID, &s.MantraKey, &s.Intention, &s.Mood, &s.TargetDurationMinutes,
		&s.Status, &started, &ended, &summary,
	); err != nil {
		return Session{}, err
	}
	var err error
	if s.StartedAt, err = ParseTime(started); err != nil {
		return Session{}, err
	}
	if s.EndedAt, err = parseNullTime(ended); err != nil {
		return Session{}, err
	}
	var sum Summary
	ok, err := unmarshalNullJSON(summary, &sum)
	if err != nil {
		return Session{}, fmt.Errorf("session %s summary: %w", s.ID, err)
	}
	if ok {
		s.Summary = &sum
	}
	return s, nil
}

func scanSessionRows(rows *sql.Rows) (Session, error) { return scanSession(rows) }

func (t *Tx) dateKeys(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	return collect(rows, what, func(r *sql.Rows) (string, error) {
		var k string
		err := r.Scan(&k)
		return k, err
	})
}
