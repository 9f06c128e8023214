package projection

import (
	"context"

	"github.com/roach88/sadhana/internal/store"
)

// CohortRow summarises the sessions started on one date.
type CohortRow struct {
	DateKey        string  `json:"date_key"`
	ActiveUsers    int     `json:"active_users"`
	Sessions       int     `json:"sessions"`
	CompletionRate float64 `json:"completion_rate"`
	MeaningfulRate float64 `json:"meaningful_rate"`
}

// CohortReport is the full cohort table, oldest date first.
type CohortReport struct {
	Rows []CohortRow `json:"rows"`
	Days int         `json:"days"`
}

// Cohorts groups every session by start date. Sessions still active count
// toward the cohort size but never toward completion.
func Cohorts(ctx context.Context, tx *store.Tx) (CohortReport, error) {
	sessions, err := tx.ListSessions(ctx)
	if err != nil {
		return CohortReport{}, err
	}

	type bucket struct {
		users      map[string]struct{}
		sessions   int
		completed  int
		meaningful int
	}
	var order []string
	buckets := make(map[string]*bucket)
	for _, s := range sessions {
		key := store.DateKey(s.StartedAt)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{users: make(map[string]struct{})}
			buckets[key] = b
			order = append(order, key)
		}
		b.users[s.UserID] = struct{}{}
		b.sessions++
		if s.Summary != nil && s.Summary.CompletedGoal {
			b.completed++
		}
		if s.Summary != nil && s.Summary.MeaningfulSession {
			b.meaningful++
		}
	}

	// sessions arrive ordered by start, so order is already ascending.
	report := CohortReport{Rows: make([]CohortRow, 0, len(order)), Days: len(order)}
	for _, key := range order {
		b := buckets[key]
		report.Rows = append(report.Rows, CohortRow{
			DateKey:        key,
			ActiveUsers:    len(b.users),
			Sessions:       b.sessions,
			CompletionRate: rate(b.completed, b.sessions),
			MeaningfulRate: rate(b.meaningful, b.sessions),
		})
	}
	return report, nil
}
