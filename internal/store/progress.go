package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Progress is a user's accumulated practice.
type Progress struct {
	UserID                string    `json:"user_id"`
	TotalSessions         int       `json:"total_sessions"`
	CompletedSessions     int       `json:"completed_sessions"`
	TotalPracticeMinutes  float64   `json:"total_practice_minutes"`
	AvgFlowScore          float64   `json:"avg_flow_score"`
	AvgPronunciationScore float64   `json:"avg_pronunciation_score"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// AccumulateProgress folds one ended session into the user's progress.
// The read and the upsert share the caller's transaction, which holds the
// write lock from BEGIN IMMEDIATE, so concurrent session ends for one user
// never lose an update. Running means round half to even.
func (t *Tx) AccumulateProgress(ctx context.Context, userID string, s Summary, now time.Time) (Progress, error) {
	prev, err := t.GetProgress(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Progress{}, fmt.Errorf("accumulate progress: %w", err)
	}

	n := float64(prev.TotalSessions)
	next := Progress{
		UserID:                userID,
		TotalSessions:         prev.TotalSessions + 1,
		CompletedSessions:     prev.CompletedSessions + boolInt(s.CompletedGoal),
		TotalPracticeMinutes:  roundHalfEven(prev.TotalPracticeMinutes+s.PracticeMinutes, 2),
		AvgFlowScore:          roundHalfEven((prev.AvgFlowScore*n+s.AvgFlowScore)/(n+1), 3),
		AvgPronunciationScore: roundHalfEven((prev.AvgPronunciationScore*n+s.AvgPronunciationScore)/(n+1), 3),
		UpdatedAt:             now,
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO practice_progress
		(user_id, total_sessions, completed_sessions, total_practice_minutes,
		 avg_flow_score, avg_pronunciation_score, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)
		ON CONFLICT(user_id) DO UPDATE SET
			total_sessions = excluded.total_sessions,
			completed_sessions = excluded.completed_sessions,
			total_practice_minutes = excluded.total_practice_minutes,
			avg_flow_score = excluded.avg_flow_score,
			avg_pronunciation_score = excluded.avg_pronunciation_score,
			updated_at = excluded.updated_at
	`,
		next.UserID,
		next.TotalSessions,
		next.CompletedSessions,
		next.TotalPracticeMinutes,
		next.AvgFlowScore,
		next.AvgPronunciationScore,
		FormatTime(now),
	)
	if err != nil {
		return Progress{}, fmt.Errorf("accumulate progress: %w", err)
	}
	return t.GetProgress(ctx, userID)
}

func roundHalfEven(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}

// GetProgress returns ErrNotFound for users with no ended sessions.
func (t *Tx) GetProgress(ctx context.Context, userID string) (Progress, error) {
	var p Progress
	var updated string
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, total_sessions, completed_sessions, total_practice_minutes,
		       avg_flow_score, avg_pronunciation_score, updated_at
		FROM practice_progress WHERE user_id = ?
	`, userID).Scan(
		&p.UserID, &p.TotalSessions, &p.CompletedSessions, &p.TotalPracticeMinutes,
		&p.AvgFlowScore, &p.AvgPronunciationScore, &updated,
	)
	if err != nil {
		err = notFound(err)
		if errors.Is(err, ErrNotFound) {
			return Progress{}, err
		}
		return Progress{}, fmt.Errorf("get progress: %w", err)
	}
	if p.UpdatedAt, err = ParseTime(updated); err != nil {
		return Progress{}, err
	}
	return p, nil
}
