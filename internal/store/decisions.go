package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// Decision is a persisted adaptation decision. Decisions are immutable.
type Decision struct {
	ID                int64            `json:"id"`
	SessionID         string           `json:"session_id"`
	DecisionTime      time.Time        `json:"decision_time"`
	Reason            string           `json:"reason"`
	TempoBPM          int              `json:"tempo_bpm"`
	GuidanceIntensity string           `json:"guidance_intensity"`
	KeyCenter         string           `json:"key_center"`
	AdaptationJSON    payload.Document `json:"adaptation_json"`
	Source            string           `json:"source"`
	QualityScore      float64          `json:"quality_score"`
}

// InsertDecision appends a decision and returns it with its id.
func (t *Tx) InsertDecision(ctx context.Context, d Decision) (Decision, error) {
	adaptationJSON, err := marshalDocument(d.AdaptationJSON)
	if err != nil {
		return Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO adaptation_decisions
		(session_id, decision_time, reason, tempo_bpm, guidance_intensity, key_center,
		 adaptation_json, source, quality_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.SessionID,
		FormatTime(d.DecisionTime),
		d.Reason,
		d.TempoBPM,
		d.GuidanceIntensity,
		d.KeyCenter,
		adaptationJSON,
		d.Source,
		d.QualityScore,
	)
	if err != nil {
		return Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return Decision{}, fmt.Errorf("insert decision: last insert id: %w", err)
	}
	return d, nil
}

// ListDecisions returns a session's decisions in insertion order.
func (t *Tx) ListDecisions(ctx context.Context, sessionID string) ([]Decision, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, session_id, decision_time, reason, tempo_bpm, guidance_intensity, key_center,
		       adaptation_json, source, quality_score
		FROM adaptation_decisions
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return collect(rows, "decision", func(r *sql.Rows) (Decision, error) {
		var d Decision
		var when, adaptationJSON string
		if err := r.Scan(
			&d.ID, &d.SessionID, &when, &d.Reason, &d.TempoBPM, &d.GuidanceIntensity, &d.KeyCenter,
			&adaptationJSON, &d.Source, &d.QualityScore,
		); err != nil {
			return Decision{}, err
		}
		var err error
		if d.DecisionTime, err = ParseTime(when); err != nil {
			return Decision{}, err
		}
		d.AdaptationJSON, err = unmarshalDocument(adaptationJSON)
		return d, err
	})
}

// CountDecisions returns how many decisions a session has.
func (t *Tx) CountDecisions(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM adaptation_decisions WHERE session_id = ?
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return n, nil
}
