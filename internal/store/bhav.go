package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// BhavEvaluation is a persisted session Bhav score.
type BhavEvaluation struct {
	ID           int64            `json:"id"`
	SessionID    string           `json:"session_id"`
	MantraKey    string           `json:"mantra_key"`
	LineageID    string           `json:"lineage_id"`
	ProfileName  string           `json:"profile_name"`
	Discipline   float64          `json:"discipline"`
	Resonance    float64          `json:"resonance"`
	Coherence    float64          `json:"coherence"`
	Composite    float64          `json:"composite"`
	PassesGolden bool             `json:"passes_golden"`
	Detail       payload.Document `json:"detail_json"`
	CreatedAt    time.Time        `json:"created_at"`
}

// InsertBhavEvaluation appends an evaluation and returns it with its id.
func (t *Tx) InsertBhavEvaluation(ctx context.Context, b BhavEvaluation) (BhavEvaluation, error) {
	detail, err := marshalDocument(b.Detail)
	if err != nil {
		return BhavEvaluation{}, fmt.Errorf("insert bhav evaluation: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO bhav_evaluations
		(session_id, mantra_key, lineage_id, profile_name, discipline, resonance, coherence,
		 composite, passes_golden, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.SessionID, b.MantraKey, b.LineageID, b.ProfileName,
		b.Discipline, b.Resonance, b.Coherence, b.Composite,
		boolInt(b.PassesGolden), detail, FormatTime(b.CreatedAt),
	)
	if err != nil {
		return BhavEvaluation{}, fmt.Errorf("insert bhav evaluation: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return BhavEvaluation{}, fmt.Errorf("insert bhav evaluation: last insert id: %w", err)
	}
	return b, nil
}

// ListBhavEvaluations returns a session's evaluations, oldest first.
func (t *Tx) ListBhavEvaluations(ctx context.Context, sessionID string) ([]BhavEvaluation, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, session_id, mantra_key, lineage_id, profile_name, discipline, resonance,
		       coherence, composite, passes_golden, detail_json, created_at
		FROM bhav_evaluations
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query bhav evaluations: %w", err)
	}
	return collect(rows, "bhav evaluation", func(r *sql.Rows) (BhavEvaluation, error) {
		var b BhavEvaluation
		var detail, created string
		if err := r.Scan(
			&b.ID, &b.SessionID, &b.MantraKey, &b.LineageID, &b.ProfileName,
			&b.Discipline, &b.Resonance, &b.Coherence, &b.Composite, &b.PassesGolden,
			&detail, &created,
		); err != nil {
			return BhavEvaluation{}, err
		}
		var err error
		if b.CreatedAt, err = ParseTime(created); err != nil {
			return BhavEvaluation{}, err
		}
		b.Detail, err = unmarshalDocument(detail)
		return b, err
	})
}

// BhavPassCounts returns how many evaluations were created on dateKey and
// how many of them passed.
func (t *Tx) BhavPassCounts(ctx context.Context, dateKey string) (total, passed int, err error) {
	err = t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(passes_golden), 0)
		FROM bhav_evaluations
		WHERE substr(created_at, 1, 10) = ?
	`, dateKey).Scan(&total, &passed)
	if err != nil {
		return 0, 0, fmt.Errorf("count bhav passes on %s: %w", dateKey, err)
	}
	return total, passed, nil
}

// BhavDates returns every distinct evaluation date.
func (t *Tx) BhavDates(ctx context.Context) ([]string, error) {
	return t.dateKeys(ctx, "bhav dates", `SELECT DISTINCT substr(created_at, 1, 10) FROM bhav_evaluations`)
}
