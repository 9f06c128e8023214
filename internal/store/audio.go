package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// AudioChunk is one ingested window of stage audio features.
type AudioChunk struct {
	ID            int64            `json:"id"`
	SessionID     string           `json:"session_id"`
	Stage         string           `json:"stage"`
	RoundIndex    *int             `json:"round_index"`
	ChunkID       string           `json:"chunk_id"`
	Seq           int              `json:"seq"`
	TStartMS      int64            `json:"t_start_ms"`
	TEndMS        int64            `json:"t_end_ms"`
	SampleRateHz  int              `json:"sample_rate_hz"`
	Encoding      string           `json:"encoding"`
	BlobURI       string           `json:"blob_uri,omitempty"`
	LineageID     string           `json:"lineage_id"`
	GoldenProfile string           `json:"golden_profile"`
	Features      payload.Document `json:"features_json"`
	Metrics       payload.Document `json:"metrics_json"`
	Confidence    float64          `json:"confidence"`
	IngestedAt    time.Time        `json:"ingested_at"`
}

// StageProjection is the current score for a (session, stage, lineage,
// profile), recomputed from every chunk on each new chunk.
type StageProjection struct {
	ID               int64            `json:"id"`
	SessionID        string           `json:"session_id"`
	Stage            string           `json:"stage"`
	LineageID        string           `json:"lineage_id"`
	GoldenProfile    string           `json:"golden_profile"`
	Discipline       float64          `json:"discipline"`
	Resonance        float64          `json:"resonance"`
	Coherence        float64          `json:"coherence"`
	Composite        float64          `json:"composite"`
	PassesGolden     bool             `json:"passes_golden"`
	Confidence       float64          `json:"confidence"`
	CoverageRatio    float64          `json:"coverage_ratio"`
	SourceChunkCount int              `json:"source_chunk_count"`
	ScorerSource     string           `json:"scorer_source"`
	ScorerModel      *string          `json:"scorer_model"`
	ScorerConfidence float64          `json:"scorer_confidence"`
	ScorerEvidence   payload.Document `json:"scorer_evidence_json"`
	Metrics          payload.Document `json:"metrics_json"`
	Feedback         []string         `json:"feedback_json"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

const chunkColumns = `id, session_id, stage, round_index, chunk_id, seq, t_start_ms, t_end_ms,
	sample_rate_hz, encoding, blob_uri, lineage_id, golden_profile, features_json, metrics_json,
	confidence, ingested_at`

// InsertAudioChunk stores a chunk unless its chunk id is already recorded
// for the session, in which case the existing chunk is returned with
// inserted=false.
func (t *Tx) InsertAudioChunk(ctx context.Context, c AudioChunk) (stored AudioChunk, inserted bool, err error) {
	features, err := marshalDocument(c.Features)
	if err != nil {
		return AudioChunk{}, false, fmt.Errorf("insert audio chunk: %w", err)
	}
	metrics, err := marshalDocument(c.Metrics)
	if err != nil {
		return AudioChunk{}, false, fmt.Errorf("insert audio chunk: %w", err)
	}

	var round sql.NullInt64
	if c.RoundIndex != nil {
		round = sql.NullInt64{Int64: int64(*c.RoundIndex), Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO audio_chunks
		(session_id, stage, round_index, chunk_id, seq, t_start_ms, t_end_ms, sample_rate_hz,
		 encoding, blob_uri, lineage_id, golden_profile, features_json, metrics_json,
		 confidence, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chunk_id) DO NOTHING
	`,
		c.SessionID, c.Stage, round, c.ChunkID, c.Seq, c.TStartMS, c.TEndMS, c.SampleRateHz,
		c.Encoding, nullString(c.BlobURI), c.LineageID, c.GoldenProfile, features, metrics,
		c.Confidence, FormatTime(c.IngestedAt),
	)
	if err != nil {
		return AudioChunk{}, false, fmt.Errorf("insert audio chunk: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return AudioChunk{}, false, fmt.Errorf("insert audio chunk: rows affected: %w", err)
	}
	if rowsAffected > 0 {
		if c.ID, err = result.LastInsertId(); err != nil {
			return AudioChunk{}, false, fmt.Errorf("insert audio chunk: last insert id: %w", err)
		}
		return c, true, nil
	}

	row := t.tx.QueryRowContext(ctx, `
		SELECT `+chunkColumns+` FROM audio_chunks WHERE session_id = ? AND chunk_id = ?
	`, c.SessionID, c.ChunkID)
	existing, err := scanChunk(row)
	if err != nil {
		return AudioChunk{}, false, fmt.Errorf("insert audio chunk: select existing: %w", err)
	}
	return existing, false, nil
}

// ListChunks returns the chunks behind one projection, ordered by seq.
func (t *Tx) ListChunks(ctx context.Context, sessionID, stage, lineageID, profile string) ([]AudioChunk, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM audio_chunks
		WHERE session_id = ? AND stage = ? AND lineage_id = ? AND golden_profile = ?
		ORDER BY seq ASC, id ASC
	`, sessionID, stage, lineageID, profile)
	if err != nil {
		return nil, fmt.Errorf("query audio chunks: %w", err)
	}
	return collect(rows, "audio chunk", func(r *sql.Rows) (AudioChunk, error) { return scanChunk(r) })
}

const projectionColumns = `id, session_id, stage, lineage_id, golden_profile, discipline, resonance,
	coherence, composite, passes_golden, confidence, coverage_ratio, source_chunk_count,
	scorer_source, scorer_model, scorer_confidence, scorer_evidence_json, metrics_json,
	feedback_json, updated_at`

// UpsertStageProjection writes the projection for its key, replacing any
// previous scores.
func (t *Tx) UpsertStageProjection(ctx context.Context, p StageProjection) (StageProjection, error) {
	evidence, err := marshalDocument(p.ScorerEvidence)
	if err != nil {
		return StageProjection{}, fmt.Errorf("upsert stage projection: %w", err)
	}
	metrics, err := marshalDocument(p.Metrics)
	if err != nil {
		return StageProjection{}, fmt.Errorf("upsert stage projection: %w", err)
	}
	if p.Feedback == nil {
		p.Feedback = []string{}
	}
	feedback, err := marshalJSON(p.Feedback)
	if err != nil {
		return StageProjection{}, fmt.Errorf("upsert stage projection: %w", err)
	}

	var model sql.NullString
	if p.ScorerModel != nil {
		model = sql.NullString{String: *p.ScorerModel, Valid: true}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO stage_score_projections
		(session_id, stage, lineage_id, golden_profile, discipline, resonance, coherence, composite,
		 passes_golden, confidence, coverage_ratio, source_chunk_count, scorer_source, scorer_model,
		 scorer_confidence, scorer_evidence_json, metrics_json, feedback_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, stage, lineage_id, golden_profile) DO UPDATE SET
			discipline = excluded.discipline,
			resonance = excluded.resonance,
			coherence = excluded.coherence,
			composite = excluded.composite,
			passes_golden = excluded.passes_golden,
			confidence = excluded.confidence,
			coverage_ratio = excluded.coverage_ratio,
			source_chunk_count = excluded.source_chunk_count,
			scorer_source = excluded.scorer_source,
			scorer_model = excluded.scorer_model,
			scorer_confidence = excluded.scorer_confidence,
			scorer_evidence_json = excluded.scorer_evidence_json,
			metrics_json = excluded.metrics_json,
			feedback_json = excluded.feedback_json,
			updated_at = excluded.updated_at
	`,
		p.SessionID, p.Stage, p.LineageID, p.GoldenProfile,
		p.Discipline, p.Resonance, p.Coherence, p.Composite, boolInt(p.PassesGolden),
		p.Confidence, p.CoverageRatio, p.SourceChunkCount, p.ScorerSource, model,
		p.ScorerConfidence, evidence, metrics, feedback, FormatTime(p.UpdatedAt),
	)
	if err != nil {
		return StageProjection{}, fmt.Errorf("upsert stage projection: %w", err)
	}
	return t.GetStageProjection(ctx, p.SessionID, p.Stage, p.LineageID, p.GoldenProfile)
}

// GetStageProjection returns ErrNotFound when no chunk has been scored
// for the key.
func (t *Tx) GetStageProjection(ctx context.Context, sessionID, stage, lineageID, profile string) (StageProjection, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+projectionColumns+` FROM stage_score_projections
		WHERE session_id = ? AND stage = ? AND lineage_id = ? AND golden_profile = ?
	`, sessionID, stage, lineageID, profile)
	p, err := scanProjection(row)
	if err != nil {
		return StageProjection{}, fmt.Errorf("get stage projection: %w", notFound(err))
	}
	return p, nil
}

// ListStageProjections returns a session's projections by stage then id.
func (t *Tx) ListStageProjections(ctx context.Context, sessionID string) ([]StageProjection, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+projectionColumns+` FROM stage_score_projections
		WHERE session_id = ?
		ORDER BY stage ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query stage projections: %w", err)
	}
	return collect(rows, "stage projection", func(r *sql.Rows) (StageProjection, error) { return scanProjection(r) })
}

func scanChunk(row rowScanner) (AudioChunk, error) {
	var c AudioChunk
	var round sql.NullInt64
	var blob sql.NullString
	var features, metrics, ingested string
	if err := row.Scan(
		&c.ID, &c.SessionID, &c.Stage, &round, &c.ChunkID, &c.Seq, &c.TStartMS, &c.TEndMS,
		&c.SampleRateHz, &c.Encoding, &blob, &c.LineageID, &c.GoldenProfile, &features, &metrics,
		&c.Confidence, &ingested,
	); err != nil {
		return AudioChunk{}, err
	}
	if round.Valid {
		r := int(round.Int64)
		c.RoundIndex = &r
	}
	c.BlobURI = blob.String

	var err error
	if c.IngestedAt, err = ParseTime(ingested); err != nil {
		return AudioChunk{}, err
	}
	if c.Features, err = unmarshalDocument(features); err != nil {
		return AudioChunk{}, err
	}
	c.Metrics, err = unmarshalDocument(metrics)
	return c, err
}

func scanProjection(row rowScanner) (StageProjection, error) {
	var p StageProjection
	var model sql.NullString
	var evidence, metrics, feedback, updated string
	if err := row.Scan(
		&p.ID, &p.SessionID, &p.Stage, &p.LineageID, &p.GoldenProfile,
		&p.Discipline, &p.Resonance, &p.Coherence, &p.Composite, &p.PassesGolden,
		&p.Confidence, &p.CoverageRatio, &p.SourceChunkCount,
		&p.ScorerSource, &model, &p.ScorerConfidence, &evidence, &metrics, &feedback, &updated,
	); err != nil {
		return StageProjection{}, err
	}
	if model.Valid {
		p.ScorerModel = &model.String
	}

	var err error
	if p.UpdatedAt, err = ParseTime(updated); err != nil {
		return StageProjection{}, err
	}
	if p.ScorerEvidence, err = unmarshalDocument(evidence); err != nil {
		return StageProjection{}, err
	}
	if p.Metrics, err = unmarshalDocument(metrics); err != nil {
		return StageProjection{}, err
	}
	if err := unmarshalJSON(feedback, &p.Feedback); err != nil {
		return StageProjection{}, err
	}
	return p, nil
}
