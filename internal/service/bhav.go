package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/sadhana/internal/bhav"
	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/telemetry"
	"github.com/roach88/sadhana/internal/webhook"
)

// EvaluateBhavInput selects the lineage and profile to score against.
// Persist defaults to true.
type EvaluateBhavInput struct {
	Lineage       string `json:"lineage" validate:"max=60"`
	GoldenProfile string `json:"golden_profile" validate:"max=40"`
	Persist       *bool  `json:"persist"`
}

// EvaluateStageInput is a stateless stage evaluation request.
type EvaluateStageInput struct {
	Stage         string            `json:"stage" yaml:"stage"`
	Lineage       string            `json:"lineage" yaml:"lineage"`
	GoldenProfile string            `json:"golden_profile" yaml:"golden_profile"`
	Metrics       bhav.StageMetrics `json:"metrics" yaml:"metrics"`
}

// AudioChunkInput is one window of client-computed audio features.
type AudioChunkInput struct {
	SessionID     string             `json:"session_id"`
	Stage         string             `json:"stage" validate:"required"`
	RoundIndex    *int               `json:"round_index" validate:"omitempty,gte=0"`
	ChunkID       string             `json:"chunk_id" validate:"required,max=120"`
	Seq           int                `json:"seq" validate:"gte=0"`
	TStartMS      int64              `json:"t_start_ms" validate:"gte=0"`
	TEndMS        int64              `json:"t_end_ms" validate:"gtefield=TStartMS"`
	SampleRateHz  int                `json:"sample_rate_hz" validate:"gte=0"`
	Encoding      string             `json:"encoding" validate:"max=40"`
	BlobURI       string             `json:"blob_uri" validate:"max=500"`
	Lineage       string             `json:"lineage" validate:"max=60"`
	GoldenProfile string             `json:"golden_profile" validate:"max=40"`
	Features      bhav.ChunkFeatures `json:"features" validate:"-"`
}

// EvaluateBhav scores an ENDED session. With Persist the result is stored,
// fanned out as bhav_evaluated and counted in the day's pass rate; the
// returned row then carries its id.
func (s *Service) EvaluateBhav(ctx context.Context, sessionID string, in EvaluateBhavInput) (store.BhavEvaluation, error) {
	if err := validateInput(in); err != nil {
		return store.BhavEvaluation{}, err
	}
	persist := in.Persist == nil || *in.Persist

	var out store.BhavEvaluation
	err := s.run(ctx, "EvaluateBhav", func(ctx context.Context, tx *store.Tx) error {
		sess, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != store.SessionEnded {
			return conflict(ReasonSessionNotEnded, "session %s must be ended before Bhav evaluation", sessionID)
		}
		if sess.Summary == nil {
			return invalid(ReasonSummaryMissing, nil, "session %s has no summary", sessionID)
		}

		profile, err := s.registry.CheckProfile(in.GoldenProfile)
		if err != nil {
			return lineageError(err)
		}
		lineage, err := s.registry.Resolve(in.Lineage)
		if err != nil {
			return lineageError(err)
		}

		events, err := tx.ListEvents(ctx, sessionID)
		if err != nil {
			return err
		}
		signals := make([]payload.Signals, len(events))
		for i, e := range events {
			signals[i] = payload.ExtractSignals(e.Payload)
		}
		sum := sess.Summary
		score := s.registry.Evaluate(bhav.SessionInput{
			MantraKey:             sess.MantraKey,
			TargetDurationMinutes: sess.TargetDurationMinutes,
			PracticeMinutes:       sum.PracticeMinutes,
			CompletedGoal:         sum.CompletedGoal,
			AvgFlowScore:          sum.AvgFlowScore,
			AvgPronunciationScore: sum.AvgPronunciationScore,
			UserValueRating:       sum.UserValueRating,
			Signals:               signals,
		}, lineage, profile)

		detail, err := payload.FromValue(score.Detail)
		if err != nil {
			return fmt.Errorf("evaluate bhav: %w", err)
		}
		out = store.BhavEvaluation{
			SessionID:    sessionID,
			MantraKey:    sess.MantraKey,
			LineageID:    lineage.ID,
			ProfileName:  profile,
			Discipline:   score.Discipline,
			Resonance:    score.Resonance,
			Coherence:    score.Coherence,
			Composite:    score.Composite,
			PassesGolden: score.PassesGolden,
			Detail:       detail,
		}
		if !persist {
			return nil
		}

		now := s.now()
		out.CreatedAt = now
		if out, err = tx.InsertBhavEvaluation(ctx, out); err != nil {
			return err
		}
		if _, err := s.webhooks.FanOut(ctx, tx, webhook.EventBhavEvaluated, payload.Document{
			"session_id":    sessionID,
			"lineage_id":    lineage.ID,
			"composite":     out.Composite,
			"passes_golden": out.PassesGolden,
		}, now, now); err != nil {
			return err
		}
		return s.refresh(ctx, tx, now, store.DateKey(now))
	}, attribute.String("session.id", sessionID))
	if err != nil {
		return store.BhavEvaluation{}, err
	}
	return out, nil
}

// EvaluateStage scores one stage's metrics. It reads no state.
func (s *Service) EvaluateStage(ctx context.Context, in EvaluateStageInput) (result bhav.StageResult, err error) {
	_, span := telemetry.StartSpan(ctx, "service.EvaluateStage", attribute.String("stage", in.Stage))
	defer func() { telemetry.EndSpan(span, err) }()

	stage, err := bhav.ParseStage(in.Stage)
	if err != nil {
		return bhav.StageResult{}, lineageError(err)
	}
	profile, err := s.registry.CheckProfile(in.GoldenProfile)
	if err != nil {
		return bhav.StageResult{}, lineageError(err)
	}
	lineage, err := s.registry.Resolve(in.Lineage)
	if err != nil {
		return bhav.StageResult{}, lineageError(err)
	}
	result, err = s.registry.EvaluateStage(stage, in.Metrics, lineage, profile)
	if err != nil {
		return bhav.StageResult{}, metricsError(err, ReasonInvalidMetrics)
	}
	return result, nil
}

// IngestAudioChunk stores a chunk and rescores its stage projection from
// every chunk recorded for the same (session, stage, lineage, profile). A
// repeated chunk id returns the stored chunk and current projection with
// duplicate=true.
func (s *Service) IngestAudioChunk(ctx context.Context, in AudioChunkInput) (store.AudioChunk, bool, store.StageProjection, error) {
	if err := validateInput(in); err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, err
	}
	stage, err := bhav.ParseStage(in.Stage)
	if err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, lineageError(err)
	}
	if err := in.Features.Validate(); err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, metricsError(err, ReasonInvalidFeatures)
	}
	profile, err := s.registry.CheckProfile(in.GoldenProfile)
	if err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, lineageError(err)
	}
	lineage, err := s.registry.Resolve(in.Lineage)
	if err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, lineageError(err)
	}

	features, norm := bhav.NormalizeChunk(in.TStartMS, in.TEndMS, in.Features)
	featuresDoc, err := payload.FromValue(features)
	if err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, fmt.Errorf("ingest audio chunk: %w", err)
	}
	metricsDoc, err := payload.FromValue(norm.Metrics)
	if err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, fmt.Errorf("ingest audio chunk: %w", err)
	}

	var chunk store.AudioChunk
	var inserted bool
	var proj store.StageProjection
	err = s.run(ctx, "IngestAudioChunk", func(ctx context.Context, tx *store.Tx) error {
		if _, err := loadSession(ctx, tx, in.SessionID); err != nil {
			return err
		}

		now := s.now()
		chunk, inserted, err = tx.InsertAudioChunk(ctx, store.AudioChunk{
			SessionID:     in.SessionID,
			Stage:         string(stage),
			RoundIndex:    in.RoundIndex,
			ChunkID:       in.ChunkID,
			Seq:           in.Seq,
			TStartMS:      in.TStartMS,
			TEndMS:        in.TEndMS,
			SampleRateHz:  in.SampleRateHz,
			Encoding:      in.Encoding,
			BlobURI:       in.BlobURI,
			LineageID:     lineage.ID,
			GoldenProfile: profile,
			Features:      featuresDoc,
			Metrics:       metricsDoc,
			Confidence:    norm.Confidence,
			IngestedAt:    now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			proj, err = tx.GetStageProjection(ctx, chunk.SessionID, chunk.Stage, chunk.LineageID, chunk.GoldenProfile)
			return err
		}

		rows, err := tx.ListChunks(ctx, in.SessionID, string(stage), lineage.ID, profile)
		if err != nil {
			return err
		}
		chunks := make([]bhav.Chunk, 0, len(rows))
		for _, row := range rows {
			c, err := chunkFromRow(row)
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
		}

		scored, err := s.projector.Project(ctx, stage, lineage, profile, chunks)
		if err != nil {
			return fmt.Errorf("project stage %s: %w", stage, err)
		}
		recordStageScorer(scored)

		proj, err = tx.UpsertStageProjection(ctx, stageProjection(in.SessionID, scored, now))
		return err
	}, attribute.String("session.id", in.SessionID), attribute.String("stage", in.Stage))
	if err != nil {
		return store.AudioChunk{}, false, store.StageProjection{}, err
	}
	return chunk, !inserted, proj, nil
}

// ListStageProjections returns every stage projection of a session.
func (s *Service) ListStageProjections(ctx context.Context, sessionID string) ([]store.StageProjection, error) {
	var out []store.StageProjection
	err := s.run(ctx, "ListStageProjections", func(ctx context.Context, tx *store.Tx) error {
		if _, err := loadSession(ctx, tx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListStageProjections(ctx, sessionID)
		return err
	})
	return out, err
}

// chunkFromRow rebuilds the scoring view of a stored chunk.
func chunkFromRow(row store.AudioChunk) (bhav.Chunk, error) {
	raw, err := json.Marshal(row.Metrics)
	if err != nil {
		return bhav.Chunk{}, fmt.Errorf("chunk %s metrics: %w", row.ChunkID, err)
	}
	var m bhav.StageMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return bhav.Chunk{}, fmt.Errorf("chunk %s metrics: %w", row.ChunkID, err)
	}
	c := bhav.Chunk{Metrics: m, Confidence: row.Confidence}
	if snr, ok := row.Features.Number("snr_db"); ok {
		c.SNRDB = &snr
	}
	return c, nil
}

func stageProjection(sessionID string, p bhav.Projection, now time.Time) store.StageProjection {
	out := store.StageProjection{
		SessionID:        sessionID,
		Stage:            string(p.Result.Stage),
		LineageID:        p.Result.LineageID,
		GoldenProfile:    p.Result.GoldenProfile,
		Discipline:       p.Result.Discipline,
		Resonance:        p.Result.Resonance,
		Coherence:        p.Result.Coherence,
		Composite:        p.Result.Composite,
		PassesGolden:     p.Result.PassesGolden,
		Confidence:       p.Confidence,
		CoverageRatio:    p.CoverageRatio,
		SourceChunkCount: p.SourceChunkCount,
		ScorerSource:     p.ScorerSource,
		ScorerConfidence: p.ScorerConfidence,
		ScorerEvidence:   p.ScorerEvidence,
		Metrics:          p.Metrics,
		Feedback:         p.Result.Feedback,
		UpdatedAt:        now,
	}
	if p.ScorerModel != "" {
		model := p.ScorerModel
		out.ScorerModel = &model
	}
	return out
}

func recordStageScorer(p bhav.Projection) {
	attempted, _ := p.ScorerEvidence.Bool("attempted")
	reason, _ := p.ScorerEvidence.String("fallback_reason")
	if attempted && reason != "" {
		telemetry.RecordScorerFallback("stage", reason)
	}
}

// metricsError maps a *bhav.MetricsError to a field-level service error.
func metricsError(err error, reason string) error {
	var me *bhav.MetricsError
	if errors.As(err, &me) {
		return invalid(reason, me.Fields, "%v", err)
	}
	return lineageError(err)
}
