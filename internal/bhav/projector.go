package bhav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// Scorer sources recorded on a projection.
const (
	SourceDeterministic = "deterministic"
	SourceScorer        = "scorer"
)

// DefaultStageScorerTimeout bounds a stage scorer call when unset.
const DefaultStageScorerTimeout = 5 * time.Second

// ProjectorConfig controls the optional stage scorer.
type ProjectorConfig struct {
	ScorerEnabled bool
	ScorerTimeout time.Duration
}

// Projection is the scored view of every chunk recorded for one
// (session, stage, lineage, profile).
type Projection struct {
	Result           StageResult
	Confidence       float64
	CoverageRatio    float64
	SourceChunkCount int
	ScorerSource     string
	ScorerModel      string
	ScorerConfidence float64
	ScorerEvidence   payload.Document
	Metrics          payload.Document
}

// Projector aggregates chunks and scores them, consulting a StageScorer
// when one is configured.
type Projector struct {
	registry *Registry
	scorer   StageScorer
	cfg      ProjectorConfig
	logger   *slog.Logger
}

// NewProjector creates a projector. scorer may be nil.
func NewProjector(registry *Registry, scorer StageScorer, cfg ProjectorConfig, logger *slog.Logger) *Projector {
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = DefaultStageScorerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{registry: registry, scorer: scorer, cfg: cfg, logger: logger}
}

// Project scores chunks for a stage. The deterministic evaluation is
// always computed; a valid scorer candidate replaces its scores.
func (p *Projector) Project(ctx context.Context, stage Stage, lineage Lineage, profile string, chunks []Chunk) (Projection, error) {
	metrics, info, err := AggregateChunks(chunks)
	if err != nil {
		return Projection{}, err
	}
	baseline, err := p.registry.EvaluateStage(stage, scoreable(metrics), lineage, profile)
	if err != nil {
		return Projection{}, fmt.Errorf("evaluate stage %s: %w", stage, err)
	}

	proj := Projection{
		Result:           baseline,
		Confidence:       ProjectionConfidence(stage, metrics, info),
		CoverageRatio:    round(Coverage(stage, metrics), 3),
		SourceChunkCount: info.ChunkCount,
		ScorerSource:     SourceDeterministic,
	}

	req := StageScoreRequest{
		Stage:         stage,
		Lineage:       lineage,
		GoldenProfile: profile,
		Metrics:       metrics,
		Aggregate:     info,
		Baseline:      baseline,
	}
	candidate, reason, attempted := p.consult(ctx, req)

	metricsUsed, err := payload.FromValue(baseline.MetricsUsed)
	if err != nil {
		return Projection{}, err
	}
	if candidate != nil {
		proj.ScorerSource = SourceScorer
		proj.ScorerModel = p.scorer.Model()
		proj.ScorerConfidence = candidate.Confidence
		proj.ScorerEvidence = candidate.Evidence
		proj.ScorerEvidence["scorer_meta"] = map[string]any{
			"attempted": true,
			"model":     proj.ScorerModel,
			"reason":    reason,
		}
		proj.Result.Discipline = candidate.Discipline
		proj.Result.Resonance = candidate.Resonance
		proj.Result.Coherence = candidate.Coherence
		proj.Result.Composite = candidate.Composite
		proj.Result.PassesGolden = candidate.PassesGolden
		proj.Result.Feedback = candidate.Feedback
		if candidate.MetricsUsed != nil {
			metricsUsed = candidate.MetricsUsed
		}
	} else {
		proj.ScorerEvidence = payload.Document{
			"fallback_reason": reason,
			"attempted":       attempted,
		}
		if attempted {
			proj.ScorerModel = p.scorer.Model()
			proj.ScorerEvidence["model"] = proj.ScorerModel
		}
	}

	aggregate, err := payload.FromValue(info)
	if err != nil {
		return Projection{}, err
	}
	metricsUsed["aggregate"] = map[string]any(aggregate)
	metricsUsed["scorer"] = map[string]any{
		"source":            proj.ScorerSource,
		"model":             nullable(proj.ScorerModel),
		"reason":            reason,
		"scorer_confidence": proj.ScorerConfidence,
	}
	proj.Metrics = metricsUsed
	return proj, nil
}

// consult returns the accepted candidate, or nil with the fallback reason.
func (p *Projector) consult(ctx context.Context, req StageScoreRequest) (*Candidate, string, bool) {
	if !p.cfg.ScorerEnabled {
		return nil, ScorerReasonDisabled, false
	}
	if p.scorer == nil {
		return nil, ScorerReasonMissingAPIKey, false
	}

	doc, err := p.callScorer(ctx, req)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, p.warn(req, ScorerReasonTimeout, err), true
	case errors.Is(err, ErrNonJSONResponse):
		return nil, p.warn(req, ScorerReasonNonJSON, err), true
	case err != nil:
		return nil, p.warn(req, ScorerReasonRequestError, err), true
	case len(doc) == 0:
		return nil, p.warn(req, ScorerReasonEmptyResponse, nil), true
	}

	candidate, ok := NormalizeCandidate(doc, req.Baseline, req.Lineage)
	if !ok {
		return nil, p.warn(req, ScorerReasonInvalidPayload, nil), true
	}
	return &candidate, ScorerReasonOK, true
}

func (p *Projector) callScorer(ctx context.Context, req StageScoreRequest) (payload.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
	defer cancel()

	type result struct {
		doc payload.Document
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("stage scorer panic: %v", r)}
			}
		}()
		d, err := p.scorer.ScoreStage(ctx, req)
		done <- result{doc: d, err: err}
	}()

	select {
	case r := <-done:
		return r.doc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Projector) warn(req StageScoreRequest, reason string, err error) string {
	attrs := []any{"stage", req.Stage, "lineage_id", req.Lineage.ID, "reason", reason}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	p.logger.Warn("stage scorer fell back to deterministic scores", attrs...)
	return reason
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
