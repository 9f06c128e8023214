package bhav

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/sadhana/internal/payload"
)

// Stage scorer fallback reasons, recorded in a projection's scorer
// evidence when the deterministic evaluation is kept.
const (
	ScorerReasonOK             = "ok"
	ScorerReasonDisabled       = "disabled"
	ScorerReasonMissingAPIKey  = "missing_api_key"
	ScorerReasonRequestError   = "request_error"
	ScorerReasonTimeout        = "timeout"
	ScorerReasonEmptyResponse  = "empty_response"
	ScorerReasonNonJSON        = "non_json_response"
	ScorerReasonInvalidPayload = "invalid_payload"
)

// ErrNonJSONResponse is returned by a StageScorer whose reply held no
// JSON object.
var ErrNonJSONResponse = errors.New("scorer response is not a JSON object")

// StageScoreRequest is what a StageScorer receives.
type StageScoreRequest struct {
	Stage         Stage
	Lineage       Lineage
	GoldenProfile string
	Metrics       StageMetrics
	Aggregate     AggregateInfo
	Baseline      StageResult
}

// StageScorer proposes stage scores. Output is untrusted.
type StageScorer interface {
	ScoreStage(ctx context.Context, req StageScoreRequest) (payload.Document, error)
	Model() string
}

// Candidate is a normalised scorer proposal.
type Candidate struct {
	Discipline   float64
	Resonance    float64
	Coherence    float64
	Composite    float64
	PassesGolden bool
	Feedback     []string
	Confidence   float64
	Evidence     payload.Document
	MetricsUsed  payload.Document
}

// NormalizeCandidate validates and clamps a scorer document against the
// deterministic baseline. The three sub-scores are required; everything
// else falls back to the baseline.
func NormalizeCandidate(doc payload.Document, baseline StageResult, lineage Lineage) (Candidate, bool) {
	discipline, ok1 := unitScore(doc, "discipline")
	resonance, ok2 := unitScore(doc, "resonance")
	coherence, ok3 := unitScore(doc, "coherence")
	if !ok1 || !ok2 || !ok3 {
		return Candidate{}, false
	}

	c := Candidate{
		Discipline: discipline,
		Resonance:  resonance,
		Coherence:  coherence,
	}
	if composite, ok := unitScore(doc, "composite"); ok {
		c.Composite = composite
	} else {
		c.Composite = round(lineage.Weights.Composite(discipline, resonance, coherence), 3)
	}

	if passes, ok := doc.Bool("passes_golden"); ok {
		c.PassesGolden = passes
	} else {
		c.PassesGolden = baseline.PassesGolden
	}

	if items, ok := doc["feedback"].([]any); ok {
		for _, item := range items {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				c.Feedback = append(c.Feedback, strings.TrimSpace(s))
			}
		}
	}
	if len(c.Feedback) == 0 {
		c.Feedback = append([]string(nil), baseline.Feedback...)
	}
	if len(c.Feedback) > maxFeedbackTips {
		c.Feedback = c.Feedback[:maxFeedbackTips]
	}

	c.Confidence = 0.5
	if v, ok := unitScore(doc, "scorer_confidence"); ok {
		c.Confidence = v
	} else if v, ok := unitScore(doc, "confidence"); ok {
		c.Confidence = v
	}

	if ev, ok := doc.Object("evidence_json"); ok {
		c.Evidence = ev.Clone()
	} else {
		c.Evidence = payload.Document{}
	}
	if mu, ok := doc.Object("metrics_used"); ok {
		c.MetricsUsed = mu.Clone()
	}
	return c, true
}

func unitScore(doc payload.Document, key string) (float64, bool) {
	v, ok := doc.Number(key)
	if !ok {
		return 0, false
	}
	return round(clamp01(v), 3), true
}
