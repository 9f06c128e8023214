package adaptation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// Fallback reasons recorded when a scorer candidate is not used.
const (
	FallbackScorerTimeout     = "scorer_timeout"
	FallbackScorerError       = "scorer_error"
	FallbackScorerEmpty       = "scorer_empty"
	FallbackContractViolation = "scorer_contract_violation"
)

// DefaultScorerTimeout bounds a scorer call when Config leaves it unset.
const DefaultScorerTimeout = 3 * time.Second

// Config controls whether and how the engine consults a Scorer.
type Config struct {
	ScorerEnabled bool
	ScorerTimeout time.Duration
}

// Request is the input to a single adaptation.
type Request struct {
	SessionID string
	MantraKey string
	Snapshot  Snapshot
	// Context carries pass-through fields for the scorer (energy level,
	// HRV) that the rules do not read.
	Context payload.Document
}

// ScoreRequest is what a Scorer receives.
type ScoreRequest struct {
	Request
	Baseline Decision
}

// Scorer proposes a decision document. Output is untrusted: a nil
// document means "no proposal".
type Scorer interface {
	ScoreAdaptation(ctx context.Context, req ScoreRequest) (payload.Document, error)
}

// Resolution is the engine's final answer for a request.
type Resolution struct {
	Decision Decision
	Source   Source
	// QualityScore is the rubric score of the first candidate evaluated.
	QualityScore   float64
	FallbackReason string
	Violations     []string
}

// Engine resolves adaptation requests. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	scorer Scorer
	logger *slog.Logger
}

// NewEngine creates an engine. scorer may be nil.
func NewEngine(cfg Config, scorer Scorer, logger *slog.Logger) *Engine {
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = DefaultScorerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, scorer: scorer, logger: logger}
}

// Resolve produces a decision for req. It never fails: every scorer
// problem is absorbed and the rule-engine decision is used instead.
func (e *Engine) Resolve(ctx context.Context, req Request) Resolution {
	baseline := Decide(req.Snapshot)

	res := e.consultScorer(ctx, req, baseline)
	if res != nil {
		return e.finish(*res)
	}

	// The rule engine is held to the same contract as any scorer.
	ok, violations := VerifyContract(baseline.Document())
	if !ok {
		e.logger.Error("rule engine produced a decision that violates its contract",
			"session_id", req.SessionID,
			"violations", violations,
		)
	}
	return e.finish(Resolution{
		Decision:     baseline,
		Source:       SourceDeterministic,
		QualityScore: QualityScore(violations),
		Violations:   violations,
	})
}

// consultScorer returns nil when no scorer is configured. Otherwise it
// returns either the accepted scorer decision or the rule decision with a
// fallback reason.
func (e *Engine) consultScorer(ctx context.Context, req Request, baseline Decision) *Resolution {
	if !e.cfg.ScorerEnabled || e.scorer == nil {
		return nil
	}

	candidate, err := e.callScorer(ctx, ScoreRequest{Request: req, Baseline: baseline})
	if err != nil {
		reason := FallbackScorerError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = FallbackScorerTimeout
		}
		e.logger.Warn("adaptation scorer failed, using rules",
			"session_id", req.SessionID,
			"reason", reason,
			"error", err,
		)
		return e.fallback(baseline, reason, nil, 1.0)
	}
	if candidate == nil {
		return e.fallback(baseline, FallbackScorerEmpty, nil, 1.0)
	}

	// Bounds violations reject the candidate but do not lower the score.
	_, violations := VerifyContract(candidate)
	score := QualityScore(violations)
	violations = append(violations, checkBounds(candidate)...)
	if len(violations) > 0 {
		e.logger.Warn("adaptation scorer candidate rejected",
			"session_id", req.SessionID,
			"violations", violations,
			"quality_score", score,
		)
		return e.fallback(baseline, FallbackContractViolation, violations, score)
	}

	decision, err := decisionFromDocument(candidate)
	if err != nil {
		return e.fallback(baseline, FallbackContractViolation, []string{err.Error()}, score)
	}
	return &Resolution{
		Decision:     decision,
		Source:       SourceScorer,
		QualityScore: score,
	}
}

func (e *Engine) fallback(baseline Decision, reason string, violations []string, score float64) *Resolution {
	return &Resolution{
		Decision:       baseline,
		Source:         SourceDeterministic,
		QualityScore:   score,
		FallbackReason: reason,
		Violations:     violations,
	}
}

func (e *Engine) callScorer(ctx context.Context, req ScoreRequest) (payload.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScorerTimeout)
	defer cancel()

	type result struct {
		doc payload.Document
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("scorer panic: %v", r)}
			}
		}()
		d, err := e.scorer.ScoreAdaptation(ctx, req)
		done <- result{doc: d, err: err}
	}()

	select {
	case r := <-done:
		return r.doc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish stamps explainability onto the decision.
func (e *Engine) finish(res Resolution) Resolution {
	res.Decision.AdaptationJSON.Explainability = &Explainability{
		Source:             res.Source,
		QualityScore:       res.QualityScore,
		FallbackReason:     res.FallbackReason,
		ContractViolations: res.Violations,
	}
	return res
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}
