package bhav

import (
	"math"

	"github.com/roach88/sadhana/internal/payload"
)

// SessionInput is what a finished session contributes to its Bhav score.
type SessionInput struct {
	MantraKey             string
	TargetDurationMinutes int
	PracticeMinutes       float64
	CompletedGoal         bool
	AvgFlowScore          float64
	AvgPronunciationScore float64
	UserValueRating       *float64
	// Signals holds one entry per session event, in event order.
	Signals []payload.Signals
}

// SessionSignals are the normalised inputs behind the sub-scores.
type SessionSignals struct {
	DurationRatio        float64 `json:"duration_ratio"`
	CompletedGoal        bool    `json:"completed_goal"`
	CadenceConsistency   float64 `json:"cadence_consistency"`
	FlowScore            float64 `json:"flow_score"`
	PronunciationScore   float64 `json:"pronunciation_score"`
	UserValueNorm        float64 `json:"user_value_norm"`
	AdaptationAcceptance float64 `json:"adaptation_acceptance"`
}

// SessionDetail explains a session score.
type SessionDetail struct {
	LineageID     string             `json:"lineage_id"`
	GoldenProfile string             `json:"golden_profile"`
	ProfileMatch  bool               `json:"profile_match"`
	Thresholds    map[string]float64 `json:"thresholds"`
	Gaps          map[string]float64 `json:"gaps"`
	Signals       SessionSignals     `json:"signals"`
	Weights       Weights            `json:"weights"`
}

// SessionScore is the Bhav result for one session.
type SessionScore struct {
	Discipline   float64       `json:"discipline"`
	Resonance    float64       `json:"resonance"`
	Coherence    float64       `json:"coherence"`
	Composite    float64       `json:"composite"`
	PassesGolden bool          `json:"passes_golden"`
	Detail       SessionDetail `json:"detail_json"`
}

// Evaluate scores a session for a lineage. Thresholds only apply when the
// profile is the registry's golden profile and the session mantra belongs
// to the lineage; otherwise the score never passes.
func (r *Registry) Evaluate(in SessionInput, lineage Lineage, profile string) SessionScore {
	var cadences, helpful []float64
	for _, s := range in.Signals {
		if s.CadenceBPM != nil {
			cadences = append(cadences, *s.CadenceBPM)
		}
		if s.AdaptationHelpful != nil {
			helpful = append(helpful, boolScore(*s.AdaptationHelpful))
		}
	}

	consistency := cadenceConsistency(cadences)
	acceptance := 0.5
	if len(helpful) > 0 {
		acceptance = mean(helpful)
	}
	durationRatio := clamp01(in.PracticeMinutes / max(1, float64(in.TargetDurationMinutes)))
	flow := clamp01(in.AvgFlowScore)
	pronunciation := clamp01(in.AvgPronunciationScore)
	valueNorm := normRating(in.UserValueRating)

	discipline := clamp01(0.45*durationRatio + 0.35*boolScore(in.CompletedGoal) + 0.20*consistency)
	resonance := clamp01(0.55*flow + 0.25*valueNorm + 0.20*acceptance)
	coherence := clamp01(0.70*pronunciation + 0.30*consistency)
	composite := lineage.Weights.Composite(discipline, resonance, coherence)

	match := profile == r.goldenProfile && lineage.MatchesMantra(in.MantraKey)
	thresholds := map[string]float64{}
	gaps := map[string]float64{}
	passes := false
	if match {
		t := lineage.Thresholds
		thresholds = thresholdMap(t)
		gaps = map[string]float64{
			"discipline": round(discipline-t.Discipline, 3),
			"resonance":  round(resonance-t.Resonance, 3),
			"coherence":  round(coherence-t.Coherence, 3),
			"composite":  round(composite-t.Composite, 3),
		}
		passes = true
		for _, g := range gaps {
			if g < 0 {
				passes = false
			}
		}
	}

	return SessionScore{
		Discipline:   round(discipline, 3),
		Resonance:    round(resonance, 3),
		Coherence:    round(coherence, 3),
		Composite:    round(composite, 3),
		PassesGolden: passes,
		Detail: SessionDetail{
			LineageID:     lineage.ID,
			GoldenProfile: profile,
			ProfileMatch:  match,
			Thresholds:    thresholds,
			Gaps:          gaps,
			Signals: SessionSignals{
				DurationRatio:        round(durationRatio, 3),
				CompletedGoal:        in.CompletedGoal,
				CadenceConsistency:   round(consistency, 3),
				FlowScore:            round(flow, 3),
				PronunciationScore:   round(pronunciation, 3),
				UserValueNorm:        round(valueNorm, 3),
				AdaptationAcceptance: round(acceptance, 3),
			},
			Weights: lineage.Weights,
		},
	}
}

// cadenceConsistency maps cadence variability to [0,1] using the
// population coefficient of variation.
func cadenceConsistency(cadences []float64) float64 {
	switch len(cadences) {
	case 0:
		return 0.5
	case 1:
		return 0.8
	}
	m := mean(cadences)
	if m <= 0 {
		return 0.5
	}
	var sq float64
	for _, c := range cadences {
		sq += (c - m) * (c - m)
	}
	cv := math.Sqrt(sq/float64(len(cadences))) / m
	return clamp01(1 - cv*2)
}

func normRating(rating *float64) float64 {
	if rating == nil {
		return 0.5
	}
	return clamp01((*rating - 1) / 4)
}

func thresholdMap(t Thresholds) map[string]float64 {
	return map[string]float64{
		"discipline": t.Discipline,
		"resonance":  t.Resonance,
		"coherence":  t.Coherence,
		"composite":  t.Composite,
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
