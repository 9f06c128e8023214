package projection

import (
	"time"

	"github.com/roach88/sadhana/internal/payload"
	"github.com/roach88/sadhana/internal/store"
)

// MeaningfulMinutes is the practice length a meaningful session needs.
const MeaningfulMinutes = 10.0

// MeaningfulRating is the lowest rating that still counts as meaningful.
const MeaningfulRating = 4.0

// SummaryInput is everything BuildSummary reads.
type SummaryInput struct {
	Session       store.Session
	Events        []store.Event
	DecisionCount int
	EndedAt       time.Time

	// CompletedGoal overrides the duration-based completion check.
	CompletedGoal   *bool
	UserValueRating *float64
}

// BuildSummary derives the immutable end-of-session summary.
//
// Practice time is the sum of practice_seconds across events; when no
// event reports any, the wall time between start and end is used.
func BuildSummary(in SummaryInput) store.Summary {
	var flow, pronunciation, helpful []float64
	var practiceSeconds float64
	for _, e := range in.Events {
		sig := payload.ExtractSignals(e.Payload)
		if sig.FlowScore != nil {
			flow = append(flow, *sig.FlowScore)
		}
		if sig.PronunciationScore != nil {
			pronunciation = append(pronunciation, *sig.PronunciationScore)
		}
		if sig.PracticeSeconds != nil {
			practiceSeconds += *sig.PracticeSeconds
		}
		if sig.AdaptationHelpful != nil {
			helpful = append(helpful, boolFloat(*sig.AdaptationHelpful))
		}
	}

	if practiceSeconds <= 0 {
		practiceSeconds = max(0, in.EndedAt.Sub(in.Session.StartedAt).Seconds())
	}
	minutes := round(practiceSeconds/60, 2)

	target := max(1, in.Session.TargetDurationMinutes)
	completed := minutes >= 0.8*float64(target)
	if in.CompletedGoal != nil {
		completed = *in.CompletedGoal
	}

	return store.Summary{
		PracticeMinutes:       minutes,
		EventsCount:           len(in.Events),
		AdaptationsCount:      in.DecisionCount,
		AvgFlowScore:          roundedMean(flow),
		AvgPronunciationScore: roundedMean(pronunciation),
		AdaptationHelpfulRate: roundedMean(helpful),
		CompletedGoal:         completed,
		UserValueRating:       in.UserValueRating,
		MeaningfulSession:     Meaningful(minutes, completed, in.UserValueRating),
	}
}

// Meaningful reports whether a session counts toward meaningful_sessions:
// at least ten minutes, goal completed, and no rating below four.
func Meaningful(practiceMinutes float64, completedGoal bool, rating *float64) bool {
	if practiceMinutes < MeaningfulMinutes || !completedGoal {
		return false
	}
	return rating == nil || *rating >= MeaningfulRating
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
