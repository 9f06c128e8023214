package bhav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
)

func callResponseMetrics() StageMetrics {
	return StageMetrics{
		DurationSeconds:    40,
		VoiceRatioTotal:    0.58,
		VoiceRatioStudent:  payload.Float(0.74),
		VoiceRatioGuru:     payload.Float(0.16),
		PitchStability:     0.86,
		CadenceBPM:         72,
		CadenceConsistency: 0.83,
		AvgEnergy:          0.5,
	}
}

func TestEvaluateStageCallResponse(t *testing.T) {
	r := DefaultRegistry()
	lineage, err := r.Resolve("vashnavism")
	require.NoError(t, err)

	res, err := r.EvaluateStage(StageCallResponse, callResponseMetrics(), lineage, "maha_mantra_v1")
	require.NoError(t, err)

	assert.Equal(t, StageCallResponse, res.Stage)
	assert.Equal(t, "vaishnavism", res.LineageID)
	assert.InDelta(t, 0.822, res.Discipline, 0.001)
	assert.InDelta(t, 0.934, res.Resonance, 0.001)
	assert.InDelta(t, 0.826, res.Coherence, 0.001)
	assert.GreaterOrEqual(t, res.Composite, 0.75)
	assert.True(t, res.PassesGolden)
	assert.Equal(t, []string{defaultStrongTip}, res.Feedback)

	used := res.MetricsUsed
	require.NotNil(t, used.VoiceRatioStudent)
	assert.GreaterOrEqual(t, *used.VoiceRatioStudent, 0.7)
	assert.Nil(t, used.VoiceRatioTotal)
	assert.Equal(t, 0.71, used.Thresholds.Composite)
	assert.Equal(t, MasteryMastered, used.Mastery.Level)
	assert.True(t, used.Mastery.ProgressionGatePassed)
	require.NotNil(t, used.Mastery.NextStage)
	assert.Equal(t, StageIndependent, *used.Mastery.NextStage)
	assert.Equal(t, "Advance to independent with the same vocal stability focus.", used.Mastery.NextStageHint)
}

func TestEvaluateStageAllStagesPass(t *testing.T) {
	r := DefaultRegistry()
	lineage, err := r.Resolve("vaishnavism")
	require.NoError(t, err)

	tests := map[Stage]StageMetrics{
		StageGuided: {
			DurationSeconds: 45, VoiceRatioTotal: 0.71, PitchStability: 0.84,
			CadenceBPM: 72, CadenceConsistency: 0.81, AvgEnergy: 0.5,
		},
		StageCallResponse: {
			DurationSeconds: 40, VoiceRatioTotal: 0.55,
			VoiceRatioStudent: payload.Float(0.74), VoiceRatioGuru: payload.Float(0.17),
			PitchStability: 0.83, CadenceBPM: 73, CadenceConsistency: 0.79, AvgEnergy: 0.49,
		},
		StageIndependent: {
			DurationSeconds: 30, VoiceRatioTotal: 0.78, PitchStability: 0.86,
			CadenceBPM: 71, CadenceConsistency: 0.82, AvgEnergy: 0.52,
		},
	}
	for stage, m := range tests {
		t.Run(string(stage), func(t *testing.T) {
			res, err := r.EvaluateStage(stage, m, lineage, "maha_mantra_v1")
			require.NoError(t, err)
			assert.True(t, res.PassesGolden, "composite %v", res.Composite)
		})
	}
}

func TestEvaluateStageIndependentHasNoNextStage(t *testing.T) {
	r := DefaultRegistry()
	lineage, err := r.Resolve("")
	require.NoError(t, err)

	m := StageMetrics{DurationSeconds: 5, VoiceRatioTotal: 0.2, PitchStability: 0.4, CadenceBPM: 110, CadenceConsistency: 0.4, AvgEnergy: 0.1}
	res, err := r.EvaluateStage(StageIndependent, m, lineage, "maha_mantra_v1")
	require.NoError(t, err)

	assert.False(t, res.PassesGolden)
	assert.Equal(t, MasteryEmerging, res.MetricsUsed.Mastery.Level)
	assert.Nil(t, res.MetricsUsed.Mastery.NextStage)
	assert.Equal(t, reinforceStageTip, res.MetricsUsed.Mastery.NextStageHint)
	assert.Less(t, res.MetricsUsed.Mastery.GapToThreshold, 0.0)
}

func TestEvaluateStageFeedbackIsCapped(t *testing.T) {
	r := DefaultRegistry()
	lineage, err := r.Resolve("")
	require.NoError(t, err)

	m := StageMetrics{
		DurationSeconds:    5,
		VoiceRatioTotal:    0.1,
		VoiceRatioStudent:  payload.Float(0.1),
		VoiceRatioGuru:     payload.Float(0.5),
		PitchStability:     0.3,
		CadenceBPM:         120,
		CadenceConsistency: 0.3,
		AvgEnergy:          0.1,
	}
	res, err := r.EvaluateStage(StageCallResponse, m, lineage, "maha_mantra_v1")
	require.NoError(t, err)
	assert.Len(t, res.Feedback, maxFeedbackTips)
}

func TestEvaluateStageRequiresGoldenProfile(t *testing.T) {
	r := DefaultRegistry()
	lineage, err := r.Resolve("")
	require.NoError(t, err)

	res, err := r.EvaluateStage(StageCallResponse, callResponseMetrics(), lineage, "other_profile")
	require.NoError(t, err)
	assert.False(t, res.PassesGolden)
}

func TestEvaluateStageRejectsOutOfRangeMetrics(t *testing.T) {
	r := DefaultRegistry()
	lineage, err := r.Resolve("")
	require.NoError(t, err)

	m := callResponseMetrics()
	m.CadenceBPM = 500
	m.PitchStability = 1.2

	_, err = r.EvaluateStage(StageCallResponse, m, lineage, "maha_mantra_v1")
	var merr *MetricsError
	require.ErrorAs(t, err, &merr)

	fields := make([]string, 0, len(merr.Fields))
	for _, f := range merr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"pitch_stability", "cadence_bpm"}, fields)
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("guided")
	require.NoError(t, err)
	assert.Equal(t, StageGuided, s)
	assert.Equal(t, 45.0, s.TargetDurationSeconds())
	assert.Equal(t, StageCallResponse, s.Next())

	_, err = ParseStage("listening")
	require.ErrorIs(t, err, ErrUnsupportedStage)
}
