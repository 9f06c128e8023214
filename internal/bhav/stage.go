package bhav

import (
	"errors"
	"fmt"
	"math"
)

// Stage is one step of the maha mantra learning journey.
type Stage string

const (
	StageGuided       Stage = "guided"
	StageCallResponse Stage = "call_response"
	StageIndependent  Stage = "independent"
)

// ErrUnsupportedStage is returned for unknown stage names.
var ErrUnsupportedStage = errors.New("unsupported stage")

type stageTarget struct {
	durationSeconds float64
	thresholdOffset float64
	next            Stage
}

var stageTargets = map[Stage]stageTarget{
	StageGuided:       {durationSeconds: 45, thresholdOffset: -0.08, next: StageCallResponse},
	StageCallResponse: {durationSeconds: 40, thresholdOffset: -0.04, next: StageIndependent},
	StageIndependent:  {durationSeconds: 30, thresholdOffset: 0},
}

// TargetCadenceBPM is the golden tempo stages are measured against.
const TargetCadenceBPM = 72.0

// Mastery levels.
const (
	MasteryEmerging   = "emerging"
	MasteryDeveloping = "developing"
	MasteryMastered   = "mastered"
)

const (
	masteryMargin     = 0.08
	maxFeedbackTips   = 4
	defaultStrongTip  = "Strong stage performance. Keep the same breath control and cadence consistency."
	reinforceStageTip = "Reinforce this stage before progressing."
)

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := stageTargets[st]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedStage, s)
	}
	return st, nil
}

// TargetDurationSeconds is the nominal length of the stage.
func (s Stage) TargetDurationSeconds() float64 { return stageTargets[s].durationSeconds }

// Next returns the stage that follows s, or "" after the last stage.
func (s Stage) Next() Stage { return stageTargets[s].next }

// Mastery summarises progression readiness for a stage.
type Mastery struct {
	Level                 string  `json:"level"`
	ThresholdComposite    float64 `json:"threshold_composite"`
	GapToThreshold        float64 `json:"gap_to_threshold"`
	ProgressionGatePassed bool    `json:"progression_gate_passed"`
	NextStage             *Stage  `json:"next_stage"`
	NextStageHint         string  `json:"next_stage_hint"`
}

// MetricsUsed records the normalised inputs and outcome details.
type MetricsUsed struct {
	Signals             map[string]float64 `json:"signals"`
	CadenceBPM          float64            `json:"cadence_bpm"`
	CadenceTargetBPM    float64            `json:"cadence_target_bpm"`
	CadenceTargetGapBPM float64            `json:"cadence_target_gap_bpm"`
	PitchStability      float64            `json:"pitch_stability"`
	AvgEnergy           float64            `json:"avg_energy"`
	Thresholds          Thresholds         `json:"thresholds"`
	Mastery             Mastery            `json:"mastery"`
	VoiceRatioStudent   *float64           `json:"voice_ratio_student,omitempty"`
	VoiceRatioGuru      *float64           `json:"voice_ratio_guru,omitempty"`
	VoiceRatioTotal     *float64           `json:"voice_ratio_total,omitempty"`
}

// StageResult is the evaluation of one stage.
type StageResult struct {
	Stage         Stage       `json:"stage"`
	LineageID     string      `json:"lineage_id"`
	GoldenProfile string      `json:"golden_profile"`
	Discipline    float64     `json:"discipline"`
	Resonance     float64     `json:"resonance"`
	Coherence     float64     `json:"coherence"`
	Composite     float64     `json:"composite"`
	PassesGolden  bool        `json:"passes_golden"`
	Feedback      []string    `json:"feedback"`
	MetricsUsed   MetricsUsed `json:"metrics_used"`
}

// EvaluateStage scores metrics for a stage under a lineage. Metrics are
// range-checked first.
func (r *Registry) EvaluateStage(stage Stage, m StageMetrics, lineage Lineage, profile string) (StageResult, error) {
	target, ok := stageTargets[stage]
	if !ok {
		return StageResult{}, fmt.Errorf("%w: %s", ErrUnsupportedStage, stage)
	}
	if err := m.Validate(); err != nil {
		return StageResult{}, err
	}

	discipline, resonance, coherence, signals := stageScores(stage, target, m)
	composite := lineage.Weights.Composite(discipline, resonance, coherence)
	thresholds := lineage.Thresholds.Offset(target.thresholdOffset)

	passes := profile == r.goldenProfile &&
		discipline >= thresholds.Discipline &&
		resonance >= thresholds.Resonance &&
		coherence >= thresholds.Coherence &&
		composite >= thresholds.Composite

	mastery := masteryFor(stage, composite, thresholds.Composite)

	used := MetricsUsed{
		Signals:             signals,
		CadenceBPM:          round(m.CadenceBPM, 2),
		CadenceTargetBPM:    TargetCadenceBPM,
		CadenceTargetGapBPM: round(math.Abs(m.CadenceBPM-TargetCadenceBPM), 2),
		PitchStability:      round(m.PitchStability, 3),
		AvgEnergy:           round(m.AvgEnergy, 3),
		Thresholds: Thresholds{
			Discipline: round(thresholds.Discipline, 3),
			Resonance:  round(thresholds.Resonance, 3),
			Coherence:  round(thresholds.Coherence, 3),
			Composite:  round(thresholds.Composite, 3),
		},
		Mastery: mastery,
	}
	if stage == StageCallResponse {
		student := round(studentVoice(m), 3)
		guru := round(guruVoice(m), 3)
		used.VoiceRatioStudent = &student
		used.VoiceRatioGuru = &guru
	} else {
		total := round(m.VoiceRatioTotal, 3)
		used.VoiceRatioTotal = &total
	}

	return StageResult{
		Stage:         stage,
		LineageID:     lineage.ID,
		GoldenProfile: profile,
		Discipline:    round(discipline, 3),
		Resonance:     round(resonance, 3),
		Coherence:     round(coherence, 3),
		Composite:     round(composite, 3),
		PassesGolden:  passes,
		Feedback:      feedbackFor(stage, discipline, resonance, coherence, m, thresholds),
		MetricsUsed:   used,
	}, nil
}

func stageScores(stage Stage, target stageTarget, m StageMetrics) (discipline, resonance, coherence float64, signals map[string]float64) {
	durationRatio := clamp01(m.DurationSeconds / target.durationSeconds)
	accuracy := cadenceAccuracy(m.CadenceBPM)
	energy := energyScore(m.AvgEnergy)
	voice := clamp01(m.VoiceRatioTotal)
	pitch := clamp01(m.PitchStability)
	consistency := clamp01(m.CadenceConsistency)

	switch stage {
	case StageGuided:
		discipline = clamp01(0.40*durationRatio + 0.30*voice + 0.30*consistency)
		resonance = clamp01(0.45*pitch + 0.35*energy + 0.20*accuracy)
		coherence = clamp01(0.60*pitch + 0.40*consistency)
		signals = map[string]float64{
			"duration_ratio":      round(durationRatio, 3),
			"voice_total":         round(voice, 3),
			"cadence_consistency": round(consistency, 3),
		}

	case StageCallResponse:
		student := studentVoice(m)
		guru := guruVoice(m)
		balance := clamp01(1 - math.Abs(student-0.6)/0.6)
		listening := clamp01(1 - guru/0.5)

		discipline = clamp01(0.35*durationRatio + 0.35*balance + 0.30*listening)
		resonance = clamp01(0.40*pitch + 0.35*accuracy + 0.25*energy)
		coherence = clamp01(0.45*pitch + 0.35*consistency + 0.20*student)
		signals = map[string]float64{
			"duration_ratio":       round(durationRatio, 3),
			"voice_student":        round(student, 3),
			"voice_guru":           round(guru, 3),
			"student_turn_balance": round(balance, 3),
			"guru_listening":       round(listening, 3),
		}

	default:
		discipline = clamp01(0.45*durationRatio + 0.35*voice + 0.20*consistency)
		resonance = clamp01(0.45*pitch + 0.35*energy + 0.20*voice)
		coherence = clamp01(0.40*pitch + 0.35*consistency + 0.25*accuracy)
		signals = map[string]float64{
			"duration_ratio":   round(durationRatio, 3),
			"voice_total":      round(voice, 3),
			"cadence_accuracy": round(accuracy, 3),
		}
	}
	return discipline, resonance, coherence, signals
}

func feedbackFor(stage Stage, discipline, resonance, coherence float64, m StageMetrics, t Thresholds) []string {
	var tips []string
	if discipline < t.Discipline {
		tips = append(tips, "Keep steadier practice windows and stay consistent through the full stage duration.")
	}
	if resonance < t.Resonance {
		tips = append(tips, "Match breath and vocal intensity to the track for stronger devotional resonance.")
	}
	if coherence < t.Coherence {
		tips = append(tips, "Focus on cleaner syllable transitions and steadier note-to-note flow.")
	}
	if m.CadenceConsistency < 0.65 {
		tips = append(tips, "Use a calmer tempo anchor; avoid rushing at phrase boundaries.")
	}
	if m.PitchStability < 0.65 {
		tips = append(tips, "Hold each phrase slightly longer before transitioning to improve pitch stability.")
	}
	if stage == StageCallResponse {
		if studentVoice(m) < 0.45 {
			tips = append(tips, "Increase voice presence during student turns in call-response.")
		}
		if guruVoice(m) > 0.35 {
			tips = append(tips, "Leave more space during guru turns before your response.")
		}
	}
	if len(tips) == 0 {
		return []string{defaultStrongTip}
	}
	if len(tips) > maxFeedbackTips {
		tips = tips[:maxFeedbackTips]
	}
	return tips
}

func masteryFor(stage Stage, composite, threshold float64) Mastery {
	level := MasteryEmerging
	switch {
	case composite >= threshold+masteryMargin:
		level = MasteryMastered
	case composite >= threshold:
		level = MasteryDeveloping
	}

	ready := composite >= threshold
	mastery := Mastery{
		Level:                 level,
		ThresholdComposite:    round(threshold, 3),
		GapToThreshold:        round(composite-threshold, 3),
		ProgressionGatePassed: ready,
		NextStageHint:         reinforceStageTip,
	}
	if next := stage.Next(); next != "" {
		mastery.NextStage = &next
		if ready {
			mastery.NextStageHint = fmt.Sprintf("Advance to %s with the same vocal stability focus.", next)
		}
	}
	return mastery
}

// cadenceAccuracy allows ±24 BPM around the golden tempo.
func cadenceAccuracy(bpm float64) float64 {
	return clamp01(1 - math.Abs(bpm-TargetCadenceBPM)/24)
}

// energyScore peaks at an average energy of 0.48.
func energyScore(avg float64) float64 {
	return clamp01(1 - math.Abs(avg-0.48)/0.48)
}

func studentVoice(m StageMetrics) float64 {
	if m.VoiceRatioStudent != nil {
		return *m.VoiceRatioStudent
	}
	return m.VoiceRatioTotal
}

func guruVoice(m StageMetrics) float64 {
	if m.VoiceRatioGuru != nil {
		return *m.VoiceRatioGuru
	}
	return clamp01(m.VoiceRatioTotal - studentVoice(m))
}
