package adaptation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
)

func TestDecideRules(t *testing.T) {
	f := payload.Float

	tests := []struct {
		name     string
		snap     Snapshot
		tempo    int
		guidance Guidance
		key      string
		reason   string
	}{
		{
			name:     "defaults",
			snap:     Snapshot{},
			tempo:    72,
			guidance: GuidanceMedium,
			key:      "C",
			reason:   "default devotional adaptation",
		},
		{
			name:     "cadence clamps high",
			snap:     Snapshot{CadenceBPM: f(150)},
			tempo:    128,
			guidance: GuidanceMedium,
			key:      "C",
			reason:   "cadence match 128 bpm",
		},
		{
			name:     "cadence clamps low",
			snap:     Snapshot{CadenceBPM: f(20)},
			tempo:    48,
			guidance: GuidanceMedium,
			key:      "C",
			reason:   "cadence match 48 bpm",
		},
		{
			name:     "cadence rounds half to even",
			snap:     Snapshot{CadenceBPM: f(72.5)},
			tempo:    72,
			guidance: GuidanceMedium,
			key:      "C",
			reason:   "cadence match 72 bpm",
		},
		{
			name:     "anxious mood is case insensitive",
			snap:     Snapshot{Mood: "Anxious"},
			tempo:    64,
			guidance: GuidanceHigh,
			key:      "D",
			reason:   "calming adjustment for anxious mood",
		},
		{
			name:     "joyful ceiling",
			snap:     Snapshot{Mood: "joyful", CadenceBPM: f(104)},
			tempo:    108,
			guidance: GuidanceLow,
			key:      "G",
			reason:   "cadence match 104 bpm; uplift adjustment for joyful mood",
		},
		{
			name:     "neutral mood",
			snap:     Snapshot{Mood: "calm"},
			tempo:    72,
			guidance: GuidanceMedium,
			key:      "C",
			reason:   "neutral mood profile",
		},
		{
			name:     "low heart rate",
			snap:     Snapshot{HeartRate: f(55)},
			tempo:    76,
			guidance: GuidanceMedium,
			key:      "C",
			reason:   "heart rate low, adding gentle momentum",
		},
		{
			name:     "noise raises guidance",
			snap:     Snapshot{NoiseLevelDB: f(70)},
			tempo:    72,
			guidance: GuidanceHigh,
			key:      "C",
			reason:   "high ambient noise, increasing guidance intensity",
		},
		{
			name:     "pronunciation below threshold",
			snap:     Snapshot{PronunciationScore: f(0.5)},
			tempo:    72,
			guidance: GuidanceHigh,
			key:      "C",
			reason:   "pronunciation below threshold",
		},
		{
			name:     "strong flow lowers guidance",
			snap:     Snapshot{FlowScore: f(0.9)},
			tempo:    72,
			guidance: GuidanceLow,
			key:      "C",
			reason:   "strong flow, reducing interruptions",
		},
		{
			name:     "strong flow cannot override high guidance",
			snap:     Snapshot{FlowScore: f(0.9), NoiseLevelDB: f(80)},
			tempo:    72,
			guidance: GuidanceHigh,
			key:      "C",
			reason:   "high ambient noise, increasing guidance intensity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.snap)
			assert.Equal(t, tt.tempo, d.TempoBPM)
			assert.Equal(t, tt.guidance, d.GuidanceIntensity)
			assert.Equal(t, tt.key, d.KeyCenter)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecideArrangement(t *testing.T) {
	soft := Decide(Snapshot{CadenceBPM: payload.Float(70)})
	assert.Equal(t, "tabla_soft", soft.AdaptationJSON.Arrangement.Percussion)
	assert.False(t, soft.AdaptationJSON.Arrangement.CallResponse)
	assert.Equal(t, []string{"continue_flow", "hide_hint"}, soft.AdaptationJSON.CoachActions)

	groove := Decide(Snapshot{CadenceBPM: payload.Float(96), NoiseLevelDB: payload.Float(90)})
	assert.Equal(t, "tabla_groove", groove.AdaptationJSON.Arrangement.Percussion)
	assert.True(t, groove.AdaptationJSON.Arrangement.CallResponse)
	assert.Equal(t, []string{"repeat_line", "show_pronunciation_hint"}, groove.AdaptationJSON.CoachActions)
	assert.Equal(t, "medium", groove.AdaptationJSON.Arrangement.DroneLevel)
}

func TestDecideIsDeterministic(t *testing.T) {
	snap := Snapshot{
		Mood:               "stressed",
		CadenceBPM:         payload.Float(81.2),
		PronunciationScore: payload.Float(0.7),
		FlowScore:          payload.Float(0.6),
		HeartRate:          payload.Float(101),
		NoiseLevelDB:       payload.Float(40),
	}
	first := Decide(snap)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Decide(snap))
	}
}

func TestAnxiousMoodWithElevatedHeartRateLowersTempo(t *testing.T) {
	cadences := []*float64{nil}
	for c := 64.0; c <= 128; c += 4 {
		cadences = append(cadences, payload.Float(c))
	}

	for _, cadence := range cadences {
		neutral := Decide(Snapshot{Mood: "calm", CadenceBPM: cadence, HeartRate: payload.Float(120)})
		anxious := Decide(Snapshot{Mood: "anxious", CadenceBPM: cadence, HeartRate: payload.Float(120)})

		assert.Less(t, anxious.TempoBPM, neutral.TempoBPM, "cadence=%v", cadence)
		assert.Equal(t, GuidanceHigh, anxious.GuidanceIntensity)
	}
}

func TestDecideAlwaysSatisfiesContract(t *testing.T) {
	moods := []string{"", "anxious", "joyful", "calm"}
	for _, mood := range moods {
		for hr := 40.0; hr <= 140; hr += 25 {
			d := Decide(Snapshot{Mood: mood, HeartRate: payload.Float(hr)})
			ok, violations := VerifyContract(d.Document())
			assert.True(t, ok, "mood=%q hr=%v violations=%v", mood, hr, violations)
		}
	}
}
