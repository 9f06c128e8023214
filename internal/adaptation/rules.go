package adaptation

import (
	"fmt"
	"math"
	"strings"
)

// Tempo bounds for any decision.
const (
	MinTempoBPM     = 48
	MaxTempoBPM     = 128
	DefaultTempoBPM = 72
	DefaultKey      = "C"
)

const defaultReason = "default devotional adaptation"

var (
	calmingMoods = map[string]bool{"anxious": true, "stressed": true, "overwhelmed": true}
	upliftMoods  = map[string]bool{"joyful": true, "energized": true}
)

// Decide applies the deterministic rule set to a snapshot. Each rule is
// evaluated in a fixed order and contributes one reason clause when it
// fires.
func Decide(s Snapshot) Decision {
	tempo := DefaultTempoBPM
	key := DefaultKey
	guidance := GuidanceMedium
	var reasons []string

	if s.CadenceBPM != nil {
		tempo = clampInt(int(math.RoundToEven(*s.CadenceBPM)), MinTempoBPM, MaxTempoBPM)
		reasons = append(reasons, fmt.Sprintf("cadence match %d bpm", tempo))
	}

	if mood := strings.ToLower(strings.TrimSpace(s.Mood)); mood != "" {
		switch {
		case calmingMoods[mood]:
			tempo = max(52, tempo-8)
			guidance = GuidanceHigh
			key = "D"
			reasons = append(reasons, "calming adjustment for anxious mood")
		case upliftMoods[mood]:
			tempo = min(108, tempo+8)
			guidance = GuidanceLow
			key = "G"
			reasons = append(reasons, "uplift adjustment for joyful mood")
		default:
			reasons = append(reasons, "neutral mood profile")
		}
	}

	if s.HeartRate != nil {
		switch {
		case *s.HeartRate > 110:
			tempo = max(56, tempo-6)
			guidance = GuidanceHigh
			reasons = append(reasons, "heart rate elevated, easing tempo")
		case *s.HeartRate < 60:
			tempo = min(96, tempo+4)
			reasons = append(reasons, "heart rate low, adding gentle momentum")
		}
	}

	if s.NoiseLevelDB != nil && *s.NoiseLevelDB > 65 {
		guidance = GuidanceHigh
		reasons = append(reasons, "high ambient noise, increasing guidance intensity")
	}

	if s.PronunciationScore != nil && *s.PronunciationScore < 0.65 {
		guidance = GuidanceHigh
		reasons = append(reasons, "pronunciation below threshold")
	}

	if s.FlowScore != nil && *s.FlowScore > 0.8 && guidance != GuidanceHigh {
		guidance = GuidanceLow
		reasons = append(reasons, "strong flow, reducing interruptions")
	}

	reason := defaultReason
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return Decision{
		TempoBPM:          tempo,
		GuidanceIntensity: guidance,
		KeyCenter:         key,
		Reason:            reason,
		AdaptationJSON:    planFor(tempo, guidance),
	}
}

func planFor(tempo int, guidance Guidance) Plan {
	percussion := "tabla_groove"
	if tempo < 80 {
		percussion = "tabla_soft"
	}
	high := guidance == GuidanceHigh

	actions := []string{"continue_flow", "hide_hint"}
	if high {
		actions = []string{"repeat_line", "show_pronunciation_hint"}
	}

	return Plan{
		Arrangement: Arrangement{
			DroneLevel:   "medium",
			Percussion:   percussion,
			CallResponse: high,
		},
		CoachActions: actions,
	}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
