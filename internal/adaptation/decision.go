package adaptation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/sadhana/internal/payload"
)

// Guidance is how much coaching the app layers over the track.
type Guidance string

const (
	GuidanceLow    Guidance = "low"
	GuidanceMedium Guidance = "medium"
	GuidanceHigh   Guidance = "high"
)

// Valid reports whether g is one of the three known levels.
func (g Guidance) Valid() bool {
	switch g {
	case GuidanceLow, GuidanceMedium, GuidanceHigh:
		return true
	}
	return false
}

// Source records which path produced a persisted decision.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceScorer        Source = "scorer"
)

// Snapshot is the signal context a decision is derived from.
type Snapshot struct {
	Mood               string   `json:"mood,omitempty"`
	CadenceBPM         *float64 `json:"cadence_bpm,omitempty"`
	PronunciationScore *float64 `json:"pronunciation_score,omitempty"`
	FlowScore          *float64 `json:"flow_score,omitempty"`
	HeartRate          *float64 `json:"heart_rate,omitempty"`
	NoiseLevelDB       *float64 `json:"noise_level_db,omitempty"`
}

// SnapshotFromSignals builds a snapshot from payload signals with mood
// taken from the caller.
func SnapshotFromSignals(sig payload.Signals, mood string) Snapshot {
	return Snapshot{
		Mood:               mood,
		CadenceBPM:         sig.CadenceBPM,
		PronunciationScore: sig.PronunciationScore,
		FlowScore:          sig.FlowScore,
		HeartRate:          sig.HeartRate,
		NoiseLevelDB:       sig.NoiseLevelDB,
	}
}

// Arrangement controls the accompaniment layers.
type Arrangement struct {
	DroneLevel   string `json:"drone_level"`
	Percussion   string `json:"percussion"`
	CallResponse bool   `json:"call_response"`
}

// Explainability is attached to every persisted decision.
type Explainability struct {
	Source             Source   `json:"source"`
	QualityScore       float64  `json:"quality_score"`
	FallbackReason     string   `json:"fallback_reason,omitempty"`
	ContractViolations []string `json:"contract_violations,omitempty"`
}

// Plan is the structured adaptation_json of a decision.
type Plan struct {
	Arrangement    Arrangement     `json:"arrangement"`
	CoachActions   []string        `json:"coach_actions"`
	Explainability *Explainability `json:"explainability,omitempty"`
}

// Decision is a complete adaptation decision.
type Decision struct {
	TempoBPM          int      `json:"tempo_bpm"`
	GuidanceIntensity Guidance `json:"guidance_intensity"`
	KeyCenter         string   `json:"key_center"`
	Reason            string   `json:"reason"`
	AdaptationJSON    Plan     `json:"adaptation_json"`
}

// Document renders d as the generic document shape VerifyContract checks.
func (d Decision) Document() payload.Document {
	raw, err := json.Marshal(d)
	if err != nil {
		// Decision holds only JSON-safe fields.
		panic(fmt.Sprintf("adaptation: marshal decision: %v", err))
	}
	return payload.MustDecode(string(raw))
}

// decisionFromDocument converts a verified candidate into a Decision.
// Callers must run VerifyContract first.
func decisionFromDocument(doc payload.Document) (Decision, error) {
	tempo, ok := doc.Number("tempo_bpm")
	if !ok {
		return Decision{}, fmt.Errorf("tempo_bpm is not numeric")
	}
	guidance, _ := doc.String("guidance_intensity")
	key, _ := doc.String("key_center")
	reason, _ := doc.String("reason")

	plan, _ := doc.Object("adaptation_json")
	arrangement, _ := plan.Object("arrangement")

	var p Plan
	if p.Arrangement.DroneLevel, ok = arrangement.String("drone_level"); !ok {
		return Decision{}, fmt.Errorf("drone_level is not a string")
	}
	if p.Arrangement.Percussion, ok = arrangement.String("percussion"); !ok {
		return Decision{}, fmt.Errorf("percussion is not a string")
	}
	p.Arrangement.CallResponse, _ = arrangement.Bool("call_response")
	if actions, ok := plan["coach_actions"].([]any); ok {
		for _, a := range actions {
			p.CoachActions = append(p.CoachActions, fmt.Sprint(a))
		}
	}

	return Decision{
		TempoBPM:          int(math.RoundToEven(tempo)),
		GuidanceIntensity: Guidance(strings.ToLower(guidance)),
		KeyCenter:         strings.ToUpper(strings.TrimSpace(key)),
		Reason:            strings.TrimSpace(reason),
		AdaptationJSON:    p,
	}, nil
}
