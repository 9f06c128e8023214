package adaptation

import (
	"sort"
	"strings"

	"github.com/roach88/sadhana/internal/payload"
)

var (
	requiredTopLevel    = []string{"tempo_bpm", "guidance_intensity", "key_center", "reason", "adaptation_json"}
	requiredArrangement = []string{"drone_level", "percussion", "call_response"}
	allowedKeyCenters   = map[string]bool{"C": true, "D": true, "E": true, "F": true, "G": true, "A": true, "B": true}
)

// Contract violation codes.
const (
	ViolationAdaptationNotObject  = "adaptation_json_not_object"
	ViolationArrangementNotObject = "arrangement_not_object"
	ViolationCoachActionsMissing  = "coach_actions_missing"
	ViolationReasonTooShort       = "reason_too_short"
	ViolationTempoOutOfRange      = "tempo_out_of_range"
	ViolationGuidanceInvalid      = "guidance_invalid"
	ViolationKeyCenterInvalid     = "key_center_invalid"
)

const minReasonLength = 10

// VerifyContract checks the structural contract of a decision document.
// It returns whether the document passed and the ordered list of
// violation codes. A non-object adaptation_json stops the check early
// because nothing below it can be inspected.
func VerifyContract(doc payload.Document) (bool, []string) {
	var violations []string

	var missing []string
	for _, k := range requiredTopLevel {
		if !doc.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		violations = append(violations, "missing_top_level:"+strings.Join(missing, ","))
	}

	plan, ok := doc.Object("adaptation_json")
	if !ok {
		violations = append(violations, ViolationAdaptationNotObject)
		return false, violations
	}

	if arrangement, ok := plan.Object("arrangement"); !ok {
		violations = append(violations, ViolationArrangementNotObject)
	} else {
		var missingArr []string
		for _, k := range requiredArrangement {
			if arrangement[k] == nil {
				missingArr = append(missingArr, k)
			}
		}
		if len(missingArr) > 0 {
			sort.Strings(missingArr)
			violations = append(violations, "missing_arrangement:"+strings.Join(missingArr, ","))
		}
	}

	if actions, ok := plan["coach_actions"].([]any); !ok || len(actions) == 0 {
		violations = append(violations, ViolationCoachActionsMissing)
	}

	if reason, ok := doc.String("reason"); !ok || len([]rune(strings.TrimSpace(reason))) < minReasonLength {
		violations = append(violations, ViolationReasonTooShort)
	}

	return len(violations) == 0, violations
}

// QualityScore is the rubric score for a set of violations: 1.0 when
// clean, reduced by 0.2 per violation with the reduction capped at 0.8.
func QualityScore(violations []string) float64 {
	if len(violations) == 0 {
		return 1.0
	}
	penalty := min(0.8, 0.2*float64(len(violations)))
	return roundTo(max(0, 1.0-penalty), 3)
}

// checkBounds applies the value constraints an external scorer is told
// about. Rule-engine output satisfies them by construction.
func checkBounds(doc payload.Document) []string {
	var violations []string
	if tempo, ok := doc.Number("tempo_bpm"); !ok || tempo < MinTempoBPM || tempo > MaxTempoBPM {
		violations = append(violations, ViolationTempoOutOfRange)
	}
	if g, ok := doc.String("guidance_intensity"); !ok || !Guidance(strings.ToLower(g)).Valid() {
		violations = append(violations, ViolationGuidanceInvalid)
	}
	if k, ok := doc.String("key_center"); !ok || !allowedKeyCenters[strings.ToUpper(strings.TrimSpace(k))] {
		violations = append(violations, ViolationKeyCenterInvalid)
	}
	return violations
}
