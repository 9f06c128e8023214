package payload

// Well-known signal keys read from event payloads regardless of event type.
const (
	KeyCadenceBPM         = "cadence_bpm"
	KeyPracticeSeconds    = "practice_seconds"
	KeyPronunciationScore = "pronunciation_score"
	KeyFlowScore          = "flow_score"
	KeyHeartRate          = "heart_rate"
	KeyNoiseLevelDB       = "noise_level_db"
	KeyAdaptationHelpful  = "adaptation_helpful"
	KeyMood               = "mood"
)

// Signals is the subset of a payload the adaptation engine and the
// summariser care about. Absent or non-numeric values stay nil.
// AdaptationHelpful is set for any non-null flag, by Truthy.
type Signals struct {
	Mood               string
	CadenceBPM         *float64
	PracticeSeconds    *float64
	PronunciationScore *float64
	FlowScore          *float64
	HeartRate          *float64
	NoiseLevelDB       *float64
	AdaptationHelpful  *bool
}

// ExtractSignals reads the well-known keys from doc.
func ExtractSignals(doc Document) Signals {
	var s Signals
	s.Mood, _ = doc.String(KeyMood)
	s.CadenceBPM = numberPtr(doc, KeyCadenceBPM)
	s.PracticeSeconds = numberPtr(doc, KeyPracticeSeconds)
	s.PronunciationScore = numberPtr(doc, KeyPronunciationScore)
	s.FlowScore = numberPtr(doc, KeyFlowScore)
	s.HeartRate = numberPtr(doc, KeyHeartRate)
	s.NoiseLevelDB = numberPtr(doc, KeyNoiseLevelDB)
	if v, ok := doc[KeyAdaptationHelpful]; ok && v != nil {
		b := Truthy(v)
		s.AdaptationHelpful = &b
	}
	return s
}

// Truthy reports JSON-ish truthiness: false, zero, the empty string and
// empty arrays or objects are false; everything else non-null is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Document:
		return len(t) > 0
	}
	if f, ok := AsNumber(v); ok {
		return f != 0
	}
	return true
}

func numberPtr(doc Document, key string) *float64 {
	f, ok := doc.Number(key)
	if !ok {
		return nil
	}
	return &f
}

// Float returns a pointer to f. Handy for building optional signals.
func Float(f float64) *float64 { return &f }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
