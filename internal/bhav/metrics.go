package bhav

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/sadhana/internal/contract"
)

// metricsValidate checks range tags on stage metrics and chunk features.
// Field errors use the JSON field name.
var metricsValidate *validator.Validate

func init() {
	metricsValidate = validator.New()
	metricsValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// StageMetrics are the aggregated audio metrics for one stage.
type StageMetrics struct {
	DurationSeconds    float64  `json:"duration_seconds" yaml:"duration_seconds" validate:"gte=1,lte=1800"`
	VoiceRatioTotal    float64  `json:"voice_ratio_total" yaml:"voice_ratio_total" validate:"gte=0,lte=1"`
	VoiceRatioStudent  *float64 `json:"voice_ratio_student,omitempty" yaml:"voice_ratio_student,omitempty" validate:"omitempty,gte=0,lte=1"`
	VoiceRatioGuru     *float64 `json:"voice_ratio_guru,omitempty" yaml:"voice_ratio_guru,omitempty" validate:"omitempty,gte=0,lte=1"`
	PitchStability     float64  `json:"pitch_stability" yaml:"pitch_stability" validate:"gte=0,lte=1"`
	CadenceBPM         float64  `json:"cadence_bpm" yaml:"cadence_bpm" validate:"gte=20,lte=220"`
	CadenceConsistency float64  `json:"cadence_consistency" yaml:"cadence_consistency" validate:"gte=0,lte=1"`
	AvgEnergy          float64  `json:"avg_energy" yaml:"avg_energy" validate:"gte=0,lte=1"`
}

// MetricsError lists the out-of-range metric fields.
type MetricsError struct {
	Fields []contract.FieldError
}

func (e *MetricsError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "invalid metrics: " + strings.Join(parts, "; ")
}

// Validate checks every metric against its allowed range.
func (m StageMetrics) Validate() error {
	return validateStruct(m)
}

func validateStruct(v any) error {
	err := metricsValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate metrics: %w", err)
	}
	out := &MetricsError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, contract.FieldError{
			Field:  fe.Field(),
			Reason: fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param()),
		})
	}
	return out
}
