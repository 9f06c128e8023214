package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
)

func TestValidateVoiceWindow(t *testing.T) {
	doc := payload.MustDecode(`{"cadence_bpm": 72, "practice_seconds": 180, "flow_score": 0.9, "vendor_tag": "x"}`)

	ev, err := Validate(TypeVoiceWindow, SchemaV1, doc)
	require.NoError(t, err)

	vw, ok := ev.(VoiceWindow)
	require.True(t, ok)
	assert.Equal(t, 72.0, vw.CadenceBPM)
	assert.Equal(t, 180.0, vw.PracticeSeconds)
	assert.Equal(t, 0.9, vw.Extensions["flow_score"])
	assert.Equal(t, "x", vw.Extensions["vendor_tag"])
	assert.NotContains(t, vw.Extensions, "cadence_bpm")
}

func TestValidateVoiceWindowFieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		fields []FieldError
	}{
		{
			name: "missing both",
			raw:  `{}`,
			fields: []FieldError{
				{Field: "cadence_bpm", Reason: "required"},
				{Field: "practice_seconds", Reason: "required"},
			},
		},
		{
			name:   "boolean is not numeric",
			raw:    `{"cadence_bpm": true, "practice_seconds": 10}`,
			fields: []FieldError{{Field: "cadence_bpm", Reason: "must be numeric"}},
		},
		{
			name:   "string is not numeric",
			raw:    `{"cadence_bpm": 70, "practice_seconds": "10"}`,
			fields: []FieldError{{Field: "practice_seconds", Reason: "must be numeric"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(TypeVoiceWindow, SchemaV1, payload.MustDecode(tt.raw))
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.fields, ve.Fields)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidatePartnerSignal(t *testing.T) {
	_, err := Validate(TypePartnerSignal, SchemaV1, payload.MustDecode(`{"heart_rate": 90}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal_type")

	ev, err := Validate(TypePartnerSignal, SchemaV1, payload.MustDecode(`{"signal_type": "hr", "heart_rate": 90}`))
	require.NoError(t, err)
	ps := ev.(PartnerSignal)
	assert.Equal(t, "hr", ps.SignalType)
	assert.Equal(t, 90.0, ps.Extra()["heart_rate"])
}

func TestValidateStageEval(t *testing.T) {
	_, err := Validate(TypeStageEval, SchemaV1, payload.Document{})
	require.Error(t, err)

	ev, err := Validate(TypeStageEval, SchemaV1, payload.Document{"stage": "guided"})
	require.NoError(t, err)
	assert.Equal(t, "guided", ev.(StageEval).Stage)
}

func TestValidateOpaqueTypes(t *testing.T) {
	ev, err := Validate("breath_marker", SchemaV1, payload.Document{"anything": 1})
	require.NoError(t, err)
	assert.Equal(t, "breath_marker", ev.EventType())
	assert.Equal(t, 1, ev.Extra()["anything"])
}

func TestValidateUnsupportedSchemaVersion(t *testing.T) {
	_, err := Validate("breath_marker", "v2", payload.Document{})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "schema_version", ve.Fields[0].Field)
	assert.Equal(t, []string{"v1"}, SupportedSchemaVersions())
}
