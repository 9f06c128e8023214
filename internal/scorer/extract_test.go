package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/bhav"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"raw", `{"tempo_bpm": 72}`},
		{"fenced with tag", "Here you go:\n```json\n{\"tempo_bpm\": 72}\n```\nThanks."},
		{"fenced without tag", "```\n{\"tempo_bpm\": 72}\n```"},
		{"braces in prose", `Sure. {"tempo_bpm": 72} Hope that helps.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ExtractJSON(tt.text)
			require.NoError(t, err)
			n, ok := doc.Number("tempo_bpm")
			require.True(t, ok)
			assert.Equal(t, 72.0, n)
		})
	}
}

func TestExtractJSONRejectsNonObjects(t *testing.T) {
	for _, text := range []string{"no json here", "[1, 2, 3]", "{}", "{not json}"} {
		_, err := ExtractJSON(text)
		assert.ErrorIs(t, err, bhav.ErrNonJSONResponse, text)
	}
}
