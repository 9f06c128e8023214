package bhav

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryLoads(t *testing.T) {
	r, err := LoadRegistry(lineagesCUE)
	require.NoError(t, err)

	ids := make([]string, 0, 3)
	for _, l := range r.Lineages() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"vaishnavism", "sadhguru", "shree_vallabhacharya"}, ids)
	assert.Equal(t, "maha_mantra_v1", r.GoldenProfile())
}

func TestResolveAliases(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name string
		want string
	}{
		{"vaishnavism", "vaishnavism"},
		{"vashnavism", "vaishnavism"},
		{"  Vaishnava ", "vaishnavism"},
		{"", "vaishnavism"},
		{"Isha Foundation", "sadhguru"},
		{"isha-foundation", "sadhguru"},
		{"PushtiMarg", "shree_vallabhacharya"},
		{"ｓａｄｈｇｕｒｕ", "sadhguru"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := r.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.ID)
		})
	}
}

func TestResolveUnknownLineage(t *testing.T) {
	_, err := DefaultRegistry().Resolve("zen")
	require.ErrorIs(t, err, ErrUnknownLineage)
}

func TestResolveReturnsEqualProfilesForAliases(t *testing.T) {
	r := DefaultRegistry()
	a, err := r.Resolve("vaishnavism")
	require.NoError(t, err)
	b, err := r.Resolve("vashnavism")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCheckProfile(t *testing.T) {
	r := DefaultRegistry()

	p, err := r.CheckProfile("")
	require.NoError(t, err)
	assert.Equal(t, "maha_mantra_v1", p)

	p, err = r.CheckProfile("maha_mantra_v1")
	require.NoError(t, err)
	assert.Equal(t, "maha_mantra_v1", p)

	_, err = r.CheckProfile("gayatri_v1")
	require.ErrorIs(t, err, ErrUnsupportedProfile)
}

func TestLoadRegistryRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		wantErr string
	}{
		{
			name:    "threshold out of range",
			old:     "composite: 0.75}",
			new:     "composite: 1.75}",
			wantErr: "lineage registry",
		},
		{
			name:    "weights do not sum to one",
			old:     "weights: {discipline: 0.34",
			new:     "weights: {discipline: 0.44",
			wantErr: "weights sum to",
		},
		{
			name:    "alias claimed twice",
			old:     `"isha",`,
			new:     `"vaishnava",`,
			wantErr: "claimed by",
		},
		{
			name:    "unknown default lineage",
			old:     `default_lineage: "vaishnavism"`,
			new:     `default_lineage: "zen"`,
			wantErr: "default lineage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := strings.Replace(lineagesCUE, tt.old, tt.new, 1)
			require.NotEqual(t, lineagesCUE, src, "fixture replacement did not apply")

			_, err := LoadRegistry(src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistryLineagesIsACopy(t *testing.T) {
	r := DefaultRegistry()
	ls := r.Lineages()
	ls[0].ID = "mutated"

	l, err := r.Resolve("vaishnavism")
	require.NoError(t, err)
	assert.Equal(t, "vaishnavism", l.ID)
}
