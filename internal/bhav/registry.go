package bhav

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/unicode/norm"
)

//go:embed lineages.cue
var lineagesCUE string

var (
	// ErrUnknownLineage is returned when a lineage name matches no alias.
	ErrUnknownLineage = errors.New("unsupported lineage")
	// ErrUnsupportedProfile is returned for golden profiles other than the registry's.
	ErrUnsupportedProfile = errors.New("unsupported golden profile")
)

// Weights blend the three sub-scores into a composite.
type Weights struct {
	Discipline float64 `json:"discipline"`
	Resonance  float64 `json:"resonance"`
	Coherence  float64 `json:"coherence"`
}

// Composite returns the weighted blend, clamped to [0,1].
func (w Weights) Composite(discipline, resonance, coherence float64) float64 {
	return clamp01(w.Discipline*discipline + w.Resonance*resonance + w.Coherence*coherence)
}

// Thresholds are the minimum scores for a golden-profile pass.
type Thresholds struct {
	Discipline float64 `json:"discipline"`
	Resonance  float64 `json:"resonance"`
	Coherence  float64 `json:"coherence"`
	Composite  float64 `json:"composite"`
}

// Offset shifts every threshold by delta, clamping to [0,1].
func (t Thresholds) Offset(delta float64) Thresholds {
	return Thresholds{
		Discipline: clamp01(t.Discipline + delta),
		Resonance:  clamp01(t.Resonance + delta),
		Coherence:  clamp01(t.Coherence + delta),
		Composite:  clamp01(t.Composite + delta),
	}
}

// Lineage is an immutable scoring profile.
type Lineage struct {
	ID            string     `json:"id"`
	Aliases       []string   `json:"aliases"`
	MantraAliases []string   `json:"mantra_aliases"`
	Thresholds    Thresholds `json:"thresholds"`
	Weights       Weights    `json:"weights"`
}

// MatchesMantra reports whether mantraKey is one of the lineage's mantras.
func (l Lineage) MatchesMantra(mantraKey string) bool {
	key := strings.ToLower(strings.TrimSpace(mantraKey))
	return key != "" && slices.Contains(l.MantraAliases, key)
}

// Registry resolves lineage names and validates golden profiles.
type Registry struct {
	lineages      []Lineage
	byAlias       map[string]int
	defaultID     string
	goldenProfile string
}

type registryDoc struct {
	DefaultLineage string    `json:"default_lineage"`
	GoldenProfile  string    `json:"golden_profile"`
	Lineages       []Lineage `json:"lineages"`
}

// LoadRegistry compiles a CUE registry document. Besides the constraints
// declared in CUE, weights must sum to 1 and aliases must be unique
// across lineages.
func LoadRegistry(src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("lineages.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile lineage registry: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate lineage registry: %w", err)
	}

	var doc registryDoc
	if err := v.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode lineage registry: %w", err)
	}
	if len(doc.Lineages) == 0 {
		return nil, fmt.Errorf("lineage registry: no lineages declared")
	}

	r := &Registry{
		byAlias:       make(map[string]int),
		defaultID:     doc.DefaultLineage,
		goldenProfile: doc.GoldenProfile,
	}
	for i, l := range doc.Lineages {
		sum := l.Weights.Discipline + l.Weights.Resonance + l.Weights.Coherence
		if math.Abs(sum-1) > 1e-9 {
			return nil, fmt.Errorf("lineage %q: weights sum to %v, want 1", l.ID, sum)
		}
		for _, alias := range append([]string{l.ID}, l.Aliases...) {
			key := normalizeName(alias)
			if prev, ok := r.byAlias[key]; ok && prev != i {
				return nil, fmt.Errorf("lineage alias %q claimed by %q and %q", alias, doc.Lineages[prev].ID, l.ID)
			}
			r.byAlias[key] = i
		}
		r.lineages = append(r.lineages, l)
	}
	if _, ok := r.byAlias[normalizeName(r.defaultID)]; !ok {
		return nil, fmt.Errorf("default lineage %q is not declared", r.defaultID)
	}
	return r, nil
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return LoadRegistry(lineagesCUE)
})

// DefaultRegistry returns the embedded registry. It panics if the
// embedded document is invalid, which tests guard against.
func DefaultRegistry() *Registry {
	r, err := defaultRegistry()
	if err != nil {
		panic(fmt.Sprintf("bhav: embedded lineage registry: %v", err))
	}
	return r
}

// Resolve maps a lineage name or alias to its profile. An empty name
// resolves to the default lineage.
func (r *Registry) Resolve(name string) (Lineage, error) {
	key := normalizeName(name)
	if key == "" {
		key = normalizeName(r.defaultID)
	}
	i, ok := r.byAlias[key]
	if !ok {
		return Lineage{}, fmt.Errorf("%w: %s", ErrUnknownLineage, name)
	}
	return r.lineages[i], nil
}

// GoldenProfile is the only profile the registry scores against.
func (r *Registry) GoldenProfile() string { return r.goldenProfile }

// CheckProfile returns the effective profile name, defaulting when empty.
func (r *Registry) CheckProfile(profile string) (string, error) {
	p := strings.TrimSpace(profile)
	if p == "" {
		return r.goldenProfile, nil
	}
	if p != r.goldenProfile {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProfile, profile)
	}
	return p, nil
}

// Lineages returns every declared lineage in declaration order.
func (r *Registry) Lineages() []Lineage {
	return slices.Clone(r.lineages)
}

// normalizeName folds user input for alias lookup: NFKC, lower-case,
// trimmed, with spaces and hyphens as underscores.
func normalizeName(s string) string {
	s = strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}

// round mirrors half-to-even rounding at the given decimal places.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}
