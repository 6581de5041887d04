package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// Profile bundles the knobs of a query.
type Profile struct {
	Name             string
	Fusion           FusionMethod
	DenseMultiplier  int
	SparseMultiplier int
	FilenameBoost    float64
	// ScoreThreshold drops results whose fused score is below this fraction
	// of the fusion ceiling. Zero disables it.
	ScoreThreshold float64
}

var profiles = map[string]Profile{
	"default":     {Name: "default", Fusion: FusionDBSF, DenseMultiplier: 4, SparseMultiplier: 6, FilenameBoost: 2.0},
	"code_search": {Name: "code_search", Fusion: FusionRRF, DenseMultiplier: 4, SparseMultiplier: 6, FilenameBoost: 3.0, ScoreThreshold: 0.1},
	"rrf":         {Name: "rrf", Fusion: FusionRRF, DenseMultiplier: 5, SparseMultiplier: 7, FilenameBoost: 2.0},
	"document":    {Name: "document", Fusion: FusionDBSF, DenseMultiplier: 3, SparseMultiplier: 4, FilenameBoost: 1.5},
	"dbsf":        {Name: "dbsf", Fusion: FusionDBSF, DenseMultiplier: 4, SparseMultiplier: 6, FilenameBoost: 2.0},
}

// DefaultProfile is used when no profile is configured.
func DefaultProfile() Profile { return profiles["default"] }

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns the named profile; empty selects the default.
func LookupProfile(name string) (Profile, error) {
	if name == "" {
		return DefaultProfile(), nil
	}
	p, ok := profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, errors.ValidationError(fmt.Sprintf("unknown search profile %q", name), nil).
			WithSuggestion("Valid profiles: " + strings.Join(ProfileNames(), ", "))
	}
	return p, nil
}

// Overrides replace profile values when non-zero.
type Overrides struct {
	Fusion           string
	DenseMultiplier  int
	SparseMultiplier int
	FilenameBoost    float64
	ScoreThreshold   float64
}

// Apply returns p with the non-zero overrides applied.
func (p Profile) Apply(o Overrides) (Profile, error) {
	if o.Fusion != "" {
		m, ok := ParseFusion(strings.ToLower(o.Fusion))
		if !ok {
			return p, errors.ValidationError(fmt.Sprintf("unknown fusion method %q", o.Fusion), nil)
		}
		p.Fusion = m
	}
	if o.DenseMultiplier > 0 {
		p.DenseMultiplier = o.DenseMultiplier
	}
	if o.SparseMultiplier > 0 {
		p.SparseMultiplier = o.SparseMultiplier
	}
	if o.FilenameBoost > 0 {
		p.FilenameBoost = o.FilenameBoost
	}
	if o.ScoreThreshold > 0 {
		p.ScoreThreshold = o.ScoreThreshold
	}
	return p, nil
}
