package search

import (
	"math"
	"sort"

	"github.com/llamaha/sagitta-sub001/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is the value used by most hybrid search engines.
const DefaultRRFConstant = 60

// dbsfSigmas is how many standard deviations around the mean map to [0,1].
const dbsfSigmas = 3.0

// FusionMethod selects how prefetch lists are combined.
type FusionMethod string

const (
	// FusionRRF is Reciprocal Rank Fusion: Σ 1/(k + rank).
	FusionRRF FusionMethod = "rrf"
	// FusionDBSF is Distribution-Based Score Fusion: per-list scores are
	// normalized with mean ± 3σ, clipped to [0,1], and summed.
	FusionDBSF FusionMethod = "dbsf"
)

// ParseFusion converts a config string to a FusionMethod.
func ParseFusion(s string) (FusionMethod, bool) {
	switch FusionMethod(s) {
	case FusionRRF, FusionDBSF:
		return FusionMethod(s), true
	default:
		return "", false
	}
}

// FusedResult is one point after fusion.
type FusedResult struct {
	ID      string
	Score   float64
	Payload store.Payload
	// Ranks holds the 1-based rank per input list, 0 when absent.
	Ranks []int
}

// InLists counts the lists the point appeared in.
func (r *FusedResult) InLists() int {
	n := 0
	for _, rank := range r.Ranks {
		if rank > 0 {
			n++
		}
	}
	return n
}

// Fuser combines ranked lists into one.
type Fuser struct {
	Method FusionMethod
	K      int
}

// NewFuser creates a fuser. k <= 0 selects DefaultRRFConstant.
func NewFuser(method FusionMethod, k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if method == "" {
		method = FusionDBSF
	}
	return &Fuser{Method: method, K: k}
}

// Ceiling is the highest score fusing n lists can produce.
func (f *Fuser) Ceiling(n int) float64 {
	if f.Method == FusionRRF {
		return float64(n) / float64(f.K+1)
	}
	return float64(n)
}

// Fuse merges lists, each already sorted best first. Results are sorted by
// score desc, then by the number of lists they appear in, then by id.
func (f *Fuser) Fuse(lists ...[]*store.ScoredPoint) []*FusedResult {
	fused := make(map[string]*FusedResult)
	get := func(p *store.ScoredPoint) *FusedResult {
		r, ok := fused[p.ID]
		if !ok {
			r = &FusedResult{ID: p.ID, Payload: p.Payload, Ranks: make([]int, len(lists))}
			fused[p.ID] = r
		}
		return r
	}

	for li, list := range lists {
		var norm []float64
		if f.Method == FusionDBSF {
			norm = normalizeDistribution(list)
		}
		for rank, p := range list {
			r := get(p)
			if r.Ranks[li] != 0 {
				continue
			}
			r.Ranks[li] = rank + 1
			if f.Method == FusionRRF {
				r.Score += 1.0 / float64(f.K+rank+1)
			} else {
				r.Score += norm[rank]
			}
		}
	}

	results := make([]*FusedResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InLists() != b.InLists() {
			return a.InLists() > b.InLists()
		}
		return a.ID < b.ID
	})
	return results
}

// normalizeDistribution maps scores to [0,1] using mean ± 3σ as the range.
// A list without variance (including a single point) maps to 1.0.
func normalizeDistribution(list []*store.ScoredPoint) []float64 {
	out := make([]float64, len(list))
	if len(list) == 0 {
		return out
	}

	var sum float64
	for _, p := range list {
		sum += float64(p.Score)
	}
	mean := sum / float64(len(list))

	var sq float64
	for _, p := range list {
		d := float64(p.Score) - mean
		sq += d * d
	}
	sigma := math.Sqrt(sq / float64(len(list)))

	if sigma == 0 {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}

	lo := mean - dbsfSigmas*sigma
	hi := mean + dbsfSigmas*sigma
	for i, p := range list {
		v := (float64(p.Score) - lo) / (hi - lo)
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}
