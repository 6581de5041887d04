package search

import (
	"path"
	"sort"
	"strings"
)

// filenameNudgeRate scales (boost - 1) into the multiplicative nudge given
// to results whose path matches a filename-shaped query word.
const filenameNudgeRate = 0.05

// applyThreshold drops results below threshold × ceiling.
func applyThreshold(results []*FusedResult, threshold, ceiling float64) []*FusedResult {
	if threshold <= 0 {
		return results
	}
	floor := threshold * ceiling
	out := results[:0]
	for _, r := range results {
		if r.Score >= floor {
			out = append(out, r)
		}
	}
	return out
}

// pathMatches reports whether p looks like the file a query word names.
func pathMatches(p string, words []string) bool {
	base := strings.ToLower(path.Base(p))
	for _, w := range words {
		w = strings.ToLower(w)
		if w != "" && strings.Contains(base, w) {
			return true
		}
	}
	return false
}

// reorderByFilename nudges results whose file name matches one of words and
// re-sorts stably, so matches move ahead of equally scored peers and only
// overtake others by a small margin.
func reorderByFilename(results []*FusedResult, words []string, boost float64) {
	if len(words) == 0 || boost <= 1 {
		return
	}
	nudge := 1 + (boost-1)*filenameNudgeRate
	matched := make(map[string]bool, len(results))
	for _, r := range results {
		if pathMatches(r.Payload.FilePath, words) {
			r.Score *= nudge
			matched[r.ID] = true
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return matched[a.ID] && !matched[b.ID]
	})
}

type dedupKey struct {
	path        string
	startLine   int
	endLine     int
	elementType string
}

// dedup keeps the first result per (path, lines, element type).
func dedup(results []*FusedResult) []*FusedResult {
	seen := make(map[dedupKey]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		k := dedupKey{r.Payload.FilePath, r.Payload.StartLine, r.Payload.EndLine, r.Payload.ElementType}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
