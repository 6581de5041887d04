// Package syncer decides how a repository must be synchronized with its
// collection and serializes syncs of the same repository.
package syncer

import (
	"sort"

	"github.com/llamaha/sagitta-sub001/internal/gitstate"
)

// DefaultIncrementalThreshold is the largest changed/total ratio that still
// syncs incrementally.
const DefaultIncrementalThreshold = 0.5

// Mode is the kind of sync to run.
type Mode int

const (
	ModeNoOp Mode = iota
	ModeIncremental
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeNoOp:
		return "noop"
	case ModeIncremental:
		return "incremental"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Decision reasons.
const (
	ReasonForced            = "forced"
	ReasonNoPreviousSync    = "no previous sync"
	ReasonCollectionMissing = "collection missing"
	ReasonCollectionEmpty   = "collection empty"
	ReasonUpToDate          = "up to date"
	ReasonDiffUnavailable   = "diff unavailable"
	ReasonTreeUnchanged     = "tree unchanged"
	ReasonIncremental       = "changes below threshold"
	ReasonTooManyChanges    = "changes above threshold"
)

// Decision is the outcome of Decide.
type Decision struct {
	Mode Mode
	// Changed is the sorted set of paths to process for ModeIncremental.
	Changed []string
	Reason  string
}

// DecisionInput is everything Decide looks at.
type DecisionInput struct {
	Force            bool
	StoredCommit     string
	CurrentCommit    string
	CollectionExists bool
	PointCount       uint64
	// Diff is nil when DiffErr is set or no diff was needed.
	Diff       *gitstate.Diff
	DiffErr    error
	TotalFiles int
	// Threshold <= 0 selects DefaultIncrementalThreshold.
	Threshold float64
}

// Decide picks the sync mode. It is pure: the same input always yields the
// same decision.
//
// The collection health checks run before the commit comparison, so a store
// wiped behind our back is rebuilt even when the watermark says the
// repository is up to date.
func Decide(in DecisionInput) Decision {
	switch {
	case in.Force:
		return Decision{Mode: ModeFull, Reason: ReasonForced}
	case in.StoredCommit == "":
		return Decision{Mode: ModeFull, Reason: ReasonNoPreviousSync}
	case !in.CollectionExists:
		return Decision{Mode: ModeFull, Reason: ReasonCollectionMissing}
	case in.PointCount == 0:
		return Decision{Mode: ModeFull, Reason: ReasonCollectionEmpty}
	case in.StoredCommit == in.CurrentCommit:
		return Decision{Mode: ModeNoOp, Reason: ReasonUpToDate}
	case in.DiffErr != nil || in.Diff == nil:
		return Decision{Mode: ModeFull, Reason: ReasonDiffUnavailable}
	}

	changed := in.Diff.Changed()
	if len(changed) == 0 {
		return Decision{Mode: ModeIncremental, Changed: []string{}, Reason: ReasonTreeUnchanged}
	}

	threshold := in.Threshold
	if threshold <= 0 {
		threshold = DefaultIncrementalThreshold
	}
	if float64(len(changed)) <= threshold*float64(in.TotalFiles) {
		sort.Strings(changed)
		return Decision{Mode: ModeIncremental, Changed: changed, Reason: ReasonIncremental}
	}
	return Decision{Mode: ModeFull, Reason: ReasonTooManyChanges}
}
