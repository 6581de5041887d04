package syncer

import (
	"context"
	"log/slog"
	"sort"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/gitstate"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/store"
)

// Plan is a decision plus the file sets the runner needs.
type Plan struct {
	Decision      Decision
	FromCommit    string
	CurrentCommit string
	// Files are the paths to (re)index: every tracked file for a Full sync,
	// the added and modified paths for an Incremental one.
	Files []string
	// Removed are paths whose points must be deleted.
	Removed []string
	// Tracked is every file at CurrentCommit.
	Tracked []string
}

// Health is the state of a repository's collection.
type Health struct {
	Exists     bool
	PointCount uint64
	// Dimensions of the dense vectors, 0 when unknown.
	Dimensions int
}

// Healthy reports whether the collection can back a NoOp sync.
func (h Health) Healthy() bool { return h.Exists && h.PointCount > 0 }

// PlannerConfig configures a Planner.
type PlannerConfig struct {
	Threshold float64
	Retry     errors.RetryConfig
}

// Planner is the change detector: it gathers git and store state and asks
// Decide what to do.
type Planner struct {
	git    gitstate.Provider
	store  store.VectorStore
	cfg    PlannerConfig
	logger *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(git gitstate.Provider, vs store.VectorStore, cfg PlannerConfig, logger *slog.Logger) *Planner {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultIncrementalThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{git: git, store: vs, cfg: cfg, logger: logger}
}

// CollectionHealth probes the collection, retrying transient store failures.
// Exhausted retries surface as ERR_301_STORE_UNAVAILABLE.
func (p *Planner) CollectionHealth(ctx context.Context, collection string) (Health, error) {
	return errors.RetryWithResult(ctx, p.cfg.Retry, func() (Health, error) {
		exists, err := p.store.CollectionExists(ctx, collection)
		if err != nil {
			return Health{}, err
		}
		if !exists {
			return Health{}, nil
		}
		info, err := p.store.CollectionInfo(ctx, collection)
		if errors.HasCode(err, errors.ErrCodeCollectionMissing) {
			return Health{}, nil
		}
		if err != nil {
			return Health{}, err
		}
		return Health{Exists: true, PointCount: info.PointCount, Dimensions: info.Dimensions}, nil
	})
}

// Plan decides how to sync repo.
func (p *Planner) Plan(ctx context.Context, repo *repostate.Repository, force bool) (*Plan, error) {
	current, err := p.git.CurrentCommit(ctx, repo.Path)
	if err != nil {
		return nil, err
	}
	tracked, err := p.git.ListFiles(ctx, repo.Path)
	if err != nil {
		return nil, err
	}
	health, err := p.CollectionHealth(ctx, repo.CollectionName)
	if err != nil {
		return nil, err
	}

	in := DecisionInput{
		Force:            force,
		StoredCommit:     repo.LastSyncedCommit,
		CurrentCommit:    current,
		CollectionExists: health.Exists,
		PointCount:       health.PointCount,
		TotalFiles:       len(tracked),
		Threshold:        p.cfg.Threshold,
	}
	var diff *gitstate.Diff
	if !force && health.Healthy() && repo.LastSyncedCommit != "" && repo.LastSyncedCommit != current {
		diff, err = p.git.Diff(ctx, repo.Path, repo.LastSyncedCommit, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.logger.Warn("sync_diff_failed",
				slog.String("repo", repo.Name),
				slog.String("from", repo.LastSyncedCommit),
				slog.String("error", err.Error()))
			in.DiffErr = err
		}
		in.Diff = diff
	}

	decision := Decide(in)
	plan := &Plan{
		Decision:      decision,
		FromCommit:    repo.LastSyncedCommit,
		CurrentCommit: current,
		Tracked:       tracked,
	}
	switch decision.Mode {
	case ModeFull:
		plan.Files = tracked
	case ModeIncremental:
		plan.Files = append(append([]string{}, diff.Added...), diff.Modified...)
		sort.Strings(plan.Files)
		plan.Removed = append([]string{}, diff.Removed...)
		sort.Strings(plan.Removed)
	}

	p.logger.Info("sync_plan",
		slog.String("repo", repo.Name),
		slog.String("mode", decision.Mode.String()),
		slog.String("reason", decision.Reason),
		slog.String("from", repo.LastSyncedCommit),
		slog.String("to", current),
		slog.Int("files", len(plan.Files)),
		slog.Int("removed", len(plan.Removed)))
	return plan, nil
}
