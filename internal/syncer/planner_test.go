package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/gitstate"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/store"
)

// fakeGit serves canned repository state.
type fakeGit struct {
	commit  string
	files   []string
	diff    *gitstate.Diff
	diffErr error
	diffs   int
}

func (g *fakeGit) CurrentCommit(context.Context, string) (string, error) { return g.commit, nil }
func (g *fakeGit) CurrentBranch(context.Context, string) (string, error) { return "main", nil }
func (g *fakeGit) ListFiles(context.Context, string) ([]string, error)   { return g.files, nil }
func (g *fakeGit) Diff(context.Context, string, string, string) (*gitstate.Diff, error) {
	g.diffs++
	return g.diff, g.diffErr
}

// flakyStore fails CollectionExists a fixed number of times.
type flakyStore struct {
	store.VectorStore
	failures int
	calls    int
}

func (s *flakyStore) CollectionExists(ctx context.Context, c string) (bool, error) {
	s.calls++
	if s.calls <= s.failures {
		return false, errors.StoreUnavailable("collection_exists", fmt.Errorf("connection refused"))
	}
	return s.VectorStore.CollectionExists(ctx, c)
}

func fastRetry() errors.RetryConfig {
	return errors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, ShouldRetry: errors.IsRetryable}
}

func newPlannerFixture(t *testing.T, populated bool) (*store.LocalStore, *repostate.Repository) {
	t.Helper()
	ctx := context.Background()
	vs, err := store.NewLocalStore(store.LocalConfig{}, nil)
	require.NoError(t, err)
	repo := &repostate.Repository{Name: "demo", Path: "/src/demo", CollectionName: "c", LastSyncedCommit: "old"}
	if populated {
		require.NoError(t, vs.CreateCollection(ctx, "c", 2))
		require.NoError(t, vs.Upsert(ctx, "c", []*store.Point{{ID: "p", Dense: []float32{1, 0}, Payload: store.Payload{FilePath: "a.go"}}}))
	}
	return vs, repo
}

func TestPlanner_Incremental(t *testing.T) {
	// Given: a healthy collection and a small diff
	vs, repo := newPlannerFixture(t, true)
	git := &fakeGit{
		commit: "new",
		files:  []string{"a.go", "b.go", "c.go", "d.go", "e.go"},
		diff:   &gitstate.Diff{Added: []string{"e.go"}, Modified: []string{"a.go"}, Removed: []string{"gone.go"}},
	}
	p := NewPlanner(git, vs, PlannerConfig{Retry: fastRetry()}, nil)

	// When: planning
	plan, err := p.Plan(context.Background(), repo, false)

	// Then: only the changed files are processed
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, plan.Decision.Mode)
	assert.Equal(t, []string{"a.go", "e.go"}, plan.Files)
	assert.Equal(t, []string{"gone.go"}, plan.Removed)
	assert.Equal(t, "old", plan.FromCommit)
	assert.Equal(t, "new", plan.CurrentCommit)
}

func TestPlanner_WipedCollectionRebuildsWithoutDiff(t *testing.T) {
	// Given: watermark equals HEAD but the collection is gone
	vs, repo := newPlannerFixture(t, false)
	repo.LastSyncedCommit = "head"
	git := &fakeGit{commit: "head", files: []string{"a.go", "b.go"}}
	p := NewPlanner(git, vs, PlannerConfig{Retry: fastRetry()}, nil)

	// When: planning
	plan, err := p.Plan(context.Background(), repo, false)

	// Then: a full sync over every tracked file, no diff computed
	require.NoError(t, err)
	assert.Equal(t, ModeFull, plan.Decision.Mode)
	assert.Equal(t, ReasonCollectionMissing, plan.Decision.Reason)
	assert.Equal(t, []string{"a.go", "b.go"}, plan.Files)
	assert.Zero(t, git.diffs)
}

func TestPlanner_NoOp(t *testing.T) {
	vs, repo := newPlannerFixture(t, true)
	repo.LastSyncedCommit = "head"
	p := NewPlanner(&fakeGit{commit: "head", files: []string{"a.go"}}, vs, PlannerConfig{Retry: fastRetry()}, nil)

	plan, err := p.Plan(context.Background(), repo, false)

	require.NoError(t, err)
	assert.Equal(t, ModeNoOp, plan.Decision.Mode)
	assert.Empty(t, plan.Files)
}

func TestPlanner_DiffFailureFallsBackToFull(t *testing.T) {
	vs, repo := newPlannerFixture(t, true)
	git := &fakeGit{commit: "new", files: []string{"a.go"}, diffErr: errors.GitError("bad object", nil)}
	p := NewPlanner(git, vs, PlannerConfig{Retry: fastRetry()}, nil)

	plan, err := p.Plan(context.Background(), repo, false)

	require.NoError(t, err)
	assert.Equal(t, ModeFull, plan.Decision.Mode)
	assert.Equal(t, ReasonDiffUnavailable, plan.Decision.Reason)
}

func TestPlanner_RetriesTransientStoreFailures(t *testing.T) {
	vs, repo := newPlannerFixture(t, true)
	repo.LastSyncedCommit = "head"
	flaky := &flakyStore{VectorStore: vs, failures: 2}
	p := NewPlanner(&fakeGit{commit: "head", files: []string{"a.go"}}, flaky, PlannerConfig{Retry: fastRetry()}, nil)

	plan, err := p.Plan(context.Background(), repo, false)

	require.NoError(t, err)
	assert.Equal(t, ModeNoOp, plan.Decision.Mode)
	assert.Equal(t, 3, flaky.calls)
}

func TestPlanner_StoreUnavailableAfterRetries(t *testing.T) {
	vs, repo := newPlannerFixture(t, true)
	flaky := &flakyStore{VectorStore: vs, failures: 10}
	p := NewPlanner(&fakeGit{commit: "head"}, flaky, PlannerConfig{Retry: fastRetry()}, nil)

	_, err := p.Plan(context.Background(), repo, false)

	assert.True(t, errors.HasCode(err, errors.ErrCodeStoreUnavailable))
	assert.Equal(t, 3, flaky.calls)
}
