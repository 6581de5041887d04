package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/chunk"
	"github.com/llamaha/sagitta-sub001/internal/embed"
	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/gitstate"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
	"github.com/llamaha/sagitta-sub001/internal/store"
	"github.com/llamaha/sagitta-sub001/internal/syncer"
	"github.com/llamaha/sagitta-sub001/internal/tokenizer"
	"github.com/llamaha/sagitta-sub001/internal/vocab"
)

const testDims = 32

// fakeGit reports the files of a working tree as committed state.
type fakeGit struct {
	mu     sync.Mutex
	commit string
	files  []string
	diff   *gitstate.Diff
}

func (g *fakeGit) CurrentCommit(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commit, nil
}
func (g *fakeGit) CurrentBranch(context.Context, string) (string, error) { return "main", nil }
func (g *fakeGit) ListFiles(context.Context, string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.files...), nil
}
func (g *fakeGit) Diff(context.Context, string, string, string) (*gitstate.Diff, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.diff == nil {
		return nil, fmt.Errorf("unknown revision")
	}
	return g.diff, nil
}

// failingStore fails Upsert once a number of calls have succeeded.
type failingStore struct {
	store.VectorStore
	mu        sync.Mutex
	okUpserts int
	calls     int
}

func (s *failingStore) Upsert(ctx context.Context, c string, points []*store.Point) error {
	s.mu.Lock()
	s.calls++
	fail := s.okUpserts >= 0 && s.calls > s.okUpserts
	s.mu.Unlock()
	if fail {
		return errors.StoreUnavailable("upsert", fmt.Errorf("connection reset"))
	}
	return s.VectorStore.Upsert(ctx, c, points)
}

// poisonEmbedder fails every text containing "POISON".
type poisonEmbedder struct {
	*embed.StaticEmbedder
}

func (e poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "POISON") {
			return nil, errors.EmbeddingError("embedding failed after 3 attempts", fmt.Errorf("bad input"))
		}
	}
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (e poisonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "POISON") {
		return nil, errors.EmbeddingError("embedding failed after 3 attempts", fmt.Errorf("bad input"))
	}
	return e.StaticEmbedder.Embed(ctx, text)
}

type fixture struct {
	t      *testing.T
	dir    string
	git    *fakeGit
	repos  *repostate.Store
	local  *store.LocalStore
	store  *failingStore
	vocabs *vocab.Registry
	runner *Runner
	locker *syncer.Locker
}

func newFixture(t *testing.T, emb embed.Embedder) *fixture {
	t.Helper()
	ctx := context.Background()

	repos, err := repostate.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	dir := t.TempDir()
	require.NoError(t, repos.Add(ctx, &repostate.Repository{Name: "demo", Path: dir, Branch: "main", CollectionName: "repo_demo"}))

	local, err := store.NewLocalStore(store.LocalConfig{}, nil)
	require.NoError(t, err)
	fs := &failingStore{VectorStore: local, okUpserts: -1}

	tok := tokenizer.New(tokenizer.DefaultConfig())
	vocabs := vocab.NewRegistry("", tok.Config().Fingerprint())
	t.Cleanup(func() { _ = vocabs.Close() })

	if emb == nil {
		emb = embed.NewStaticEmbedder(testDims)
	}
	git := &fakeGit{commit: "c1"}
	locker := syncer.NewLocker("")
	runner, err := NewRunner(RunnerDependencies{
		Repos:    repos,
		Planner:  syncer.NewPlanner(git, fs, syncer.PlannerConfig{}, nil),
		Locker:   locker,
		Store:    fs,
		Vocab:    vocabs,
		Chunker:  chunk.NewEngine(chunk.Options{WindowSize: 200, WindowOverlap: 20, MaxChunkBytes: 400}),
		Embedder: emb,
		Sparse:   sparse.NewBuilder(tok, 0),
	}, RunnerConfig{Workers: 2, EmbedBatchSize: 4})
	require.NoError(t, err)

	return &fixture{t: t, dir: dir, git: git, repos: repos, local: local, store: fs, vocabs: vocabs, runner: runner, locker: locker}
}

// write creates or replaces a file and tracks it.
func (f *fixture) write(rel, content string) {
	f.t.Helper()
	full := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(f.t, os.WriteFile(full, []byte(content), 0o644))
	f.git.mu.Lock()
	defer f.git.mu.Unlock()
	for _, p := range f.git.files {
		if p == rel {
			return
		}
	}
	f.git.files = append(f.git.files, rel)
	sort.Strings(f.git.files)
}

func (f *fixture) remove(rel string) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(filepath.Join(f.dir, filepath.FromSlash(rel))))
	f.git.mu.Lock()
	defer f.git.mu.Unlock()
	out := f.git.files[:0]
	for _, p := range f.git.files {
		if p != rel {
			out = append(out, p)
		}
	}
	f.git.files = out
}

func (f *fixture) commit(id string, diff *gitstate.Diff) {
	f.git.mu.Lock()
	defer f.git.mu.Unlock()
	f.git.commit = id
	f.git.diff = diff
}

func (f *fixture) watermark() string {
	f.t.Helper()
	repo, err := f.repos.Get(context.Background(), "demo")
	require.NoError(f.t, err)
	return repo.LastSyncedCommit
}

func (f *fixture) indexedPaths() []string {
	f.t.Helper()
	files, err := f.local.Files(context.Background(), "repo_demo")
	require.NoError(f.t, err)
	var out []string
	for p := range files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func seedFiles(f *fixture, n int) {
	for i := 0; i < n; i++ {
		f.write(fmt.Sprintf("src/file%02d.go", i), fmt.Sprintf("package src\n\nfunc Handler%02d() int {\n\treturn %d\n}\n", i, i))
	}
}

func TestRunner_FirstSyncIsFullAndAdvancesWatermark(t *testing.T) {
	// Given: a registered repository that was never synced
	f := newFixture(t, nil)
	seedFiles(f, 3)

	// When: syncing
	report, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// Then: every file is indexed and the watermark points at HEAD
	assert.Equal(t, syncer.ModeFull, report.Mode)
	assert.Equal(t, syncer.ReasonNoPreviousSync, report.Reason)
	assert.Equal(t, 3, report.FilesProcessed)
	assert.Positive(t, report.PointsWritten)
	assert.True(t, report.WatermarkAdvanced)
	assert.Equal(t, "c1", f.watermark())
	assert.Equal(t, []string{"src/file00.go", "src/file01.go", "src/file02.go"}, f.indexedPaths())
}

func TestRunner_Idempotent(t *testing.T) {
	// Given: a synced repository
	f := newFixture(t, nil)
	seedFiles(f, 3)
	first, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)
	info, err := f.local.CollectionInfo(context.Background(), "repo_demo")
	require.NoError(t, err)

	// When: syncing again without changes, and then forcing a full pass
	noop, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)
	forced, err := f.runner.Sync(context.Background(), "demo", true)
	require.NoError(t, err)

	// Then: nothing is rewritten and the collection is unchanged
	assert.Equal(t, syncer.ModeNoOp, noop.Mode)
	assert.Zero(t, noop.PointsWritten)
	assert.Equal(t, syncer.ModeFull, forced.Mode)
	assert.Zero(t, forced.PointsWritten)
	assert.Equal(t, 3, forced.FilesUnchanged)

	after, err := f.local.CollectionInfo(context.Background(), "repo_demo")
	require.NoError(t, err)
	assert.Equal(t, info.PointCount, after.PointCount)
	assert.Positive(t, first.PointsWritten)
}

func TestRunner_IncrementalReplacesAndRemoves(t *testing.T) {
	// Given: a synced repository with ten files
	f := newFixture(t, nil)
	seedFiles(f, 10)
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// When: one file shrinks, one is deleted and one is added
	f.write("src/file00.go", "package src\n")
	f.remove("src/file01.go")
	f.write("src/new.go", "package src\n\nfunc Fresh() {}\n")
	f.commit("c2", &gitstate.Diff{
		Added:    []string{"src/new.go"},
		Modified: []string{"src/file00.go"},
		Removed:  []string{"src/file01.go"},
	})
	report, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// Then: only the changed files were touched
	assert.Equal(t, syncer.ModeIncremental, report.Mode)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesRemoved)
	assert.Equal(t, "c2", f.watermark())
	assert.NotContains(t, f.indexedPaths(), "src/file01.go")
	assert.Contains(t, f.indexedPaths(), "src/new.go")

	// And: the shrunken file kept no stale chunks
	files, err := f.local.Files(context.Background(), "repo_demo")
	require.NoError(t, err)
	require.Contains(t, files, "src/file00.go")
	assert.Len(t, files["src/file00.go"].PointIDs, 1)
}

func TestRunner_FullSyncDropsUntrackedPaths(t *testing.T) {
	f := newFixture(t, nil)
	seedFiles(f, 2)
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	f.remove("src/file00.go")
	f.commit("c2", nil)
	report, err := f.runner.Sync(context.Background(), "demo", true)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesRemoved)
	assert.Equal(t, []string{"src/file01.go"}, f.indexedPaths())
}

func TestRunner_PartialFailureKeepsWatermark(t *testing.T) {
	// Given: a synced repository where half the files then change
	f := newFixture(t, nil)
	seedFiles(f, 10)
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	var modified []string
	for i := 0; i < 4; i++ {
		p := fmt.Sprintf("src/file%02d.go", i)
		f.write(p, fmt.Sprintf("package src\n\nfunc Changed%02d() {}\n", i))
		modified = append(modified, p)
	}
	f.commit("c2", &gitstate.Diff{Modified: modified})

	// When: the store dies after two of four file writes
	f.store.mu.Lock()
	f.store.calls = 0
	f.store.okUpserts = 2
	f.store.mu.Unlock()
	report, err := f.runner.Sync(context.Background(), "demo", false)

	// Then: the sync aborts and the watermark stays at the old commit
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStoreUnavailable))
	require.NotNil(t, report)
	assert.False(t, report.WatermarkAdvanced)
	assert.Equal(t, "c1", f.watermark())

	// When: the store recovers and the sync is retried
	f.store.mu.Lock()
	f.store.okUpserts = -1
	f.store.mu.Unlock()
	retry, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// Then: the same incremental set is recomputed and completed
	assert.Equal(t, syncer.ModeIncremental, retry.Mode)
	assert.Equal(t, 4, retry.FilesProcessed+retry.FilesUnchanged)
	assert.Equal(t, "c2", f.watermark())
}

// failUpsertsAfter lets n more upserts through and fails the rest; a
// negative n heals the store.
func (f *fixture) failUpsertsAfter(n int) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.calls = 0
	f.store.okUpserts = n
}

func notes(version string) string {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "%s release note %02d covers the sync pipeline\n", version, i)
	}
	return b.String()
}

func TestRunner_FileCutShortBetweenBatchesIsRewritten(t *testing.T) {
	// Given: a synced repository whose writer sends one point per batch
	f := newFixture(t, nil)
	f.runner.deps.Writer = NewWriter(f.store, 1)
	seedFiles(f, 3)
	f.write("docs/notes.txt", notes("draft"))
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// When: the notes change and the store dies after two points
	f.write("docs/notes.txt", notes("final"))
	f.commit("c2", &gitstate.Diff{Modified: []string{"docs/notes.txt"}})
	f.failUpsertsAfter(2)
	_, err = f.runner.Sync(context.Background(), "demo", false)
	require.Error(t, err)
	assert.Equal(t, "c1", f.watermark())

	// And: the sync is retried after the store recovers
	f.failUpsertsAfter(-1)
	retry, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// Then: the partly written file is rewritten in full
	assert.Equal(t, 1, retry.FilesProcessed)
	assert.Zero(t, retry.FilesUnchanged)
	assert.Equal(t, "c2", f.watermark())

	files, err := f.local.Files(context.Background(), "repo_demo")
	require.NoError(t, err)
	st := files["docs/notes.txt"]
	require.NotNil(t, st)
	assert.Greater(t, st.ChunkCount, 2)
	assert.Len(t, st.PointIDs, st.ChunkCount)
	assert.Equal(t, retry.PointsWritten, st.ChunkCount)
}

func TestRunner_VocabularyFailureAbortsBeforeWrite(t *testing.T) {
	// Given: a synced repository whose vocabulary can no longer persist
	f := newFixture(t, nil)
	seedFiles(f, 3)
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)
	v, err := f.vocabs.Get(context.Background(), "repo_demo")
	require.NoError(t, err)
	require.NoError(t, v.Close())

	// When: a file with unseen terms is committed and synced
	f.write("src/quokka.go", "package src\n\nfunc MarsupialHop(wombat int) int {\n\treturn wombat\n}\n")
	f.commit("c2", &gitstate.Diff{Added: []string{"src/quokka.go"}})
	report, err := f.runner.Sync(context.Background(), "demo", false)

	// Then: the sync aborts with ERR_207, nothing references the lost ids and
	// the watermark stays put
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeVocabularyPersist))
	require.NotNil(t, report)
	assert.False(t, report.WatermarkAdvanced)
	assert.Zero(t, report.PointsWritten)
	assert.NotContains(t, f.indexedPaths(), "src/quokka.go")
	assert.Equal(t, "c1", f.watermark())
}

func TestRunner_WipedCollectionSelfHeals(t *testing.T) {
	// Given: a synced repository whose collection was deleted externally
	f := newFixture(t, nil)
	seedFiles(f, 3)
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)
	require.NoError(t, f.local.DeleteCollection(context.Background(), "repo_demo"))

	// When: syncing at the same commit
	report, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// Then: a full sync rebuilds it
	assert.Equal(t, syncer.ModeFull, report.Mode)
	assert.Equal(t, syncer.ReasonCollectionMissing, report.Reason)
	assert.Equal(t, 3, report.FilesProcessed)
	assert.Len(t, f.indexedPaths(), 3)
}

func TestRunner_EmbeddingFailureSkipsChunk(t *testing.T) {
	// Given: an embedder that rejects one file's content
	f := newFixture(t, poisonEmbedder{embed.NewStaticEmbedder(testDims)})
	f.write("good.go", "package x\n\nfunc Good() {}\n")
	f.write("bad.go", "package x\n\n// POISON\nfunc Bad() {}\n")

	// When: syncing
	report, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// Then: the chunk is reported, the rest is indexed and the sync completes
	require.NotEmpty(t, report.SkippedChunks)
	assert.Equal(t, "bad.go", report.SkippedChunks[0].Path)
	assert.Contains(t, f.indexedPaths(), "good.go")
	assert.True(t, report.WatermarkAdvanced)
}

func TestRunner_UnreadableFileKeepsWatermark(t *testing.T) {
	f := newFixture(t, nil)
	f.write("ok.go", "package x\n")
	f.write("dir.go/inner.txt", "x")
	// A tracked path that is a directory cannot be read.
	f.git.mu.Lock()
	f.git.files = append(f.git.files, "dir.go")
	f.git.mu.Unlock()

	report, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	require.Len(t, report.FailedFiles, 1)
	assert.Equal(t, "dir.go", report.FailedFiles[0].Path)
	assert.False(t, report.WatermarkAdvanced)
	assert.Empty(t, f.watermark())
}

func TestRunner_RejectsConcurrentSync(t *testing.T) {
	f := newFixture(t, nil)
	release, err := f.locker.Acquire(context.Background(), "demo", false)
	require.NoError(t, err)
	defer release()

	_, err = f.runner.Sync(context.Background(), "demo", false)

	assert.True(t, errors.HasCode(err, errors.ErrCodeSyncInProgress))
}

func TestRunner_UnknownRepository(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.runner.Sync(context.Background(), "nope", false)

	assert.True(t, errors.HasCode(err, errors.ErrCodeRepoNotFound))
}

func TestRunner_CanceledContextLeavesWatermark(t *testing.T) {
	f := newFixture(t, nil)
	seedFiles(f, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Sync(ctx, "demo", false)

	require.Error(t, err)
	assert.Empty(t, f.watermark())
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{}, RunnerConfig{})
	assert.Error(t, err)
}

func TestRunner_ExcludedFilesLeaveIndex(t *testing.T) {
	// Given: a synced repository
	f := newFixture(t, nil)
	seedFiles(f, 3)
	_, err := f.runner.Sync(context.Background(), "demo", false)
	require.NoError(t, err)

	// When: an exclusion file names one of the files and a forced sync runs
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, ".sagittaignore"), []byte("# generated\nsrc/file01.go\n"), 0o644))
	report, err := f.runner.Sync(context.Background(), "demo", true)
	require.NoError(t, err)

	// Then: its points are gone and the sync still counts as complete
	assert.Equal(t, 1, report.FilesExcluded)
	assert.True(t, report.WatermarkAdvanced)
	assert.Equal(t, []string{"src/file00.go", "src/file02.go"}, f.indexedPaths())
}
