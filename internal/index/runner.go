package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llamaha/sagitta-sub001/internal/chunk"
	"github.com/llamaha/sagitta-sub001/internal/embed"
	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/ignore"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
	"github.com/llamaha/sagitta-sub001/internal/store"
	"github.com/llamaha/sagitta-sub001/internal/syncer"
	"github.com/llamaha/sagitta-sub001/internal/ui"
	"github.com/llamaha/sagitta-sub001/internal/vocab"
)

// Runner defaults.
const (
	DefaultWorkers      = 4
	DefaultMaxFileBytes = 1 << 20
)

// Repositories is the part of the registry a sync needs.
type Repositories interface {
	Get(ctx context.Context, name string) (*repostate.Repository, error)
	SetWatermark(ctx context.Context, name, commit string, at time.Time) error
}

var _ Repositories = (*repostate.Store)(nil)

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	// Workers bounds how many files are processed at once.
	Workers int
	// MaxFileBytes skips larger files.
	MaxFileBytes int64
	// EmbedBatchSize is how many chunks go into one embedding call.
	EmbedBatchSize int
	// WaitForLock blocks instead of failing with ERR_507 when the
	// repository is already syncing.
	WaitForLock bool
	// Exclude are gitignore-style patterns for tracked files that must not
	// be indexed. A .sagittaignore file in the working tree adds to them.
	Exclude []string
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	Repos    Repositories
	Planner  *syncer.Planner
	Locker   *syncer.Locker
	Store    store.VectorStore
	Writer   *Writer
	Vocab    *vocab.Registry
	Chunker  chunk.Chunker
	Embedder embed.Embedder
	Sparse   *sparse.Builder

	// Renderer for progress display (optional).
	Renderer ui.Renderer
	Logger   *slog.Logger
}

// Runner executes syncs. Different repositories may sync concurrently; the
// locker serializes syncs of one repository.
type Runner struct {
	deps   RunnerDependencies
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies, cfg RunnerConfig) (*Runner, error) {
	switch {
	case deps.Repos == nil:
		return nil, fmt.Errorf("repository registry is required")
	case deps.Planner == nil:
		return nil, fmt.Errorf("planner is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("vector store is required")
	case deps.Vocab == nil:
		return nil, fmt.Errorf("vocabulary registry is required")
	case deps.Chunker == nil:
		return nil, fmt.Errorf("chunker is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Sparse == nil:
		return nil, fmt.Errorf("sparse builder is required")
	}
	if deps.Locker == nil {
		deps.Locker = syncer.NewLocker("")
	}
	if deps.Writer == nil {
		deps.Writer = NewWriter(deps.Store, 0)
	}
	if deps.Renderer == nil {
		deps.Renderer = ui.NopRenderer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embed.DefaultBatchSize
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger}, nil
}

// Dimensions is the dense vector size this runner writes.
func (r *Runner) Dimensions() int { return r.deps.Embedder.Dimensions() }

// syncRun is the state of one sync attempt.
type syncRun struct {
	repo    *repostate.Repository
	plan    *syncer.Plan
	vocab   *vocab.Manager
	indexed map[string]*store.FileState
	exclude *ignore.Matcher

	mu     sync.Mutex
	report *SyncReport
	done   atomic.Int64
}

// Sync brings the collection of the named repository up to its current
// commit. A returned error aborts the attempt and leaves the watermark where
// it was; file-level failures are listed in the report instead and also keep
// the watermark.
func (r *Runner) Sync(ctx context.Context, name string, force bool) (*SyncReport, error) {
	start := time.Now()

	release, err := r.deps.Locker.Acquire(ctx, name, r.cfg.WaitForLock)
	if err != nil {
		return nil, err
	}
	defer release()

	repo, err := r.deps.Repos.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{Repo: name, Stage: ui.StagePlanning, Message: "planning"})
	plan, err := r.deps.Planner.Plan(ctx, repo, force)
	if err != nil {
		r.logFailure(repo, nil, err, start)
		return nil, err
	}

	report := &SyncReport{
		Repo:       name,
		Mode:       plan.Decision.Mode,
		Reason:     plan.Decision.Reason,
		FromCommit: plan.FromCommit,
		ToCommit:   plan.CurrentCommit,
	}
	if plan.Decision.Mode == syncer.ModeNoOp {
		return r.finish(repo, report, start), nil
	}

	exclude, err := ignore.Load(repo.Path, r.cfg.Exclude)
	if err != nil {
		err = errors.New(errors.ErrCodeFileRead, "load exclusion patterns", err).WithDetail("repo", name)
		r.logFailure(repo, report, err, start)
		return report, err
	}

	run := &syncRun{repo: repo, plan: plan, report: report, exclude: exclude}
	if err := r.execute(ctx, run); err != nil {
		report.Duration = time.Since(start)
		r.logFailure(repo, report, err, start)
		return report, err
	}

	if report.Complete() {
		if err := r.deps.Repos.SetWatermark(ctx, name, plan.CurrentCommit, time.Now()); err != nil {
			report.Duration = time.Since(start)
			r.logFailure(repo, report, err, start)
			return report, err
		}
		report.WatermarkAdvanced = true
	}
	return r.finish(repo, report, start), nil
}

func (r *Runner) execute(ctx context.Context, run *syncRun) error {
	coll := run.repo.CollectionName
	if err := r.deps.Writer.EnsureCollection(ctx, coll, r.deps.Embedder.Dimensions()); err != nil {
		return err
	}
	v, err := r.deps.Vocab.Get(ctx, coll)
	if err != nil {
		return err
	}
	run.vocab = v

	indexed, err := r.deps.Store.Files(ctx, coll)
	if err != nil {
		return err
	}
	run.indexed = indexed

	if err := r.removeFiles(ctx, run); err != nil {
		return err
	}
	if err := r.processFiles(ctx, run); err != nil {
		return err
	}
	return r.deps.Store.Flush(ctx)
}

// removeFiles deletes the points of removed paths. A Full sync also drops
// every indexed path that is no longer tracked.
func (r *Runner) removeFiles(ctx context.Context, run *syncRun) error {
	removed := run.plan.Removed
	if run.plan.Decision.Mode == syncer.ModeFull {
		tracked := make(map[string]struct{}, len(run.plan.Tracked))
		for _, p := range run.plan.Tracked {
			tracked[p] = struct{}{}
		}
		removed = nil
		for p := range run.indexed {
			if _, ok := tracked[p]; !ok {
				removed = append(removed, p)
			}
		}
		sort.Strings(removed)
	}

	for i, p := range removed {
		r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
			Repo: run.repo.Name, Stage: ui.StageRemoving,
			Current: i + 1, Total: len(removed), CurrentFile: p,
		})
		if err := r.deps.Writer.RemoveFile(ctx, run.repo.CollectionName, p); err != nil {
			return err
		}
		run.report.FilesRemoved++
	}
	return nil
}

func (r *Runner) processFiles(ctx context.Context, run *syncRun) error {
	files := run.plan.Files
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, p := range files {
		g.Go(func() error {
			if err := r.processFile(gctx, run, p); err != nil {
				return err
			}
			r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
				Repo: run.repo.Name, Stage: ui.StageIndexing,
				Current: int(run.done.Add(1)), Total: len(files), CurrentFile: p,
			})
			return nil
		})
	}
	return g.Wait()
}

// processFile indexes one file. Only errors that must abort the sync are
// returned; everything else is recorded on the report.
func (r *Runner) processFile(ctx context.Context, run *syncRun, relPath string) error {
	coll := run.repo.CollectionName

	if run.exclude.Match(relPath) {
		run.mu.Lock()
		run.report.FilesExcluded++
		run.mu.Unlock()
		if _, ok := run.indexed[relPath]; !ok {
			return nil
		}
		return r.deps.Writer.RemoveFile(ctx, coll, relPath)
	}

	content, err := r.readFile(run.repo.Path, relPath)
	switch {
	case os.IsNotExist(err):
		// Tracked at the commit but gone from the working tree.
		return r.deps.Writer.RemoveFile(ctx, coll, relPath)
	case errors.Is(err, errTooLarge):
		r.warn(run, relPath, err)
		return r.deps.Writer.RemoveFile(ctx, coll, relPath)
	case err != nil:
		r.fail(run, relPath, err)
		return nil
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	if run.indexed[relPath].Current(hash) {
		run.mu.Lock()
		run.report.FilesUnchanged++
		run.mu.Unlock()
		return nil
	}

	chunks, err := r.deps.Chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: content})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.fail(run, relPath, errors.New(errors.ErrCodeChunkingFailed, "chunk file", err))
		return nil
	}

	fc, skipped, err := r.vectorize(ctx, run, relPath, chunks)
	if err != nil {
		return err
	}
	fc.Repo = run.repo.Name
	fc.Commit = run.plan.CurrentCommit
	// A file with skipped chunks keeps no hash so the next sync retries it.
	if len(skipped) == 0 {
		fc.ContentHash = hash
	}

	written, err := r.deps.Writer.ReplaceFile(ctx, coll, relPath, fc)
	if err != nil {
		return err
	}

	run.mu.Lock()
	run.report.FilesProcessed++
	run.report.PointsWritten += written
	run.report.SkippedChunks = append(run.report.SkippedChunks, skipped...)
	run.mu.Unlock()
	return nil
}

var errTooLarge = fmt.Errorf("file exceeds size limit")

func (r *Runner) readFile(root, relPath string) ([]byte, error) {
	full := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.Size() > r.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", errTooLarge, info.Size(), r.cfg.MaxFileBytes)
	}
	return os.ReadFile(full)
}

// vectorize builds the sparse and dense vectors of every chunk in parallel.
// Chunks that fail either side are dropped and returned as skipped.
func (r *Runner) vectorize(ctx context.Context, run *syncRun, relPath string, chunks []*chunk.Chunk) (*FileContent, []SkippedChunk, error) {
	sparseVecs := make([]sparse.Vector, len(chunks))
	sparseErrs := make([]error, len(chunks))
	var dense [][]float32
	var denseErrs []error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i, c := range chunks {
			v, err := r.deps.Sparse.Build(gctx, run.vocab, relPath, c.Content)
			if err != nil {
				if !errors.HasCode(err, errors.ErrCodeTokenizationFailed) {
					return err
				}
				sparseErrs[i] = err
				continue
			}
			sparseVecs[i] = v
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dense, denseErrs, err = r.embedChunks(gctx, chunks)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	fc := &FileContent{}
	var skipped []SkippedChunk
	for i, c := range chunks {
		cause := sparseErrs[i]
		if cause == nil {
			cause = denseErrs[i]
		}
		if cause != nil {
			skipped = append(skipped, SkippedChunk{
				Path: relPath, StartLine: c.StartLine, EndLine: c.EndLine, Reason: cause.Error(),
			})
			r.logger.Warn("chunk_skipped",
				slog.String("repo", run.repo.Name),
				slog.String("path", relPath),
				slog.Int("start_line", c.StartLine),
				slog.Int("end_line", c.EndLine),
				slog.String("code", errors.GetCode(cause)),
				slog.String("error", cause.Error()))
			continue
		}
		fc.Chunks = append(fc.Chunks, c)
		fc.Dense = append(fc.Dense, dense[i])
		fc.Sparse = append(fc.Sparse, sparseVecs[i])
	}
	return fc, skipped, nil
}

// embedChunks embeds chunks in batches. A failed batch is retried one chunk
// at a time so a single bad chunk does not take its neighbours down.
func (r *Runner) embedChunks(ctx context.Context, chunks []*chunk.Chunk) ([][]float32, []error, error) {
	vecs := make([][]float32, len(chunks))
	errs := make([]error, len(chunks))
	for start := 0; start < len(chunks); start += r.cfg.EmbedBatchSize {
		end := min(start+r.cfg.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		batch, err := r.deps.Embedder.EmbedBatch(ctx, texts)
		if err == nil {
			copy(vecs[start:end], batch)
			continue
		}
		if abortsEmbedding(ctx, err) {
			return nil, nil, err
		}
		for i := start; i < end; i++ {
			v, err := r.deps.Embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				if abortsEmbedding(ctx, err) {
					return nil, nil, err
				}
				errs[i] = err
				continue
			}
			vecs[i] = v
		}
	}
	return vecs, errs, nil
}

// abortsEmbedding separates per-chunk failures from a backend that cannot
// serve anything.
func abortsEmbedding(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, errors.ErrCircuitOpen) ||
		errors.HasCode(err, errors.ErrCodeDimensionMismatch)
}

func (r *Runner) warn(run *syncRun, relPath string, err error) {
	r.deps.Renderer.AddError(ui.ErrorEvent{Repo: run.repo.Name, File: relPath, Err: err, IsWarn: true})
	r.logger.Warn("file_skipped",
		slog.String("repo", run.repo.Name),
		slog.String("path", relPath),
		slog.String("error", err.Error()))
}

func (r *Runner) fail(run *syncRun, relPath string, err error) {
	run.mu.Lock()
	run.report.FailedFiles = append(run.report.FailedFiles, FailedFile{Path: relPath, Reason: err.Error()})
	run.mu.Unlock()
	r.deps.Renderer.AddError(ui.ErrorEvent{Repo: run.repo.Name, File: relPath, Err: err})
	r.logger.Error("file_failed",
		slog.String("repo", run.repo.Name),
		slog.String("path", relPath),
		slog.String("code", errors.GetCode(err)),
		slog.String("error", err.Error()))
}

func (r *Runner) finish(repo *repostate.Repository, report *SyncReport, start time.Time) *SyncReport {
	sort.Slice(report.FailedFiles, func(i, j int) bool { return report.FailedFiles[i].Path < report.FailedFiles[j].Path })
	sort.SliceStable(report.SkippedChunks, func(i, j int) bool {
		a, b := report.SkippedChunks[i], report.SkippedChunks[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.StartLine < b.StartLine
	})
	report.Duration = time.Since(start)

	r.deps.Renderer.Complete(ui.CompletionStats{
		Repo:     report.Repo,
		Mode:     report.Mode.String(),
		Reason:   report.Reason,
		Files:    report.FilesProcessed,
		Removed:  report.FilesRemoved,
		Points:   report.PointsWritten,
		Skipped:  len(report.SkippedChunks),
		Failed:   len(report.FailedFiles),
		Duration: report.Duration,
	})
	r.logger.Info("sync_complete",
		slog.String("repo", repo.Name),
		slog.String("collection", repo.CollectionName),
		slog.String("mode", report.Mode.String()),
		slog.String("reason", report.Reason),
		slog.String("from", report.FromCommit),
		slog.String("to", report.ToCommit),
		slog.Int("files", report.FilesProcessed),
		slog.Int("unchanged", report.FilesUnchanged),
		slog.Int("removed", report.FilesRemoved),
		slog.Int("excluded", report.FilesExcluded),
		slog.Int("points", report.PointsWritten),
		slog.Int("skipped_chunks", len(report.SkippedChunks)),
		slog.Int("failed_files", len(report.FailedFiles)),
		slog.Bool("watermark_advanced", report.WatermarkAdvanced),
		slog.Int64("duration_ms", report.Duration.Milliseconds()))
	return report
}

func (r *Runner) logFailure(repo *repostate.Repository, report *SyncReport, err error, start time.Time) {
	attrs := []any{
		slog.String("repo", repo.Name),
		slog.String("code", errors.GetCode(err)),
		slog.String("error", err.Error()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if report != nil {
		attrs = append(attrs,
			slog.String("mode", report.Mode.String()),
			slog.Int("files", report.FilesProcessed),
			slog.Int("points", report.PointsWritten))
	}
	r.logger.Error("sync_failed", attrs...)
}
