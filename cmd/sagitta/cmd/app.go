package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/llamaha/sagitta-sub001/internal/chunk"
	"github.com/llamaha/sagitta-sub001/internal/config"
	"github.com/llamaha/sagitta-sub001/internal/embed"
	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/gitstate"
	"github.com/llamaha/sagitta-sub001/internal/index"
	"github.com/llamaha/sagitta-sub001/internal/logging"
	"github.com/llamaha/sagitta-sub001/internal/repair"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/search"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
	"github.com/llamaha/sagitta-sub001/internal/store"
	"github.com/llamaha/sagitta-sub001/internal/syncer"
	"github.com/llamaha/sagitta-sub001/internal/tokenizer"
	"github.com/llamaha/sagitta-sub001/internal/ui"
	"github.com/llamaha/sagitta-sub001/internal/vocab"
)

// app holds the long-lived components one command invocation needs. The
// embedding pool is created on first use so that registry-only commands never
// contact the embedding backend.
type app struct {
	cfg     *config.Config
	opts    *globalOptions
	logger  *slog.Logger
	repos   *repostate.Store
	store   store.VectorStore
	git     *gitstate.CLI
	tok     *tokenizer.Tokenizer
	sparse  *sparse.Builder
	vocabs  *vocab.Registry
	locker  *syncer.Locker
	planner *syncer.Planner

	pool       *embed.SessionPool
	logCleanup func()
}

// openApp loads configuration and opens the registry, store and vocabularies.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logging.LogPathIn(cfg.Paths.DataDir),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: opts.debug,
		Format:        cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, opts: opts, logger: logger, logCleanup: cleanup}

	a.repos, err = repostate.Open(ctx, filepath.Join(cfg.Paths.DataDir, "repos.db"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = newVectorStore(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.git, err = gitstate.NewCLI()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.tok = tokenizer.New(tokenizerConfig(cfg))
	a.sparse = sparse.NewBuilder(a.tok, cfg.Tokenizer.FilenameBoost)
	a.vocabs = vocab.NewRegistry(filepath.Join(cfg.Paths.DataDir, "vocab"), a.sparse.Fingerprint())
	a.locker = syncer.NewLocker(filepath.Join(cfg.Paths.DataDir, "locks"))

	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Sync.StoreRetries
	a.planner = syncer.NewPlanner(a.git, a.store, syncer.PlannerConfig{
		Threshold: cfg.Sync.IncrementalThreshold,
		Retry:     retry,
	}, logger)

	return a, nil
}

func tokenizerConfig(cfg *config.Config) tokenizer.Config {
	tc := tokenizer.DefaultConfig()
	tc.PreserveCase = cfg.Tokenizer.PreserveCase
	tc.SplitCompound = cfg.Tokenizer.SplitCompound
	return tc
}

func newVectorStore(cfg *config.Config, logger *slog.Logger) (store.VectorStore, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case "local":
		s, err := store.NewLocalStore(store.LocalConfig{
			Dir:      filepath.Join(cfg.Paths.DataDir, "collections"),
			M:        cfg.Store.HNSWM,
			EfSearch: cfg.Store.HNSWEfSearch,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		q := cfg.Store.Qdrant
		s, err := store.NewQdrantStore(store.QdrantConfig{
			Host:            q.Host,
			Port:            q.Port,
			APIKey:          q.APIKey,
			UseTLS:          q.UseTLS,
			PoolSize:        q.PoolSize,
			MaxMessageBytes: q.MaxMessageMB << 20,
			Timeout:         time.Duration(q.TimeoutSeconds) * time.Second,
			UpsertBatchSize: cfg.Store.UpsertBatchSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// embedder returns the shared embedding pool, creating it on first use.
func (a *app) embedder(ctx context.Context) (*embed.SessionPool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	e := a.cfg.Embedding
	pool, err := embed.NewPool(ctx, embed.Settings{
		Provider:    embed.ParseProvider(e.Provider),
		Model:       e.Model,
		OllamaHost:  e.OllamaHost,
		Dimensions:  e.Dimensions,
		BatchSize:   e.BatchSize,
		Timeout:     time.Duration(e.TimeoutSeconds) * time.Second,
		MaxSessions: e.MaxSessions,
		MaxRetries:  e.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("embedder_initialized",
		slog.String("provider", e.Provider),
		slog.String("model", pool.ModelName()),
		slog.Int("dimensions", pool.Dimensions()))
	a.pool = pool
	return pool, nil
}

// profile resolves the configured search profile, then name and fusion
// overrides from flags.
func (a *app) profile(name, fusion string) (search.Profile, error) {
	s := a.cfg.Search
	if name == "" {
		name = s.Profile
	}
	p, err := search.LookupProfile(name)
	if err != nil {
		return p, err
	}
	if fusion == "" {
		fusion = s.Fusion
	}
	return p.Apply(search.Overrides{
		Fusion:           fusion,
		DenseMultiplier:  s.DensePrefetchMultiplier,
		SparseMultiplier: s.SparsePrefetchMultiplier,
		FilenameBoost:    s.FilenameBoost,
		ScoreThreshold:   s.ScoreThreshold,
	})
}

// renderer returns the progress renderer for sync output.
func (a *app) renderer(out io.Writer) ui.Renderer {
	return ui.NewRenderer(ui.Config{Output: out, Quiet: a.opts.quiet})
}

// runner builds the sync pipeline.
func (a *app) runner(ctx context.Context, renderer ui.Renderer) (*index.Runner, error) {
	pool, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	c := a.cfg.Chunking
	return index.NewRunner(index.RunnerDependencies{
		Repos:   a.repos,
		Planner: a.planner,
		Locker:  a.locker,
		Store:   a.store,
		Writer:  index.NewWriter(a.store, a.cfg.Store.UpsertBatchSize),
		Vocab:   a.vocabs,
		Chunker: chunk.NewEngine(chunk.Options{
			WindowSize:        c.WindowSize,
			WindowOverlap:     c.WindowOverlap,
			MaxChunkBytes:     c.MaxChunkBytes,
			DisableStructural: c.DisableStructural,
		}),
		Embedder: pool,
		Sparse:   a.sparse,
		Renderer: renderer,
		Logger:   a.logger,
	}, index.RunnerConfig{
		Workers:        a.cfg.Sync.Workers,
		MaxFileBytes:   a.cfg.Sync.MaxFileBytes,
		EmbedBatchSize: a.cfg.Embedding.BatchSize,
		WaitForLock:    a.cfg.Sync.WaitForLock,
		Exclude:        a.cfg.Sync.Exclude,
	})
}

// engine builds the query engine for a profile.
func (a *app) engine(ctx context.Context, prof search.Profile) (*search.Engine, error) {
	pool, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	return search.NewEngine(a.repos, a.store, a.vocabs,
		embed.NewCachedEmbedder(pool, a.cfg.Embedding.QueryCacheSize), a.tok,
		search.EngineConfig{
			Profile:      prof,
			RRFConstant:  a.cfg.Search.RRFConstant,
			DefaultLimit: a.cfg.Search.DefaultLimit,
		},
		search.WithLogger(a.logger))
}

// repairService builds the repair service on top of a runner.
func (a *app) repairService(ctx context.Context, renderer ui.Renderer) (*repair.Service, error) {
	runner, err := a.runner(ctx, renderer)
	if err != nil {
		return nil, err
	}
	return repair.NewService(a.repos, a.planner, a.store, a.vocabs, runner, a.logger), nil
}

// Close releases everything openApp and later calls acquired.
func (a *app) Close() {
	if a.vocabs != nil {
		_ = a.vocabs.Close()
	}
	if a.pool != nil {
		_ = a.pool.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store_close_failed", slog.String("error", err.Error()))
		}
	}
	if a.repos != nil {
		_ = a.repos.Close()
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
}
