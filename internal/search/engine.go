package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llamaha/sagitta-sub001/internal/embed"
	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
	"github.com/llamaha/sagitta-sub001/internal/store"
	"github.com/llamaha/sagitta-sub001/internal/tokenizer"
	"github.com/llamaha/sagitta-sub001/internal/vocab"
)

// EngineConfig is the query configuration, fixed at construction.
type EngineConfig struct {
	Profile      Profile
	RRFConstant  int
	DefaultLimit int
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for query events.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine runs hybrid queries. Safe for concurrent use; queries may run while
// the same repository is syncing and see a partially updated collection.
type Engine struct {
	repos    Repositories
	store    store.VectorStore
	vocab    *vocab.Registry
	embedder embed.Embedder
	sparse   *sparse.Builder
	fuser    *Fuser
	cfg      EngineConfig
	logger   *slog.Logger
}

// NewEngine creates a query engine. tok must be configured exactly like the
// tokenizer used at index time.
func NewEngine(
	repos Repositories,
	vs store.VectorStore,
	vocabs *vocab.Registry,
	embedder embed.Embedder,
	tok *tokenizer.Tokenizer,
	cfg EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	switch {
	case repos == nil:
		return nil, fmt.Errorf("repository registry is required")
	case vs == nil:
		return nil, fmt.Errorf("vector store is required")
	case vocabs == nil:
		return nil, fmt.Errorf("vocabulary registry is required")
	case embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case tok == nil:
		return nil, fmt.Errorf("tokenizer is required")
	}
	if cfg.Profile.Name == "" {
		cfg.Profile = DefaultProfile()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	e := &Engine{
		repos:    repos,
		store:    vs,
		vocab:    vocabs,
		embedder: embedder,
		sparse:   sparse.NewBuilder(tok, cfg.Profile.FilenameBoost),
		fuser:    NewFuser(cfg.Profile.Fusion, cfg.RRFConstant),
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Profile returns the active profile.
func (e *Engine) Profile() Profile { return e.cfg.Profile }

// Query searches repo for text and returns at most limit results, best first.
func (e *Engine) Query(ctx context.Context, repo, text string, filters Filters, limit int) ([]Result, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	switch {
	case limit <= 0:
		limit = e.cfg.DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	r, err := e.repos.Get(ctx, repo)
	if err != nil {
		return nil, err
	}
	coll := r.CollectionName
	exists, err := e.store.CollectionExists(ctx, coll)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.CollectionMissingOrEmpty(coll, false).
			WithSuggestion(fmt.Sprintf("Run 'sagitta sync %s' first", repo))
	}

	v, err := e.vocab.Get(ctx, coll)
	if err != nil {
		return nil, err
	}
	sparseVec, err := e.sparse.BuildQuery(ctx, v, text)
	if err != nil {
		return nil, err
	}
	dense, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hybrid := !sparseVec.IsEmpty()
	expanded := limit * denseOnlyDedupMultiplier
	if hybrid {
		expanded = limit * hybridDedupMultiplier
	}
	profile := e.cfg.Profile
	filter := filters.toStore()

	var denseHits, sparseHits []*store.ScoredPoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseHits, err = e.store.Search(gctx, coll, &store.SearchRequest{
			Using: store.VectorDense, Dense: dense,
			Limit: expanded * profile.DenseMultiplier, Filter: filter,
		})
		return err
	})
	if hybrid {
		g.Go(func() error {
			var err error
			sparseHits, err = e.store.Search(gctx, coll, &store.SearchRequest{
				Using: store.VectorSparse, Sparse: sparseVec,
				Limit: expanded * profile.SparseMultiplier, Filter: filter,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lists := [][]*store.ScoredPoint{denseHits}
	if hybrid {
		lists = append(lists, sparseHits)
	}
	fused := e.fuser.Fuse(lists...)
	if len(fused) > expanded {
		fused = fused[:expanded]
	}
	fused = applyThreshold(fused, profile.ScoreThreshold, e.fuser.Ceiling(len(lists)))
	reorderByFilename(fused, sparse.FilenameWords(text), profile.FilenameBoost)
	fused = dedup(fused)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]Result, len(fused))
	for i, f := range fused {
		p := f.Payload
		results[i] = Result{
			Path:        p.FilePath,
			StartByte:   p.StartByte,
			EndByte:     p.EndByte,
			StartLine:   p.StartLine,
			EndLine:     p.EndLine,
			Score:       f.Score,
			Snippet:     p.Content,
			Language:    p.Language,
			ElementType: p.ElementType,
			SymbolName:  p.SymbolName,
		}
	}

	e.logger.Info("query_complete",
		slog.String("repo", repo),
		slog.String("profile", profile.Name),
		slog.String("fusion", string(profile.Fusion)),
		slog.Bool("hybrid", hybrid),
		slog.Int("dense_hits", len(denseHits)),
		slog.Int("sparse_hits", len(sparseHits)),
		slog.Int("results", len(results)),
		slog.Int("limit", limit),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return results, nil
}
