// Package repair rebuilds collections that drifted from their repository.
package repair

import (
	"context"
	"log/slog"
	"time"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/index"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/store"
	"github.com/llamaha/sagitta-sub001/internal/syncer"
	"github.com/llamaha/sagitta-sub001/internal/vocab"
)

// Repair reasons recorded on the repository.
const (
	ReasonCollectionMissing = "collection missing"
	ReasonCollectionEmpty   = "collection empty"
	ReasonTokenizerChanged  = "tokenizer configuration changed"
	ReasonDimensionsChanged = "embedding dimensions changed"
	ReasonRequested         = "requested"
)

// Repositories is the part of the registry repair needs.
type Repositories interface {
	Get(ctx context.Context, name string) (*repostate.Repository, error)
	List(ctx context.Context) ([]*repostate.Repository, error)
	ClearWatermark(ctx context.Context, name string) error
	SetRepairReason(ctx context.Context, name, reason string) error
}

var _ Repositories = (*repostate.Store)(nil)

// Syncer runs a sync and reports the dense vector size it writes.
type Syncer interface {
	Sync(ctx context.Context, name string, force bool) (*index.SyncReport, error)
	Dimensions() int
}

var _ Syncer = (*index.Runner)(nil)

// Outcome is the result of repairing one repository.
type Outcome struct {
	Repo   string
	Reason string
	Before syncer.Health
	Sync   *index.SyncReport
	Err    error
}

// RepairReport aggregates outcomes.
type RepairReport struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Failed counts repositories whose repair returned an error.
func (r *RepairReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Service repairs repositories.
type Service struct {
	repos   Repositories
	planner *syncer.Planner
	store   store.VectorStore
	vocab   *vocab.Registry
	syncer  Syncer
	logger  *slog.Logger
}

// NewService creates a repair service.
func NewService(repos Repositories, planner *syncer.Planner, vs store.VectorStore, vocabs *vocab.Registry, s Syncer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repos: repos, planner: planner, store: vs, vocab: vocabs, syncer: s, logger: logger}
}

// Validate reports the health of a repository's collection.
func (s *Service) Validate(ctx context.Context, name string) (syncer.Health, error) {
	repo, err := s.repos.Get(ctx, name)
	if err != nil {
		return syncer.Health{}, err
	}
	return s.planner.CollectionHealth(ctx, repo.CollectionName)
}

// Repair clears the watermark of one repository and runs a forced sync. A
// vocabulary built with another tokenizer configuration is dropped together
// with the collection, since every stored sparse vector refers to its ids. A
// collection whose dense vectors no longer match the embedder is dropped so
// the sync can recreate it.
func (s *Service) Repair(ctx context.Context, name string) (*RepairReport, error) {
	start := time.Now()
	o := s.repair(ctx, name)
	report := &RepairReport{Outcomes: []Outcome{o}, Duration: time.Since(start)}
	return report, o.Err
}

// RepairAll repairs every registered repository, continuing past failures.
func (s *Service) RepairAll(ctx context.Context) (*RepairReport, error) {
	start := time.Now()
	repos, err := s.repos.List(ctx)
	if err != nil {
		return nil, err
	}
	report := &RepairReport{}
	for _, r := range repos {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Outcomes = append(report.Outcomes, s.repair(ctx, r.Name))
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (s *Service) repair(ctx context.Context, name string) Outcome {
	o := Outcome{Repo: name}
	repo, err := s.repos.Get(ctx, name)
	if err != nil {
		o.Err = err
		return o
	}

	o.Before, err = s.planner.CollectionHealth(ctx, repo.CollectionName)
	if err != nil {
		o.Err = err
		return o
	}
	switch {
	case !o.Before.Exists:
		o.Reason = ReasonCollectionMissing
	case o.Before.PointCount == 0:
		o.Reason = ReasonCollectionEmpty
	default:
		o.Reason = ReasonRequested
	}

	dropCollection := false
	if dims := s.syncer.Dimensions(); o.Before.Exists && o.Before.Dimensions != 0 && o.Before.Dimensions != dims {
		o.Reason = ReasonDimensionsChanged
		dropCollection = true
	}
	if _, err := s.vocab.Get(ctx, repo.CollectionName); errors.HasCode(err, errors.ErrCodeTokenizerMismatch) {
		o.Reason = ReasonTokenizerChanged
		if err := s.vocab.Drop(repo.CollectionName); err != nil {
			o.Err = errors.VocabularyPersistenceError("drop vocabulary", err)
			return o
		}
		dropCollection = o.Before.Exists
	} else if err != nil {
		o.Err = err
		return o
	}

	if dropCollection {
		if err := s.store.DeleteCollection(ctx, repo.CollectionName); err != nil {
			o.Err = err
			return o
		}
	}

	s.logger.Info("repair_started",
		slog.String("repo", name),
		slog.String("collection", repo.CollectionName),
		slog.String("reason", o.Reason),
		slog.Bool("collection_exists", o.Before.Exists),
		slog.Uint64("points", o.Before.PointCount),
		slog.Int("dimensions", o.Before.Dimensions))

	if err := s.repos.SetRepairReason(ctx, name, o.Reason); err != nil {
		o.Err = err
		return o
	}
	if err := s.repos.ClearWatermark(ctx, name); err != nil {
		o.Err = err
		return o
	}

	o.Sync, o.Err = s.syncer.Sync(ctx, name, true)
	if o.Err != nil {
		s.logger.Error("repair_failed",
			slog.String("repo", name),
			slog.String("code", errors.GetCode(o.Err)),
			slog.String("error", o.Err.Error()))
	}
	return o
}
