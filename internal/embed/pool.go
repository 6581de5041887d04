package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// PoolConfig configures a SessionPool.
type PoolConfig struct {
	// MaxSessions bounds concurrent embedding executions (default 4).
	MaxSessions int
	// MaxRetries is how many times a failed batch is retried on a fresh
	// session before an EmbeddingError is returned (default 2).
	MaxRetries int
}

// SessionPool is a bounded set of embedding sessions shared by every
// repository. A caller waiting for a free session blocks only itself.
// Sessions that fail mid-batch are closed and replaced.
type SessionPool struct {
	factory Factory
	cfg     PoolConfig
	sem     *semaphore.Weighted

	mu     sync.Mutex
	idle   []Embedder
	dims   int
	model  string
	closed bool
}

var _ Embedder = (*SessionPool)(nil)

// NewSessionPool creates a pool and eagerly creates one session to learn the
// backend's dimensions and model name.
func NewSessionPool(ctx context.Context, factory Factory, cfg PoolConfig) (*SessionPool, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	first, err := factory(ctx)
	if err != nil {
		return nil, errors.EmbeddingError("create embedding session", err)
	}

	return &SessionPool{
		factory: factory,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSessions)),
		idle:    []Embedder{first},
		dims:    first.Dimensions(),
		model:   first.ModelName(),
	}, nil
}

// EmbedBatch embeds texts on one session. On failure the session is
// discarded and the batch retried on a fresh one, up to MaxRetries times.
func (p *SessionPool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session, err := p.take(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		vecs, err := session.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) != len(texts) {
			err = fmt.Errorf("session returned %d embeddings for %d texts", len(vecs), len(texts))
		}
		if err == nil {
			p.put(session)
			return vecs, nil
		}

		// A session that failed mid-batch may be in an unknown state.
		_ = session.Close()
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("embedding_session_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", p.cfg.MaxRetries),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
	}

	return nil, errors.EmbeddingError(fmt.Sprintf("embedding failed after %d attempts", p.cfg.MaxRetries+1), lastErr)
}

// Embed embeds a single text.
func (p *SessionPool) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// take returns an idle session or creates one. Callers hold a semaphore
// slot, so at most MaxSessions sessions are ever in use.
func (p *SessionPool) take(ctx context.Context) (Embedder, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("session pool is closed")
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create embedding session: %w", err)
	}
	return s, nil
}

func (p *SessionPool) put(s Embedder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = s.Close()
		return
	}
	p.idle = append(p.idle, s)
}

// Idle returns the number of idle sessions.
func (p *SessionPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Dimensions returns the embedding dimension.
func (p *SessionPool) Dimensions() int { return p.dims }

// ModelName returns the model identifier.
func (p *SessionPool) ModelName() string { return p.model }

// Close closes every idle session. Sessions in use are closed when returned.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, s := range p.idle {
		_ = s.Close()
	}
	p.idle = nil
	return nil
}
