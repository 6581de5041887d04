// Package search answers natural-language queries against a repository's
// collection with a dense and a sparse prefetch fused into one ranking.
package search

import (
	"context"

	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/store"
)

// Query limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100

	// Prefetch is widened so deduplication still leaves limit results.
	hybridDedupMultiplier    = 8
	denseOnlyDedupMultiplier = 4
)

// Filters restricts results. Empty fields match everything.
type Filters struct {
	Language      string
	PathPrefix    string
	ElementType   string
	FileExtension string
}

func (f Filters) toStore() store.Filter { return store.Filter(f) }

// Result is one ranked chunk.
type Result struct {
	Path        string
	StartByte   int
	EndByte     int
	StartLine   int
	EndLine     int
	Score       float64
	Snippet     string
	Language    string
	ElementType string
	SymbolName  string
}

// Repositories resolves a repository name to its collection.
type Repositories interface {
	Get(ctx context.Context, name string) (*repostate.Repository, error)
}
