// Package sparse builds the term-frequency sparse vectors stored next to each
// dense embedding.
//
// Index-time weights are log-normalized term frequencies, 1 + ln(count), so a
// single repeated token cannot dominate a chunk. Query-time weights are 1.0
// per distinct known token; the store applies IDF. Tokens derived from the
// file's own name are multiplied by a filename boost on both sides.
package sparse

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/llamaha/sagitta-sub001/internal/tokenizer"
)

// DefaultFilenameBoost is used when no boost is configured.
const DefaultFilenameBoost = 2.0

// Vector is a sparse vector with strictly ascending, unique indices.
type Vector struct {
	Indices []uint32
	Values  []float32
}

// Len returns the number of non-zero entries.
func (v Vector) Len() int { return len(v.Indices) }

// IsEmpty reports whether the vector has no entries.
func (v Vector) IsEmpty() bool { return len(v.Indices) == 0 }

// Vocabulary resolves tokens to stable indices.
type Vocabulary interface {
	AddTokens(ctx context.Context, tokens []string) (map[string]uint32, error)
	GetID(ctx context.Context, token string) (uint32, bool)
}

// Builder turns chunk and query text into sparse vectors. It must be built
// from the same tokenizer configuration for indexing and querying.
type Builder struct {
	tok   *tokenizer.Tokenizer
	boost float64
}

// NewBuilder creates a builder. A non-positive boost selects DefaultFilenameBoost.
func NewBuilder(tok *tokenizer.Tokenizer, filenameBoost float64) *Builder {
	if filenameBoost <= 0 {
		filenameBoost = DefaultFilenameBoost
	}
	return &Builder{tok: tok, boost: filenameBoost}
}

// Tokenizer returns the builder's tokenizer.
func (b *Builder) Tokenizer() *tokenizer.Tokenizer { return b.tok }

// FilenameBoost returns the boost factor.
func (b *Builder) FilenameBoost() float64 { return b.boost }

// Fingerprint identifies everything that shapes stored vectors: the
// tokenizer settings and the index-time filename boost. Collections built
// under one fingerprint cannot be extended under another.
func (b *Builder) Fingerprint() string {
	return fmt.Sprintf("%s;filename_boost=%g", b.tok.Config().Fingerprint(), b.boost)
}

// IndexWeights computes per-term weights for a chunk of the file at path.
// Filename-derived terms are included even when the chunk never mentions
// them, so a query for the file name reaches every chunk of the file.
func (b *Builder) IndexWeights(path, text string) (map[string]float64, error) {
	terms, err := b.tok.Terms(text)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}

	fromName := b.filenameTokens(path)
	for t := range fromName {
		if counts[t] == 0 {
			counts[t] = 1
		}
	}

	weights := make(map[string]float64, len(counts))
	for t, c := range counts {
		w := 1 + math.Log(float64(c))
		if _, ok := fromName[t]; ok {
			w *= b.boost
		}
		weights[t] = w
	}
	return weights, nil
}

// Build computes the sparse vector of a chunk, allocating vocabulary ids for
// new terms. Ids are durable before Build returns.
func (b *Builder) Build(ctx context.Context, vocab Vocabulary, path, text string) (Vector, error) {
	weights, err := b.IndexWeights(path, text)
	if err != nil {
		return Vector{}, err
	}
	if len(weights) == 0 {
		return Vector{}, nil
	}

	terms := make([]string, 0, len(weights))
	for t := range weights {
		terms = append(terms, t)
	}
	ids, err := vocab.AddTokens(ctx, terms)
	if err != nil {
		return Vector{}, err
	}

	byID := make(map[uint32]float64, len(weights))
	for t, w := range weights {
		byID[ids[t]] += w
	}
	return fromMap(byID), nil
}

// QueryTerms returns the distinct query terms and the subset that is
// filename-shaped.
func (b *Builder) QueryTerms(query string) (terms []string, boosted map[string]struct{}, err error) {
	all, err := b.tok.Terms(query)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]struct{}, len(all))
	for _, t := range all {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}

	boosted = make(map[string]struct{})
	for _, word := range FilenameWords(query) {
		wordTerms, err := b.tok.Terms(word)
		if err != nil {
			continue
		}
		for _, t := range wordTerms {
			boosted[t] = struct{}{}
		}
	}
	return terms, boosted, nil
}

// BuildQuery computes the sparse query vector. Unknown tokens are dropped,
// never added to the vocabulary.
func (b *Builder) BuildQuery(ctx context.Context, vocab Vocabulary, query string) (Vector, error) {
	terms, boosted, err := b.QueryTerms(query)
	if err != nil {
		return Vector{}, err
	}

	byID := make(map[uint32]float64, len(terms))
	for _, t := range terms {
		id, ok := vocab.GetID(ctx, t)
		if !ok {
			continue
		}
		w := 1.0
		if _, ok := boosted[t]; ok {
			w = b.boost
		}
		byID[id] += w
	}
	return fromMap(byID), nil
}

// fromMap sorts indices ascending; the map already merged duplicates.
func fromMap(m map[uint32]float64) Vector {
	if len(m) == 0 {
		return Vector{}
	}
	v := Vector{
		Indices: make([]uint32, 0, len(m)),
		Values:  make([]float32, 0, len(m)),
	}
	for id := range m {
		v.Indices = append(v.Indices, id)
	}
	sort.Slice(v.Indices, func(i, j int) bool { return v.Indices[i] < v.Indices[j] })
	for _, id := range v.Indices {
		v.Values = append(v.Values, float32(m[id]))
	}
	return v
}
