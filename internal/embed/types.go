package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// MaxBatchSize caps a single backend request
	MaxBatchSize = 256

	// DefaultTimeout is the per-request timeout for HTTP backends
	DefaultTimeout = 60 * time.Second

	// DefaultMaxSessions bounds concurrent embedding executions
	DefaultMaxSessions = 4

	// DefaultMaxRetries is how many fresh sessions a failed batch is retried on
	DefaultMaxRetries = 2

	// StaticDimensions is the default dimension of the static embedder
	StaticDimensions = 384
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, one per input, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Close releases resources
	Close() error
}

// Factory creates a fresh embedding session. The pool calls it to replace
// sessions that failed mid-batch.
type Factory func(ctx context.Context) (Embedder, error)

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
