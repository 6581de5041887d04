package embed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a test double that counts calls and can be told to fail.
type mockEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	closed     atomic.Bool
	dimensions int
	modelName  string

	// failOn makes EmbedBatch fail when it returns true for the batch.
	failOn func(texts []string) bool
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims, modelName: "mock-model"}
}

func (m *mockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	vec[len(text)%m.dimensions] = 1
	return vec
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	if m.failOn != nil && m.failOn(texts) {
		return nil, fmt.Errorf("mock failure")
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.vector(text)
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int   { return m.dimensions }
func (m *mockEmbedder) ModelName() string { return m.modelName }
func (m *mockEmbedder) Close() error {
	m.closed.Store(true)
	return nil
}

func TestCachedEmbedder_Embed_CachesByText(t *testing.T) {
	// Given: a cached embedder over a counting mock
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: embedding the same query twice
	first, err := cached.Embed(ctx, "http handler")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "http handler")
	require.NoError(t, err)

	// Then: the backend is called once
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_EmbedBatch_OnlyMissesReachBackend(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	var seen []string
	inner.failOn = func(texts []string) bool {
		seen = append(seen, texts...)
		return false
	}
	out, err := cached.EmbedBatch(ctx, []string{"a", "bb", "ccc"})

	require.NoError(t, err)
	assert.Equal(t, []string{"bb", "ccc"}, seen)
	require.Len(t, out, 3)
	assert.Equal(t, inner.vector("a"), out[0])
	assert.Equal(t, inner.vector("ccc"), out[2])
}

func TestCachedEmbedder_EvictsLeastRecent(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, err := cached.Embed(ctx, q)
		require.NoError(t, err)
	}
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, int64(4), inner.embedCalls.Load(), "a was evicted and recomputed")
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedder_ConcurrentUse(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := cached.Embed(ctx, fmt.Sprintf("q%d", i%4))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cached.Len(), 4)
}
