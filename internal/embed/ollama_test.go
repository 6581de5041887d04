package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// fakeOllama serves /api/embed with 3-dimensional vectors.
func fakeOllama(t *testing.T, status *atomic.Int64, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if code := status.Load(); code != 0 && code != http.StatusOK {
			w.WriteHeader(int(code))
			_, _ = w.Write([]byte("model not loaded"))
			return
		}
		var req OllamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n := 1
		if list, ok := req.Input.([]any); ok {
			n = len(list)
		}
		resp := OllamaEmbedResponse{Model: req.Model}
		for i := 0; i < n; i++ {
			resp.Embeddings = append(resp.Embeddings, []float64{3, 4, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_DetectsDimensionsAndBatches(t *testing.T) {
	var status, requests atomic.Int64
	srv := fakeOllama(t, &status, &requests)

	// Given: an embedder with batch size 2 and auto-detected dimensions
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, BatchSize: 2}, nil)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 3, e.Dimensions())
	requests.Store(0)

	// When: embedding five texts
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	// Then: three requests were made and vectors are normalized
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, int64(3), requests.Load())
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
}

func TestOllamaEmbedder_UnreachableServer(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: "http://127.0.0.1:1"}, nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmbeddingBackend))
}

func TestOllamaEmbedder_CircuitOpensAfterFailures(t *testing.T) {
	var status, requests atomic.Int64
	srv := fakeOllama(t, &status, &requests)
	breaker := errors.NewCircuitBreaker("test", errors.WithMaxFailures(2), errors.WithResetTimeout(time.Hour))

	e, err := NewOllamaEmbedder(context.Background(),
		OllamaConfig{Host: srv.URL, Dimensions: 3, SkipHealthCheck: true}, breaker)
	require.NoError(t, err)

	status.Store(http.StatusInternalServerError)
	for i := 0; i < 2; i++ {
		_, err := e.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	before := requests.Load()

	_, err = e.Embed(context.Background(), "x")

	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.Equal(t, before, requests.Load(), "open circuit does not reach the server")
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(Settings{Provider: ProviderStatic, Dimensions: 32})
	require.NoError(t, err)
	s, err := f(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, s.Dimensions())

	_, err = NewFactory(Settings{Provider: "bogus"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("Ollama"))
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderStatic, ParseProvider(""))
}
