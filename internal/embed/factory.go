package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (offline, deterministic)
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama HTTP API
	ProviderOllama ProviderType = "ollama"
)

// Settings selects and configures an embedding backend.
type Settings struct {
	Provider    ProviderType
	Model       string
	OllamaHost  string
	Dimensions  int
	BatchSize   int
	Timeout     time.Duration
	MaxSessions int
	MaxRetries  int
}

// NewFactory returns a session factory for the configured provider. Ollama
// sessions share one circuit breaker, so a dead server fails fast for every
// session instead of each timing out on its own.
func NewFactory(s Settings) (Factory, error) {
	switch s.Provider {
	case ProviderStatic, "":
		return func(context.Context) (Embedder, error) {
			return NewStaticEmbedder(s.Dimensions), nil
		}, nil
	case ProviderOllama:
		breaker := errors.NewCircuitBreaker("ollama",
			errors.WithMaxFailures(5),
			errors.WithResetTimeout(30*time.Second))
		cfg := OllamaConfig{
			Host:       s.OllamaHost,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			BatchSize:  s.BatchSize,
			Timeout:    s.Timeout,
			PoolSize:   s.MaxSessions,
		}
		return func(ctx context.Context) (Embedder, error) {
			return NewOllamaEmbedder(ctx, cfg, breaker)
		}, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown embedding provider %q", s.Provider), nil).
			WithSuggestion("Valid providers: " + strings.Join(ValidProviders(), ", "))
	}
}

// NewPool builds the session pool for the configured provider.
func NewPool(ctx context.Context, s Settings) (*SessionPool, error) {
	factory, err := NewFactory(s)
	if err != nil {
		return nil, err
	}
	return NewSessionPool(ctx, factory, PoolConfig{
		MaxSessions: s.MaxSessions,
		MaxRetries:  s.MaxRetries,
	})
}

// ParseProvider converts a string to ProviderType
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama", "llama":
		return ProviderOllama
	default:
		return ProviderStatic
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{string(ProviderStatic), string(ProviderOllama)}
}
