// Package config loads sagitta configuration.
//
// Precedence, lowest first: built-in defaults, the user config file
// ($XDG_CONFIG_HOME/sagitta/config.yaml), the project file (.sagitta.yaml in the
// working repository) and SAGITTA_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Paths     PathsConfig     `yaml:"paths"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Sync      SyncConfig      `yaml:"sync"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig locates local state.
type PathsConfig struct {
	// DataDir holds repos.db, vocabularies, local collections, locks and logs.
	DataDir string `yaml:"data_dir"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	// Backend is "qdrant" or "local".
	Backend          string       `yaml:"backend"`
	Qdrant           QdrantConfig `yaml:"qdrant"`
	CollectionPrefix string       `yaml:"collection_prefix"`
	Tenant           string       `yaml:"tenant"`
	UpsertBatchSize  int          `yaml:"upsert_batch_size"`
	// HNSWM and HNSWEfSearch tune the local backend's dense graph.
	HNSWM        int `yaml:"hnsw_m"`
	HNSWEfSearch int `yaml:"hnsw_ef_search"`
}

// QdrantConfig holds gRPC connection settings.
type QdrantConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	UseTLS         bool   `yaml:"use_tls"`
	PoolSize       uint   `yaml:"pool_size"`
	MaxMessageMB   int    `yaml:"max_message_mb"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// EmbeddingConfig configures the dense embedding sessions.
type EmbeddingConfig struct {
	// Provider is "static" (offline, hashed features) or "ollama".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	OllamaHost string `yaml:"ollama_host"`
	Dimensions int    `yaml:"dimensions"`
	// MaxSessions bounds concurrent embedding executions.
	MaxSessions    int `yaml:"max_sessions"`
	MaxRetries     int `yaml:"max_retries"`
	BatchSize      int `yaml:"batch_size"`
	QueryCacheSize int `yaml:"query_cache_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ChunkingConfig configures structural and window chunking.
type ChunkingConfig struct {
	WindowSize    int `yaml:"window_size"`
	WindowOverlap int `yaml:"window_overlap"`
	// MaxChunkBytes splits structural chunks larger than this.
	MaxChunkBytes int `yaml:"max_chunk_bytes"`
	// DisableStructural forces window chunking for every language.
	DisableStructural bool `yaml:"disable_structural"`
}

// TokenizerConfig must be identical at index and query time. Changing it
// requires `sagitta repair` on every repository.
type TokenizerConfig struct {
	PreserveCase  bool `yaml:"preserve_case"`
	SplitCompound bool `yaml:"split_compound"`

	// FilenameBoost multiplies filename terms in stored sparse vectors. It is
	// fixed per index; search profiles only weight the query side.
	FilenameBoost float64 `yaml:"filename_boost"`
}

// SyncConfig configures change detection and the write pipeline.
type SyncConfig struct {
	// IncrementalThreshold is the largest changed/total file ratio that still
	// syncs incrementally.
	IncrementalThreshold float64 `yaml:"incremental_threshold"`
	Workers              int     `yaml:"workers"`
	StoreRetries         int     `yaml:"store_retries"`
	MaxFileBytes         int64   `yaml:"max_file_bytes"`
	// WaitForLock blocks on a held repository lock instead of failing.
	WaitForLock bool `yaml:"wait_for_lock"`
	// Exclude holds gitignore-style patterns of tracked files to skip; each
	// repository's .sagittaignore adds to them.
	Exclude []string `yaml:"exclude"`
}

// SearchConfig selects a search profile and optional overrides.
type SearchConfig struct {
	Profile      string `yaml:"profile"`
	DefaultLimit int    `yaml:"default_limit"`
	RRFConstant  int    `yaml:"rrf_constant"`
	// Overrides; zero values inherit from the profile.
	Fusion                   string  `yaml:"fusion"`
	DensePrefetchMultiplier  int     `yaml:"dense_prefetch_multiplier"`
	SparsePrefetchMultiplier int     `yaml:"sparse_prefetch_multiplier"`
	FilenameBoost            float64 `yaml:"filename_boost"`
	ScoreThreshold           float64 `yaml:"score_threshold"`
}

// WatchConfig configures the auto-sync watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Store: StoreConfig{
			Backend: "qdrant",
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				PoolSize:       3,
				MaxMessageMB:   64,
				TimeoutSeconds: 30,
			},
			CollectionPrefix: "repo_",
			Tenant:           "local",
			UpsertBatchSize:  64,
			HNSWM:            16,
			HNSWEfSearch:     64,
		},
		Embedding: EmbeddingConfig{
			Provider:       "static",
			Model:          "nomic-embed-text",
			OllamaHost:     "http://localhost:11434",
			Dimensions:     384,
			MaxSessions:    4,
			MaxRetries:     2,
			BatchSize:      32,
			QueryCacheSize: 256,
			TimeoutSeconds: 60,
		},
		Chunking: ChunkingConfig{
			WindowSize:    1500,
			WindowOverlap: 200,
			MaxChunkBytes: 4000,
		},
		Tokenizer: TokenizerConfig{
			FilenameBoost: 2.0,
		},
		Sync: SyncConfig{
			IncrementalThreshold: 0.5,
			Workers:              4,
			StoreRetries:         3,
			MaxFileBytes:         1 << 20,
		},
		Search: SearchConfig{
			Profile:      "default",
			DefaultLimit: 10,
			RRFConstant:  60,
		},
		Watch: WatchConfig{
			Debounce: "2s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns ~/.sagitta.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sagitta")
	}
	return filepath.Join(home, ".sagitta")
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/sagitta/config.yaml, falling back
// to ~/.config/sagitta/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sagitta", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sagitta", "config.yaml")
	}
	return filepath.Join(home, ".config", "sagitta", "config.yaml")
}

// Load builds the effective configuration for a working directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}
	if dir != "" {
		for _, name := range []string{".sagitta.yaml", ".sagitta.yml"} {
			if path := filepath.Join(dir, name); fileExists(path) {
				if err := cfg.loadYAML(path); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults merged with a single explicit file, then env.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(o *Config) {
	if o.Version != 0 {
		c.Version = o.Version
	}
	setString(&c.Paths.DataDir, o.Paths.DataDir)

	setString(&c.Store.Backend, o.Store.Backend)
	setString(&c.Store.Qdrant.Host, o.Store.Qdrant.Host)
	setInt(&c.Store.Qdrant.Port, o.Store.Qdrant.Port)
	setString(&c.Store.Qdrant.APIKey, o.Store.Qdrant.APIKey)
	if o.Store.Qdrant.UseTLS {
		c.Store.Qdrant.UseTLS = true
	}
	if o.Store.Qdrant.PoolSize != 0 {
		c.Store.Qdrant.PoolSize = o.Store.Qdrant.PoolSize
	}
	setInt(&c.Store.Qdrant.MaxMessageMB, o.Store.Qdrant.MaxMessageMB)
	setInt(&c.Store.Qdrant.TimeoutSeconds, o.Store.Qdrant.TimeoutSeconds)
	setString(&c.Store.CollectionPrefix, o.Store.CollectionPrefix)
	setString(&c.Store.Tenant, o.Store.Tenant)
	setInt(&c.Store.UpsertBatchSize, o.Store.UpsertBatchSize)
	setInt(&c.Store.HNSWM, o.Store.HNSWM)
	setInt(&c.Store.HNSWEfSearch, o.Store.HNSWEfSearch)

	setString(&c.Embedding.Provider, o.Embedding.Provider)
	setString(&c.Embedding.Model, o.Embedding.Model)
	setString(&c.Embedding.OllamaHost, o.Embedding.OllamaHost)
	setInt(&c.Embedding.Dimensions, o.Embedding.Dimensions)
	setInt(&c.Embedding.MaxSessions, o.Embedding.MaxSessions)
	setInt(&c.Embedding.MaxRetries, o.Embedding.MaxRetries)
	setInt(&c.Embedding.BatchSize, o.Embedding.BatchSize)
	setInt(&c.Embedding.QueryCacheSize, o.Embedding.QueryCacheSize)
	setInt(&c.Embedding.TimeoutSeconds, o.Embedding.TimeoutSeconds)

	setInt(&c.Chunking.WindowSize, o.Chunking.WindowSize)
	setInt(&c.Chunking.WindowOverlap, o.Chunking.WindowOverlap)
	setInt(&c.Chunking.MaxChunkBytes, o.Chunking.MaxChunkBytes)
	if o.Chunking.DisableStructural {
		c.Chunking.DisableStructural = true
	}

	if o.Tokenizer.PreserveCase {
		c.Tokenizer.PreserveCase = true
	}
	if o.Tokenizer.SplitCompound {
		c.Tokenizer.SplitCompound = true
	}
	if o.Tokenizer.FilenameBoost != 0 {
		c.Tokenizer.FilenameBoost = o.Tokenizer.FilenameBoost
	}

	if o.Sync.IncrementalThreshold != 0 {
		c.Sync.IncrementalThreshold = o.Sync.IncrementalThreshold
	}
	setInt(&c.Sync.Workers, o.Sync.Workers)
	setInt(&c.Sync.StoreRetries, o.Sync.StoreRetries)
	if o.Sync.MaxFileBytes != 0 {
		c.Sync.MaxFileBytes = o.Sync.MaxFileBytes
	}
	if o.Sync.WaitForLock {
		c.Sync.WaitForLock = true
	}
	if len(o.Sync.Exclude) > 0 {
		c.Sync.Exclude = o.Sync.Exclude
	}

	setString(&c.Search.Profile, o.Search.Profile)
	setInt(&c.Search.DefaultLimit, o.Search.DefaultLimit)
	setInt(&c.Search.RRFConstant, o.Search.RRFConstant)
	setString(&c.Search.Fusion, o.Search.Fusion)
	setInt(&c.Search.DensePrefetchMultiplier, o.Search.DensePrefetchMultiplier)
	setInt(&c.Search.SparsePrefetchMultiplier, o.Search.SparsePrefetchMultiplier)
	if o.Search.FilenameBoost != 0 {
		c.Search.FilenameBoost = o.Search.FilenameBoost
	}
	if o.Search.ScoreThreshold != 0 {
		c.Search.ScoreThreshold = o.Search.ScoreThreshold
	}

	setString(&c.Watch.Debounce, o.Watch.Debounce)

	setString(&c.Logging.Level, o.Logging.Level)
	setString(&c.Logging.Format, o.Logging.Format)
	setInt(&c.Logging.MaxSizeMB, o.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, o.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies SAGITTA_* variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SAGITTA_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("SAGITTA_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SAGITTA_QDRANT_HOST"); v != "" {
		c.Store.Qdrant.Host = v
	}
	if v := os.Getenv("SAGITTA_QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Store.Qdrant.Port = p
		}
	}
	if v := os.Getenv("SAGITTA_QDRANT_API_KEY"); v != "" {
		c.Store.Qdrant.APIKey = v
	}
	if v := os.Getenv("SAGITTA_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("SAGITTA_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("SAGITTA_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
	}
	if v := os.Getenv("SAGITTA_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.MaxSessions = n
		}
	}
	if v := os.Getenv("SAGITTA_SEARCH_PROFILE"); v != "" {
		c.Search.Profile = v
	}
	if v := os.Getenv("SAGITTA_SEARCH_FUSION"); v != "" {
		c.Search.Fusion = v
	}
	if v := os.Getenv("SAGITTA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case "qdrant", "local":
	default:
		return fmt.Errorf("store.backend must be 'qdrant' or 'local', got %q", c.Store.Backend)
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be 'static' or 'ollama', got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxSessions <= 0 {
		return fmt.Errorf("embedding.max_sessions must be positive, got %d", c.Embedding.MaxSessions)
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding.max_retries must be non-negative, got %d", c.Embedding.MaxRetries)
	}
	if c.Chunking.WindowSize <= 0 {
		return fmt.Errorf("chunking.window_size must be positive, got %d", c.Chunking.WindowSize)
	}
	if c.Chunking.WindowOverlap < 0 || c.Chunking.WindowOverlap >= c.Chunking.WindowSize {
		return fmt.Errorf("chunking.window_overlap must be in [0, window_size), got %d", c.Chunking.WindowOverlap)
	}
	if c.Tokenizer.FilenameBoost <= 0 {
		return fmt.Errorf("tokenizer.filename_boost must be positive, got %g", c.Tokenizer.FilenameBoost)
	}
	if c.Sync.IncrementalThreshold <= 0 || c.Sync.IncrementalThreshold > 1 {
		return fmt.Errorf("sync.incremental_threshold must be in (0, 1], got %g", c.Sync.IncrementalThreshold)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	switch strings.ToLower(c.Search.Fusion) {
	case "", "rrf", "dbsf":
	default:
		return fmt.Errorf("search.fusion must be 'rrf' or 'dbsf', got %q", c.Search.Fusion)
	}
	if c.Search.ScoreThreshold < 0 {
		return fmt.Errorf("search.score_threshold must be non-negative, got %g", c.Search.ScoreThreshold)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if _, err := c.DebounceDuration(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}
	return nil
}

// DebounceDuration parses Watch.Debounce.
func (c *Config) DebounceDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, fmt.Errorf("watch.debounce: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce)
	}
	return d, nil
}

// WriteYAML writes the configuration to path, keeping one .bak copy of an
// existing file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if old, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", old, 0o644); err != nil {
			return fmt.Errorf("failed to back up config file: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir to the nearest directory containing
// .git or .sagitta.yaml; it returns the absolute startDir when none is found.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	for dir := abs; ; {
		if dirExists(filepath.Join(dir, ".git")) || fileExists(filepath.Join(dir, ".sagitta.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
