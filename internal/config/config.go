// Package config provides configuration loading and structs for reqai.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
}

// ServerConfig holds HTTP server settings for the render surface API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Store kinds.
const (
	StoreKindHTTP = "http"
	StoreKindFile = "file"
)

// StoreConfig selects and tunes the record store client.
type StoreConfig struct {
	// Kind is "http" for a remote record store or "file" for a local JSON document.
	Kind string `yaml:"kind"`
	// BaseURL is the API root of a remote store, e.g. http://localhost:8000/api.
	BaseURL string `yaml:"base_url"`
	// DataPath is the JSON document used when Kind is "file".
	DataPath string `yaml:"data_path"`
	// Watch reloads DataPath when it changes on disk.
	Watch   bool          `yaml:"watch"`
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit is the sustained requests per second sent to a remote store; 0 disables limiting.
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Breaker   BreakerConfig `yaml:"breaker"`
	// ExportPath is the path the export trigger navigates to.
	ExportPath string `yaml:"export_path"`
}

// BreakerConfig holds circuit breaker settings for remote store calls.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Embedding provider kinds.
const (
	ProviderONNX = "onnx"
	ProviderMock = "mock"
)

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	// Pooling is the token pooling strategy requested from the provider ("mean" or "cls").
	Pooling   string `yaml:"pooling"`
	Normalize *bool  `yaml:"normalize"`
}

// NormalizeOrDefault returns whether vectors are L2-normalized; defaults to true when unset.
func (e *EmbeddingConfig) NormalizeOrDefault() bool {
	if e.Normalize != nil {
		return *e.Normalize
	}
	return true
}

// Snapshot store kinds.
const (
	SnapshotSQLite = "sqlite"
	SnapshotDisk   = "disk"
)

// IndexConfig holds embedding index and similarity search settings.
type IndexConfig struct {
	// EntityType is the search-enabled entity type.
	EntityType string `yaml:"entity_type"`
	// TextField is the descriptive field embedded for each entity.
	TextField     string  `yaml:"text_field"`
	TagField      string  `yaml:"tag_field"`
	VersionField  string  `yaml:"version_field"`
	BatchSize     int     `yaml:"batch_size"`
	MinSimilarity float64 `yaml:"min_similarity"`
	SnapshotStore string  `yaml:"snapshot_store"`
	SnapshotPath  string  `yaml:"snapshot_path"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.DataPath = expandPath(cfg.Store.DataPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Index.SnapshotPath = expandPath(cfg.Index.SnapshotPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreKindHTTP:
		if c.Store.BaseURL == "" {
			return fmt.Errorf("store.base_url is required for kind %q", StoreKindHTTP)
		}
	case StoreKindFile:
	default:
		return fmt.Errorf("unknown store kind: %s (supported: http, file)", c.Store.Kind)
	}
	switch c.Embedding.Provider {
	case ProviderONNX, ProviderMock:
	default:
		return fmt.Errorf("unknown embedding provider: %s (supported: onnx, mock)", c.Embedding.Provider)
	}
	switch c.Index.SnapshotStore {
	case SnapshotSQLite, SnapshotDisk:
	default:
		return fmt.Errorf("unknown snapshot store: %s (supported: sqlite, disk)", c.Index.SnapshotStore)
	}
	if c.Index.MinSimilarity < 0 || c.Index.MinSimilarity >= 1 {
		return fmt.Errorf("index.min_similarity must be in [0,1), got %v", c.Index.MinSimilarity)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
