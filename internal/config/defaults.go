package config

import "time"

// DefaultBatchSize is the number of entities embedded per provider call.
const DefaultBatchSize = 10

// DefaultMinSimilarity is the exclusive lower bound for a search hit.
const DefaultMinSimilarity = 0.3

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Kind == "" {
		if cfg.Store.BaseURL != "" {
			cfg.Store.Kind = StoreKindHTTP
		} else {
			cfg.Store.Kind = StoreKindFile
		}
	}
	if cfg.Store.DataPath == "" {
		cfg.Store.DataPath = "/usr/local/var/reqai/data/requirements_data.json"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 10 * time.Second
	}
	if cfg.Store.RateLimit > 0 && cfg.Store.Burst == 0 {
		cfg.Store.Burst = 1
	}
	if cfg.Store.Breaker.MaxFailures == 0 {
		cfg.Store.Breaker.MaxFailures = 3
	}
	if cfg.Store.Breaker.Timeout == 0 {
		cfg.Store.Breaker.Timeout = 30 * time.Second
	}
	if cfg.Store.ExportPath == "" {
		cfg.Store.ExportPath = "/export"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/reqai/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Pooling == "" {
		cfg.Embedding.Pooling = "mean"
	}
	if cfg.Index.EntityType == "" {
		cfg.Index.EntityType = "requirements"
	}
	if cfg.Index.TextField == "" {
		cfg.Index.TextField = "description"
	}
	if cfg.Index.TagField == "" {
		cfg.Index.TagField = "tags"
	}
	if cfg.Index.VersionField == "" {
		cfg.Index.VersionField = "version"
	}
	if cfg.Index.BatchSize <= 0 {
		cfg.Index.BatchSize = DefaultBatchSize
	}
	if cfg.Index.MinSimilarity == 0 {
		cfg.Index.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.Index.SnapshotStore == "" {
		cfg.Index.SnapshotStore = SnapshotSQLite
	}
	if cfg.Index.SnapshotPath == "" {
		cfg.Index.SnapshotPath = "/usr/local/var/reqai/data/snapshots/index.db"
	}
}
