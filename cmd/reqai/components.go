package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/reqai/internal/cache"
	"github.com/hyperjump/reqai/internal/config"
	"github.com/hyperjump/reqai/internal/dispatch"
	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/filter"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/metrics"
	"github.com/hyperjump/reqai/internal/mutation"
	"github.com/hyperjump/reqai/internal/progress"
	"github.com/hyperjump/reqai/internal/recordstore"
	"github.com/hyperjump/reqai/internal/schema"
	"github.com/hyperjump/reqai/internal/search"
	"github.com/hyperjump/reqai/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Config     *config.Config
	Store      recordstore.Store
	FileStore  *recordstore.FileStore
	Cache      *cache.EntityCache
	Provider   *embedding.LazyProvider
	Snapshots  storage.SnapshotStore
	Indexer    *indexer.Indexer
	Search     *search.Engine
	Mutations  *mutation.Coordinator
	Dispatcher *dispatch.Dispatcher
	Hub        *progress.Hub
	Registry   *prometheus.Registry
}

// Close stops background builds and releases the model and the snapshot store.
func (c *Components) Close() {
	if c.Dispatcher != nil {
		c.Dispatcher.Close()
	}
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Provider != nil {
		_ = c.Provider.Close()
	}
	if c.Snapshots != nil {
		_ = c.Snapshots.Close()
	}
}

// WaitIndex loads the searchable collection, which starts a build when the
// index is not ready, and waits for the build to finish.
func (c *Components) WaitIndex(ctx context.Context) error {
	if _, err := c.Cache.Get(ctx, c.Indexer.EntityType()); err != nil {
		return err
	}
	c.Indexer.Wait()
	return nil
}

func newStore(cfg *config.Config, logger *zap.Logger) (recordstore.Store, *recordstore.FileStore, error) {
	switch cfg.Store.Kind {
	case config.StoreKindHTTP:
		opts := []recordstore.HTTPOption{
			recordstore.WithStoreLogger(logger),
			recordstore.WithBreaker(cfg.Store.Breaker.MaxFailures, cfg.Store.Breaker.Timeout),
		}
		if cfg.Store.RateLimit > 0 {
			opts = append(opts, recordstore.WithRateLimit(cfg.Store.RateLimit, cfg.Store.Burst))
		}
		return recordstore.NewHTTPStore(cfg.Store.BaseURL, cfg.Store.Timeout, opts...), nil, nil
	case config.StoreKindFile:
		fs, err := recordstore.NewFileStore(cfg.Store.DataPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, fileStore, err := newStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}

	snapshots, err := storage.Open(cfg.Index.SnapshotStore, cfg.Index.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	c := cache.New(store, cache.WithLogger(logger), cache.WithMetrics(m))
	provider := embedding.NewLazyProvider(embedding.NewLoader(cfg.Embedding), logger)
	hub := progress.NewHub(logger)

	idx := indexer.New(cfg.Index.EntityType, cfg.Index.TextField, provider,
		indexer.WithLogger(logger),
		indexer.WithBatchSize(cfg.Index.BatchSize),
		indexer.WithSnapshotStore(snapshots),
		indexer.WithMetrics(m),
	)
	idx.OnProgress(hub.Publish)

	engine := search.NewEngine(idx,
		search.WithMinSimilarity(cfg.Index.MinSimilarity),
		search.WithLogger(logger),
		search.WithMetrics(m),
	)
	mutations := mutation.New(store, c,
		mutation.WithLogger(logger),
		mutation.WithMetrics(m),
		mutation.WithIndex(idx),
	)
	d := dispatch.New(dispatch.Deps{
		Store:      store,
		Cache:      c,
		Registry:   schema.DefaultRegistry(),
		Filter:     filter.New(cfg.Index.TagField, cfg.Index.VersionField),
		Indexer:    idx,
		Search:     engine,
		Mutations:  mutations,
		ExportPath: cfg.Store.ExportPath,
		Logger:     logger,
	})

	logger.Info("components initialized",
		zap.String("store", cfg.Store.Kind),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("snapshot_store", cfg.Index.SnapshotStore),
		zap.String("searchable_type", cfg.Index.EntityType),
	)

	return &Components{
		Config:     cfg,
		Store:      store,
		FileStore:  fileStore,
		Cache:      c,
		Provider:   provider,
		Snapshots:  snapshots,
		Indexer:    idx,
		Search:     engine,
		Mutations:  mutations,
		Dispatcher: d,
		Hub:        hub,
		Registry:   reg,
	}, nil
}
