package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperjump/reqai/internal/server"
	"github.com/hyperjump/reqai/internal/watcher"
	"github.com/hyperjump/reqai/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the HTTP server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, resolvedConfigPath, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || opts.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize components", zap.Error(err))
		return err
	}
	defer components.Close()

	if components.FileStore != nil && cfg.Store.Watch {
		w, err := watchDataFile(ctx, components, logger, debugMode)
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}

	// load the searchable collection so the index builds before the first search
	go func() {
		if _, err := components.Cache.Get(ctx, cfg.Index.EntityType); err != nil {
			logger.Warn("initial load of searchable type failed",
				zap.String("entity_type", cfg.Index.EntityType), zap.Error(err))
		}
	}()

	srv := server.NewServer(
		components.Dispatcher,
		components.Store,
		components.Hub,
		&cfg.Server,
		logger,
		server.WithMetricsHandler(promhttp.HandlerFor(components.Registry, promhttp.HandlerOpts{})),
		server.WithSnapshotStore(components.Snapshots),
		server.WithExportPath(cfg.Store.ExportPath),
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// watchDataFile reloads the file store when another process edits its
// document, and invalidates every cache and index when the content changed.
// The store's own writes reload as unchanged and are ignored.
func watchDataFile(ctx context.Context, comps *Components, logger *zap.Logger, debug bool, opts ...watcher.WatcherOption) (*watcher.Watcher, error) {
	fs := comps.FileStore
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	w := watcher.NewWatcher(fs.Path(), func(path string) {
		changed, err := fs.Reload()
		if err != nil {
			logger.Warn("data file reload failed", zap.String("path", path), zap.Error(err))
			return
		}
		if changed {
			logger.Info("data file changed on disk", zap.String("path", path))
			comps.Mutations.ExternalChange(ctx)
		}
	}, opts...)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
