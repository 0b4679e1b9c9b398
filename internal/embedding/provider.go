package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/reqai/internal/config"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// ErrProviderInit matches any ProviderInitError.
var ErrProviderInit = errors.New("embedding provider failed to load")

// ProviderInitError wraps the cause of a failed provider load.
type ProviderInitError struct {
	Err error
}

func (e *ProviderInitError) Error() string {
	return fmt.Sprintf("%v: %v", ErrProviderInit, e.Err)
}

func (e *ProviderInitError) Unwrap() error { return e.Err }

func (e *ProviderInitError) Is(target error) bool { return target == ErrProviderInit }

// Loader constructs an Embedder. It may be slow (model files, runtime init).
type Loader func(ctx context.Context) (Embedder, error)

// Provider hands out the process-wide Embedder, loading it on first use.
type Provider interface {
	Load(ctx context.Context) (Embedder, error)
}

// LazyProvider loads its Embedder once. A successful load is kept for the life
// of the provider; a failed load is returned as a ProviderInitError and tried
// again on the next call.
type LazyProvider struct {
	loader Loader
	logger *zap.Logger

	mu       sync.Mutex
	embedder Embedder
}

// NewLazyProvider wraps loader.
func NewLazyProvider(loader Loader, logger *zap.Logger) *LazyProvider {
	return &LazyProvider{loader: loader, logger: utils.LoggerOrNop(logger)}
}

// Load returns the embedder, loading it if needed. Concurrent callers wait for
// the same load.
func (p *LazyProvider) Load(ctx context.Context) (Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedder != nil {
		return p.embedder, nil
	}
	emb, err := p.loader(ctx)
	if err != nil {
		p.logger.Warn("embedding provider load failed", zap.Error(err))
		return nil, &ProviderInitError{Err: err}
	}
	p.logger.Info("embedding provider loaded", zap.Int("dimensions", emb.Dimensions()))
	p.embedder = emb
	return emb, nil
}

// Loaded reports whether a load has succeeded.
func (p *LazyProvider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedder != nil
}

// Close releases the loaded embedder, if any.
func (p *LazyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedder == nil {
		return nil
	}
	err := p.embedder.Close()
	p.embedder = nil
	return err
}

// NewLoader returns the Loader selected by cfg: the ONNX model or the
// deterministic mock, wrapped in an LRU cache when cfg.CacheSize > 0.
func NewLoader(cfg config.EmbeddingConfig) Loader {
	opts := Options{Pooling: cfg.Pooling, Normalize: cfg.NormalizeOrDefault()}
	return func(ctx context.Context) (Embedder, error) {
		var emb Embedder
		switch cfg.Provider {
		case config.ProviderMock:
			emb = NewMockEmbedder(cfg.Dimensions, opts)
		case config.ProviderONNX, "":
			onnx, err := NewONNXEmbedder(ONNXConfig{
				ModelPath:  cfg.ModelPath,
				Dimensions: cfg.Dimensions,
				MaxTokens:  cfg.MaxTokens,
				Options:    opts,
			})
			if err != nil {
				return nil, err
			}
			emb = onnx
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
		}
		if cfg.CacheSize > 0 {
			emb = NewCachedEmbedder(emb, cfg.CacheSize)
		}
		return emb, nil
	}
}
