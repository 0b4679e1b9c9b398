// Package embedding turns descriptive text into vectors. Providers are loaded
// lazily, once per process, behind Provider.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Pooling strategies for token-level model output.
const (
	PoolingMean = "mean"
	PoolingCLS  = "cls"
)

// Options control how token embeddings are reduced to one vector.
type Options struct {
	Pooling   string
	Normalize bool
}
