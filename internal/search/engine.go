// Package search ranks the indexed entities of the search-enabled type
// against a free-text query.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/metrics"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/internal/vector"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// DefaultMinSimilarity is the score a result must exceed to be returned.
const DefaultMinSimilarity = 0.3

var (
	// ErrSearchUnavailable is returned when the index is not ready.
	ErrSearchUnavailable = errors.New("search is not available yet, the index is still being built")
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query is required")
)

// IndexSource exposes a ready index. *indexer.Indexer satisfies it.
type IndexSource interface {
	EntityType() string
	TextField() string
	Ready() (*vector.MemoryIndex, embedding.Embedder, bool)
}

// Engine runs brute-force cosine search over one entity type.
type Engine struct {
	source        IndexSource
	minSimilarity float64
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinSimilarity overrides the score threshold.
func WithMinSimilarity(v float64) Option {
	return func(e *Engine) { e.minSimilarity = v }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records query latency and result counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine over source.
func NewEngine(source IndexSource, opts ...Option) *Engine {
	e := &Engine{source: source, minSimilarity: DefaultMinSimilarity}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.LoggerOrNop(e.logger)
	return e
}

// EntityType is the searchable type.
func (e *Engine) EntityType() string { return e.source.EntityType() }

// Search embeds query once and ranks records, the current collection of the
// searchable type, by similarity. It fails with ErrSearchUnavailable unless the
// index is ready; no match is an empty result, not an error.
func (e *Engine) Search(ctx context.Context, query string, records []*models.Entity) (*models.SearchResponse, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	index, emb, ok := e.source.Ready()
	if !ok {
		return nil, ErrSearchUnavailable
	}
	qvec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results := Rank(qvec, index, records, e.source.TextField(), e.minSimilarity)
	took := time.Since(start)
	e.metrics.Search(took, len(results))
	e.logger.Debug("search",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("took", took),
	)
	return &models.SearchResponse{
		Query:      query,
		EntityType: e.source.EntityType(),
		Results:    results,
		QueryTime:  took.Milliseconds(),
	}, nil
}

// Rank scores every record that has an up-to-date vector in index, keeps
// scores strictly above minSimilarity and sorts them descending. Ties keep
// collection order. A record whose current text differs from the text its
// vector was built from is skipped.
func Rank(qvec []float32, index *vector.MemoryIndex, records []*models.Entity, textField string, minSimilarity float64) []*models.SearchResult {
	results := make([]*models.SearchResult, 0)
	for _, e := range records {
		text := indexer.IndexableText(e, textField)
		if text == "" {
			continue
		}
		rec, ok := index.Get(e.ID)
		if !ok || rec.SourceText != text {
			continue
		}
		score := vector.Cosine(qvec, rec.Vector)
		if score <= minSimilarity {
			continue
		}
		results = append(results, &models.SearchResult{Entity: e, SimilarityScore: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	for i, r := range results {
		r.Rank = i + 1
	}
	return results
}
