// Package mutation is the single write path into the record store. Every
// successful write invalidates the cached collection of its type and, for the
// searchable type, the embedding index.
package mutation

import (
	"context"
	"fmt"

	"github.com/hyperjump/reqai/internal/metrics"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// Writer is the write half of the record store.
type Writer interface {
	Create(ctx context.Context, entityType string, payload map[string]interface{}) (*models.Entity, error)
	Update(ctx context.Context, entityType, id string, payload map[string]interface{}) (*models.Entity, error)
	Delete(ctx context.Context, entityType, id string) error
}

// Invalidator marks cached collections stale.
type Invalidator interface {
	Invalidate(entityType string)
	InvalidateAll()
}

// Index is an embedding index that must be dropped when its type changes.
type Index interface {
	EntityType() string
	Discard(ctx context.Context)
}

// Operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Coordinator applies writes and drives invalidation.
type Coordinator struct {
	store   Writer
	cache   Invalidator
	indexes []Index
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics counts mutations by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithIndex registers an index to discard when its entity type is written.
func WithIndex(idx Index) Option {
	return func(c *Coordinator) { c.indexes = append(c.indexes, idx) }
}

// New creates a Coordinator.
func New(store Writer, cache Invalidator, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, cache: cache}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.LoggerOrNop(c.logger)
	return c
}

// Create stores a new record and returns it with its assigned id.
func (c *Coordinator) Create(ctx context.Context, entityType string, payload map[string]interface{}) (*models.Entity, error) {
	e, err := c.store.Create(ctx, entityType, payload)
	if err = c.finish(ctx, OpCreate, entityType, "", err); err != nil {
		return nil, err
	}
	return e, nil
}

// Update merges payload into the record id.
func (c *Coordinator) Update(ctx context.Context, entityType, id string, payload map[string]interface{}) (*models.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("update %s: id is required", entityType)
	}
	e, err := c.store.Update(ctx, entityType, id, payload)
	if err = c.finish(ctx, OpUpdate, entityType, id, err); err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes the record id.
func (c *Coordinator) Delete(ctx context.Context, entityType, id string) error {
	if id == "" {
		return fmt.Errorf("delete %s: id is required", entityType)
	}
	err := c.store.Delete(ctx, entityType, id)
	return c.finish(ctx, OpDelete, entityType, id, err)
}

// ExternalChange invalidates everything after the store changed behind the
// coordinator's back, e.g. its data file was edited.
func (c *Coordinator) ExternalChange(ctx context.Context) {
	c.cache.InvalidateAll()
	for _, idx := range c.indexes {
		idx.Discard(ctx)
	}
	c.logger.Info("record store changed externally, caches invalidated")
}

// finish records the outcome of a write. Failed writes leave every cache and
// index untouched.
func (c *Coordinator) finish(ctx context.Context, op, entityType, id string, err error) error {
	c.metrics.Mutation(entityType, op, err)
	if err != nil {
		c.logger.Warn("mutation failed",
			zap.String("op", op),
			zap.String("entity_type", entityType),
			zap.String("id", id),
			zap.Error(err),
		)
		return err
	}

	// dependents resolve ids at render time, so only this type is invalidated
	c.cache.Invalidate(entityType)
	for _, idx := range c.indexes {
		if idx.EntityType() == entityType {
			idx.Discard(ctx)
		}
	}
	c.logger.Debug("mutation applied",
		zap.String("op", op),
		zap.String("entity_type", entityType),
		zap.String("id", id),
	)
	return nil
}
