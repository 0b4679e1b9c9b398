// Package cache holds the process-wide entity collections fetched from the
// record store. Concurrent loads of one type share a single fetch; invalidation
// marks an entry stale without evicting it.
package cache

import (
	"context"
	"strconv"
	"sync"

	"github.com/hyperjump/reqai/internal/metrics"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Lister is the part of the record store the cache reads from.
type Lister interface {
	List(ctx context.Context, entityType string) ([]*models.Entity, error)
}

// LoadHook runs after a fetch replaces a collection.
type LoadHook func(entityType string, records []*models.Entity)

type entry struct {
	records []*models.Entity
	valid   bool
	gen     uint64
}

// EntityCache maps entity type to its last fetched records.
type EntityCache struct {
	store   Lister
	logger  *zap.Logger
	metrics *metrics.Metrics
	hooks   []LoadHook

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// Option configures an EntityCache.
type Option func(*EntityCache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *EntityCache) { c.logger = l }
}

// WithMetrics records hits, misses and fetches.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *EntityCache) { c.metrics = m }
}

// New creates an empty cache over store.
func New(store Lister, opts ...Option) *EntityCache {
	c := &EntityCache{store: store, entries: make(map[string]*entry)}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.LoggerOrNop(c.logger)
	return c
}

// OnLoad registers fn to run after every successful fetch.
func (c *EntityCache) OnLoad(fn LoadHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Get returns the valid cached list for entityType, fetching it when absent or
// invalid. Callers that arrive while a fetch is in flight wait for that fetch.
// The returned slice must not be modified.
func (c *EntityCache) Get(ctx context.Context, entityType string) ([]*models.Entity, error) {
	c.mu.RLock()
	e, ok := c.entries[entityType]
	var gen uint64
	if ok {
		if e.valid {
			records := e.records
			c.mu.RUnlock()
			c.metrics.CacheRequest(entityType, "hit")
			return records, nil
		}
		gen = e.gen
	}
	c.mu.RUnlock()
	c.metrics.CacheRequest(entityType, "miss")

	key := entityType + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), entityType, gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("collapsed concurrent fetch", zap.String("entity_type", entityType))
		}
		return res.Val.([]*models.Entity), nil
	}
}

func (c *EntityCache) fetch(ctx context.Context, entityType string, gen uint64) ([]*models.Entity, error) {
	records, err := c.store.List(ctx, entityType)
	c.metrics.StoreFetch(entityType, err)
	if err != nil {
		c.logger.Debug("fetch failed", zap.String("entity_type", entityType), zap.Error(err))
		return nil, err
	}
	if records == nil {
		records = []*models.Entity{}
	}

	c.mu.Lock()
	e, ok := c.entries[entityType]
	if !ok {
		e = &entry{}
		c.entries[entityType] = e
	}
	// An invalidation during the fetch bumps gen; the result may predate the
	// write, so it is returned to the waiting callers but stays invalid.
	fresh := e.gen == gen
	if fresh {
		e.records = records
		e.valid = true
	}
	hooks := append([]LoadHook(nil), c.hooks...)
	c.mu.Unlock()

	c.logger.Debug("collection loaded",
		zap.String("entity_type", entityType),
		zap.Int("records", len(records)),
		zap.Bool("fresh", fresh),
	)
	if !fresh {
		return records, nil
	}
	for _, fn := range hooks {
		fn(entityType, records)
	}
	return records, nil
}

// Peek returns whatever is cached for entityType, valid or not, without fetching.
func (c *EntityCache) Peek(entityType string) (records []*models.Entity, valid bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityType]
	if !ok {
		return nil, false, false
	}
	return e.records, e.valid, true
}

// Invalidate marks entityType stale. Its records remain readable via Peek
// until the next Get replaces them.
func (c *EntityCache) Invalidate(entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[entityType]
	if !ok {
		e = &entry{}
		c.entries[entityType] = e
	}
	e.valid = false
	e.gen++
	c.logger.Debug("cache invalidated", zap.String("entity_type", entityType))
}

// InvalidateAll marks every cached type stale.
func (c *EntityCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.valid = false
		e.gen++
	}
	c.logger.Debug("cache invalidated", zap.String("entity_type", "*"))
}
