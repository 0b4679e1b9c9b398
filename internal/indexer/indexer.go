// Package indexer builds and maintains the embedding index of the
// search-enabled entity type, reusing a persisted snapshot when it still
// matches the collection.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/metrics"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/internal/storage"
	"github.com/hyperjump/reqai/internal/vector"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of records embedded per provider call.
const DefaultBatchSize = 10

// SnapshotKey is the snapshot store key for an entity type.
func SnapshotKey(entityType string) string {
	return "embeddings:" + entityType
}

// Indexer owns the embedding index of one entity type.
type Indexer struct {
	entityType string
	textField  string
	batchSize  int
	provider   embedding.Provider
	store      storage.SnapshotStore
	logger     *zap.Logger
	metrics    *metrics.Metrics

	running atomic.Bool
	wg      sync.WaitGroup
	snapMu  sync.Mutex

	mu         sync.RWMutex
	state      State
	index      *vector.MemoryIndex
	embedder   embedding.Embedder
	epoch      uint64
	buildEpoch uint64
	pending    *buildJob
	status     Status
	observers  []ProgressFunc
}

// buildJob is one requested build. epoch is the Discard count when it was
// requested; the result is only installed if no Discard happened since.
type buildJob struct {
	ctx     context.Context
	records []*models.Entity
	force   bool
	epoch   uint64
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBatchSize sets the number of records per embedding call.
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithSnapshotStore persists built indexes to store. Without one, every load rebuilds.
func WithSnapshotStore(s storage.SnapshotStore) Option {
	return func(idx *Indexer) { idx.store = s }
}

// WithMetrics records build outcomes and index size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) { idx.metrics = m }
}

// New creates an Indexer for the textField of entityType.
func New(entityType, textField string, provider embedding.Provider, opts ...Option) *Indexer {
	idx := &Indexer{
		entityType: entityType,
		textField:  textField,
		batchSize:  DefaultBatchSize,
		provider:   provider,
		status:     Status{EntityType: entityType},
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.LoggerOrNop(idx.logger).With(zap.String("entity_type", entityType))
	return idx
}

// EntityType is the indexed type.
func (idx *Indexer) EntityType() string { return idx.entityType }

// TextField is the embedded field.
func (idx *Indexer) TextField() string { return idx.textField }

// OnProgress registers fn for progress reports.
func (idx *Indexer) OnProgress(fn ProgressFunc) {
	idx.mu.Lock()
	idx.observers = append(idx.observers, fn)
	idx.mu.Unlock()
}

// Ready returns the live index and the embedder that built it when the
// indexer is ready.
func (idx *Indexer) Ready() (*vector.MemoryIndex, embedding.Embedder, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.state != StateReady || idx.index == nil {
		return nil, nil, false
	}
	return idx.index, idx.embedder, true
}

// State returns the current state.
func (idx *Indexer) State() State {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.state
}

// Status returns a copy of the current status.
func (idx *Indexer) Status() Status {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s := idx.status
	s.State = idx.state
	s.Building = idx.running.Load()
	return s
}

// Build indexes records synchronously. It returns ErrIndexBusy without any
// state change when another build is running.
func (idx *Indexer) Build(ctx context.Context, records []*models.Entity) error {
	job, err := idx.claim(ctx, records, false, false)
	if err != nil {
		return err
	}
	err = idx.build(job)
	if next := idx.next(); next != nil {
		idx.wg.Add(1)
		go idx.loop(next)
	}
	idx.wg.Done()
	return err
}

// BuildAsync starts a build in the background. The busy check happens before
// it returns; the build's own outcome is reported through progress and Status.
// A request made while a build runs that a Discard has already superseded is
// queued instead, and starts as soon as that build ends.
func (idx *Indexer) BuildAsync(ctx context.Context, records []*models.Entity) error {
	return idx.start(ctx, records, false)
}

// RebuildAsync is BuildAsync without the snapshot check: records are always
// embedded again and the snapshot is overwritten.
func (idx *Indexer) RebuildAsync(ctx context.Context, records []*models.Entity) error {
	return idx.start(ctx, records, true)
}

func (idx *Indexer) start(ctx context.Context, records []*models.Entity, force bool) error {
	job, err := idx.claim(ctx, records, force, true)
	if err != nil || job == nil {
		return err
	}
	go idx.loop(job)
	return nil
}

// claim takes the build slot and pins the job to the current epoch. It
// returns a nil job when the request was queued behind a superseded build.
func (idx *Indexer) claim(ctx context.Context, records []*models.Entity, force, queue bool) (*buildJob, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	job := &buildJob{ctx: ctx, records: records, force: force, epoch: idx.epoch}
	if idx.running.Load() {
		if queue && idx.buildEpoch != idx.epoch {
			idx.pending = job
			idx.logger.Debug("index build queued behind a superseded build", zap.Int("records", len(records)))
			return nil, nil
		}
		return nil, ErrIndexBusy
	}
	idx.running.Store(true)
	idx.buildEpoch = job.epoch
	idx.wg.Add(1)
	return job, nil
}

// next hands over the queued job, or releases the build slot when there is none.
func (idx *Indexer) next() *buildJob {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	job := idx.pending
	idx.pending = nil
	if job == nil {
		idx.running.Store(false)
		return nil
	}
	idx.buildEpoch = job.epoch
	return job
}

func (idx *Indexer) loop(job *buildJob) {
	defer idx.wg.Done()
	for job != nil {
		if err := idx.build(job); err != nil && !errors.Is(err, ErrSuperseded) {
			idx.logger.Warn("index build failed", zap.Error(err))
		}
		job = idx.next()
	}
}

// Wait blocks until background builds have finished.
func (idx *Indexer) Wait() {
	idx.wg.Wait()
}

// Discard drops the in-memory index and the persisted snapshot. A build that
// is running when Discard is called finishes without installing its result.
func (idx *Indexer) Discard(ctx context.Context) {
	idx.mu.Lock()
	idx.epoch++
	idx.pending = nil
	idx.index = nil
	if idx.state == StateReady {
		idx.state = StateUninitialized
	}
	idx.status.Records = 0
	idx.status.Source = ""
	idx.status.Generation = ""
	idx.mu.Unlock()
	idx.metrics.IndexSize(idx.entityType, 0)

	if idx.store != nil {
		idx.snapMu.Lock()
		idx.deleteSnapshot(ctx)
		idx.snapMu.Unlock()
	}
	idx.logger.Debug("index discarded")
}

type candidate struct {
	id   string
	text string
}

func (idx *Indexer) build(job *buildJob) error {
	ctx, records, epoch := job.ctx, job.records, job.epoch
	start := time.Now()

	idx.begin()
	emb, err := idx.provider.Load(ctx)
	if err != nil {
		idx.fail(err, "provider_error")
		return err
	}

	indexable := CountIndexable(records, idx.textField)

	if idx.store != nil && !job.force {
		idx.setState(StateSnapshotCheck)
		if snap := idx.loadSnapshot(ctx, indexable, emb.Dimensions()); snap != nil {
			index, err := vector.NewMemoryIndex(snap.Dimensions)
			if err == nil {
				err = index.Replace(snap.Records)
			}
			if err == nil {
				if !idx.install(epoch, index, emb, SourceSnapshot, snap.Generation, len(records)) {
					return ErrSuperseded
				}
				idx.logger.Info("index loaded from snapshot",
					zap.Int("records", index.Size()), zap.Duration("took", time.Since(start)))
				return nil
			}
			idx.logger.Warn("snapshot rejected", zap.Error(err))
			idx.deleteSnapshot(ctx)
		}
	}

	idx.setState(StateIndexing)
	total := len(records)
	idx.report(Progress{Processed: 0, Total: total})

	built := make([]vector.Record, 0, indexable)
	processed := 0
	for _, batch := range Batches(records, idx.batchSize) {
		if err := ctx.Err(); err != nil {
			idx.fail(err, "canceled")
			return err
		}
		var items []candidate
		for _, e := range batch {
			if text := IndexableText(e, idx.textField); text != "" {
				items = append(items, candidate{id: e.ID, text: text})
			}
		}
		if len(items) > 0 {
			texts := make([]string, len(items))
			for i, it := range items {
				texts[i] = it.text
			}
			vecs, err := emb.EmbedBatch(ctx, texts)
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
			}
			if err != nil {
				err = fmt.Errorf("embed batch: %w", err)
				idx.fail(err, "embed_error")
				return err
			}
			for i, it := range items {
				built = append(built, vector.Record{EntityID: it.id, Vector: vecs[i], SourceText: it.text})
			}
		}
		processed += len(batch)
		idx.report(Progress{Processed: processed, Total: total})
		runtime.Gosched()
	}

	index, err := vector.NewMemoryIndex(emb.Dimensions())
	if err == nil {
		err = index.Replace(built)
	}
	if err != nil {
		idx.fail(err, "embed_error")
		return err
	}

	generation := uuid.New().String()
	if !idx.install(epoch, index, emb, SourceRebuild, generation, total) {
		return ErrSuperseded
	}
	idx.persist(ctx, epoch, index, generation)
	idx.logger.Info("index built",
		zap.Int("records", index.Size()),
		zap.Int("collection", total),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// loadSnapshot returns the persisted snapshot when it matches the live
// collection, deleting it otherwise.
func (idx *Indexer) loadSnapshot(ctx context.Context, indexable, dims int) *vector.Snapshot {
	blob, err := idx.store.Get(ctx, SnapshotKey(idx.entityType))
	if err != nil {
		idx.logger.Warn("failed to read snapshot", zap.Error(err))
		return nil
	}
	if blob == nil {
		return nil
	}
	snap, err := vector.DecodeSnapshot(blob)
	if err != nil {
		idx.logger.Warn("discarding unreadable snapshot", zap.Error(err))
		idx.deleteSnapshot(ctx)
		return nil
	}
	if snap.EntityType != idx.entityType || len(snap.Records) != indexable || snap.Dimensions != dims {
		idx.logger.Info("discarding stale snapshot",
			zap.Int("snapshot_records", len(snap.Records)),
			zap.Int("indexable", indexable),
			zap.Int("snapshot_dimensions", snap.Dimensions),
			zap.Int("dimensions", dims),
		)
		idx.deleteSnapshot(ctx)
		return nil
	}
	return snap
}

func (idx *Indexer) deleteSnapshot(ctx context.Context) {
	if err := idx.store.Delete(ctx, SnapshotKey(idx.entityType)); err != nil {
		idx.logger.Warn("failed to delete snapshot", zap.Error(err))
	}
}

// persist writes the snapshot of a build of epoch. It skips the write when a
// Discard has happened since, so a deleted snapshot is never written back.
func (idx *Indexer) persist(ctx context.Context, epoch uint64, index *vector.MemoryIndex, generation string) {
	if idx.store == nil {
		return
	}
	blob, err := vector.EncodeSnapshot(index.Snapshot(idx.entityType, generation))
	if err == nil {
		idx.snapMu.Lock()
		idx.mu.RLock()
		current := idx.epoch == epoch
		idx.mu.RUnlock()
		if current {
			err = idx.store.Set(ctx, SnapshotKey(idx.entityType), blob)
		}
		idx.snapMu.Unlock()
	}
	if err != nil {
		idx.logger.Warn("failed to persist snapshot, keeping in-memory index", zap.Error(err))
	}
}

// install makes index live unless a Discard happened since the build started.
func (idx *Indexer) install(epoch uint64, index *vector.MemoryIndex, emb embedding.Embedder, source, generation string, total int) bool {
	idx.mu.Lock()
	if idx.epoch != epoch {
		idx.state = StateUninitialized
		idx.mu.Unlock()
		idx.metrics.IndexBuild(idx.entityType, "superseded")
		idx.logger.Info("index build superseded by a newer change")
		idx.report(Progress{Done: true, Error: ErrSuperseded.Error()})
		return false
	}
	idx.index = index
	idx.embedder = emb
	idx.state = StateReady
	idx.status.Records = index.Size()
	idx.status.Source = source
	idx.status.Generation = generation
	idx.status.BuiltAt = time.Now().UTC()
	idx.status.LastError = ""
	idx.status.Processed = total
	idx.status.Total = total
	idx.mu.Unlock()

	idx.metrics.IndexBuild(idx.entityType, source)
	idx.metrics.IndexSize(idx.entityType, index.Size())
	idx.report(Progress{Processed: total, Total: total, Done: true})
	return true
}

// fail returns the indexer to uninitialized, dropping any live index.
func (idx *Indexer) fail(err error, result string) {
	idx.mu.Lock()
	idx.state = StateUninitialized
	idx.index = nil
	idx.status.Records = 0
	idx.status.LastError = err.Error()
	idx.mu.Unlock()
	idx.metrics.IndexBuild(idx.entityType, result)
	idx.metrics.IndexSize(idx.entityType, 0)
	idx.report(Progress{Done: true, Error: err.Error()})
}

// begin enters model loading and clears the progress of any earlier build.
func (idx *Indexer) begin() {
	idx.mu.Lock()
	idx.state = StateModelLoading
	idx.status.Processed = 0
	idx.status.Total = 0
	idx.mu.Unlock()
	idx.logger.Debug("index state", zap.Stringer("state", StateModelLoading))
}

func (idx *Indexer) setState(s State) {
	idx.mu.Lock()
	idx.state = s
	idx.mu.Unlock()
	idx.logger.Debug("index state", zap.Stringer("state", s))
}

func (idx *Indexer) report(p Progress) {
	idx.mu.Lock()
	p.EntityType = idx.entityType
	p.State = idx.state
	if p.Error != "" {
		p.Processed = idx.status.Processed
		p.Total = idx.status.Total
	} else {
		idx.status.Processed = p.Processed
		idx.status.Total = p.Total
	}
	observers := append([]ProgressFunc(nil), idx.observers...)
	idx.mu.Unlock()
	if !p.Done {
		idx.logger.Debug("index progress", zap.Int("processed", p.Processed), zap.Int("total", p.Total))
	}
	for _, fn := range observers {
		fn(p)
	}
}
