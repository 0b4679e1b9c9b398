// Package dispatch routes render-surface commands to the core components and
// answers each with a render model. Errors never escape a command: they become
// a status message on the Result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/reqai/internal/cache"
	"github.com/hyperjump/reqai/internal/filter"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/internal/mutation"
	"github.com/hyperjump/reqai/internal/schema"
	"github.com/hyperjump/reqai/internal/search"
	"github.com/hyperjump/reqai/pkg/utils"
	"go.uber.org/zap"
)

// Reader is the read half of the record store used outside the cache.
type Reader interface {
	ListTypes(ctx context.Context) ([]string, error)
	Get(ctx context.Context, entityType, id string) (*models.Entity, error)
}

// Deps are the components a Dispatcher routes to. Indexer and Search may be
// nil when no type is searchable.
type Deps struct {
	Store      Reader
	Cache      *cache.EntityCache
	Registry   *schema.Registry
	Filter     *filter.Engine
	Indexer    *indexer.Indexer
	Search     *search.Engine
	Mutations  *mutation.Coordinator
	ExportPath string
	Logger     *zap.Logger
}

// Dispatcher serves Commands. It owns the per type filter state.
type Dispatcher struct {
	deps   Deps
	logger *zap.Logger

	// ctx outlives single commands; background index builds run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	filters map[string]models.FilterState
}

// New creates a Dispatcher. Loading the searchable type's collection starts
// an index build in the background.
func New(deps Deps) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		deps:    deps,
		logger:  utils.LoggerOrNop(deps.Logger),
		ctx:     ctx,
		cancel:  cancel,
		filters: make(map[string]models.FilterState),
	}
	if deps.Indexer != nil {
		deps.Cache.OnLoad(d.onLoad)
	}
	return d
}

// Close stops background index builds and waits for them.
func (d *Dispatcher) Close() {
	d.cancel()
	if d.deps.Indexer != nil {
		d.deps.Indexer.Wait()
	}
}

func (d *Dispatcher) onLoad(entityType string, records []*models.Entity) {
	if entityType != d.deps.Indexer.EntityType() {
		return
	}
	if err := d.deps.Indexer.BuildAsync(d.ctx, records); err != nil {
		d.logger.Debug("index build not started", zap.Error(err))
	}
}

// Dispatch serves cmd.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) *Result {
	res := &Result{RequestID: uuid.NewString(), Command: cmd.Name, EntityType: cmd.EntityType}
	var err error
	switch cmd.Name {
	case CmdListTypes:
		err = d.listTypes(ctx, res)
	case CmdList, CmdClearSearch:
		err = d.list(ctx, cmd, res)
	case CmdForm:
		err = d.form(ctx, cmd, res)
	case CmdCreate, CmdUpdate:
		err = d.save(ctx, cmd, res)
	case CmdDelete:
		err = d.delete(ctx, cmd, res)
	case CmdFilter:
		err = d.filter(ctx, cmd, res)
	case CmdClearFilter:
		err = d.clearFilter(ctx, cmd, res)
	case CmdFacets:
		err = d.facets(ctx, cmd, res)
	case CmdSearch:
		err = d.search(ctx, cmd, res)
	case CmdReindex:
		err = d.reindex(ctx, cmd, res)
	case CmdIndexStatus:
		err = d.indexStatus(res)
	case CmdExport:
		res.Location = d.deps.ExportPath
		res.Message = "Export started."
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	if err != nil {
		res.OK = false
		res.Err = err
		if res.Message == "" {
			res.Message = StatusMessage(err)
		}
		d.logger.Debug("command failed",
			zap.String("request_id", res.RequestID),
			zap.String("command", cmd.Name),
			zap.String("entity_type", cmd.EntityType),
			zap.Error(err),
		)
		return res
	}
	res.OK = true
	return res
}

// FilterState returns the active filter state of entityType.
func (d *Dispatcher) FilterState(entityType string) models.FilterState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filters[entityType]
}

func (d *Dispatcher) listTypes(ctx context.Context, res *Result) error {
	types, err := d.deps.Store.ListTypes(ctx)
	if err != nil {
		res.Message = "Error loading entity types. Is the API running?"
		return err
	}
	sorted := append([]string(nil), types...)
	sort.Strings(sorted)
	res.Types = sorted
	return nil
}

// list renders the filtered baseline collection.
func (d *Dispatcher) list(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	records, err := d.deps.Cache.Get(ctx, cmd.EntityType)
	if err != nil {
		res.Message = fmt.Sprintf("Failed to load data for %s.", cmd.EntityType)
		return err
	}
	state := d.FilterState(cmd.EntityType)
	table, err := d.deps.Registry.BuildTable(ctx, cmd.EntityType, d.deps.Filter.Apply(records, state), d.deps.Cache)
	if err != nil {
		return err
	}
	facets := d.deps.Filter.Facets(records)
	res.Table = table
	res.Filter = &state
	res.Facets = &facets
	return nil
}

func (d *Dispatcher) form(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	samples, err := d.deps.Cache.Get(ctx, cmd.EntityType)
	if err != nil {
		res.Message = fmt.Sprintf("Failed to load data for %s.", cmd.EntityType)
		return err
	}
	var record *models.Entity
	if cmd.ID != "" {
		if record, err = d.deps.Store.Get(ctx, cmd.EntityType, cmd.ID); err != nil {
			res.Message = fmt.Sprintf("Failed to load item %s for editing. %s", cmd.ID, StatusMessage(err))
			return err
		}
	}
	form, err := d.deps.Registry.BuildForm(ctx, cmd.EntityType, record, samples, d.deps.Cache)
	if err != nil {
		return err
	}
	res.Form = form
	res.Entity = record
	return nil
}

func (d *Dispatcher) save(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	edit := cmd.Name == CmdUpdate
	verb, done := "add", "added"
	if edit {
		verb, done = "update", "updated"
		if cmd.ID == "" {
			return ErrMissingID
		}
	}

	var sample *models.Entity
	if records, _, ok := d.deps.Cache.Peek(cmd.EntityType); ok && len(records) > 0 {
		sample = records[0]
	}
	payload, warnings := d.deps.Registry.Coerce(cmd.EntityType, cmd.Payload, sample)
	for _, w := range warnings {
		res.Warnings = append(res.Warnings, StatusMessage(w))
	}

	var (
		e   *models.Entity
		err error
	)
	if edit {
		e, err = d.deps.Mutations.Update(ctx, cmd.EntityType, cmd.ID, payload)
	} else {
		e, err = d.deps.Mutations.Create(ctx, cmd.EntityType, payload)
	}
	if err != nil {
		res.Message = fmt.Sprintf("Failed to %s item. %s", verb, StatusMessage(err))
		return err
	}
	res.Entity = e
	res.Message = fmt.Sprintf("Item %s successfully!", done)
	d.refresh(ctx, cmd.EntityType, res)
	return nil
}

func (d *Dispatcher) delete(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	if cmd.ID == "" {
		return ErrMissingID
	}
	if err := d.deps.Mutations.Delete(ctx, cmd.EntityType, cmd.ID); err != nil {
		res.Message = fmt.Sprintf("Failed to delete item %s. %s", cmd.ID, StatusMessage(err))
		return err
	}
	res.Message = fmt.Sprintf("Item %s deleted successfully.", cmd.ID)
	d.refresh(ctx, cmd.EntityType, res)
	return nil
}

// refresh re-renders the collection after a write. A failed reload keeps the
// write's success message; the table is simply omitted.
func (d *Dispatcher) refresh(ctx context.Context, entityType string, res *Result) {
	msg := res.Message
	if err := d.list(ctx, Command{Name: CmdList, EntityType: entityType}, res); err != nil {
		d.logger.Warn("reload after write failed", zap.String("entity_type", entityType), zap.Error(err))
	}
	res.Message = msg
}

// filter updates the predicates present in the payload ("tag", "version");
// absent keys keep their value, blank values clear it.
func (d *Dispatcher) filter(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	d.mu.Lock()
	state := d.filters[cmd.EntityType]
	if tag, ok := payloadString(cmd.Payload, "tag"); ok {
		state = state.WithTag(tag)
	}
	if version, ok := payloadString(cmd.Payload, "version"); ok {
		state = state.WithVersion(version)
	}
	d.setFilter(cmd.EntityType, state)
	d.mu.Unlock()
	return d.list(ctx, cmd, res)
}

func (d *Dispatcher) clearFilter(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	d.mu.Lock()
	d.setFilter(cmd.EntityType, models.FilterState{})
	d.mu.Unlock()
	return d.list(ctx, cmd, res)
}

// setFilter must be called with d.mu held.
func (d *Dispatcher) setFilter(entityType string, state models.FilterState) {
	if state.IsEmpty() {
		delete(d.filters, entityType)
		return
	}
	d.filters[entityType] = state
}

func (d *Dispatcher) facets(ctx context.Context, cmd Command, res *Result) error {
	if cmd.EntityType == "" {
		return ErrMissingEntityType
	}
	records, err := d.deps.Cache.Get(ctx, cmd.EntityType)
	if err != nil {
		return err
	}
	facets := d.deps.Filter.Facets(records)
	state := d.FilterState(cmd.EntityType)
	res.Facets = &facets
	res.Filter = &state
	return nil
}

// search ranks the whole collection of the searchable type; filters do not
// apply to results. When the index is neither ready nor building, a build is
// started and the search reports unavailable.
func (d *Dispatcher) search(ctx context.Context, cmd Command, res *Result) error {
	if d.deps.Search == nil || d.deps.Indexer == nil {
		return ErrNotSearchable
	}
	entityType := cmd.EntityType
	if entityType == "" {
		entityType = d.deps.Search.EntityType()
		res.EntityType = entityType
	}
	if entityType != d.deps.Search.EntityType() {
		return fmt.Errorf("%w: %s", ErrNotSearchable, entityType)
	}
	query, _ := payloadString(cmd.Payload, "query")
	if strings.TrimSpace(query) == "" {
		return search.ErrEmptyQuery
	}

	records, err := d.deps.Cache.Get(ctx, entityType)
	if err != nil {
		res.Message = fmt.Sprintf("Failed to load data for %s.", entityType)
		return err
	}
	resp, err := d.deps.Search.Search(ctx, query, records)
	if errors.Is(err, search.ErrSearchUnavailable) {
		res.Message = d.unavailableMessage(records)
		st := d.deps.Indexer.Status()
		res.Index = &st
		return err
	}
	if err != nil {
		return err
	}

	table, err := d.deps.Registry.BuildSearchTable(ctx, entityType, resp.Results, d.deps.Cache)
	if err != nil {
		return err
	}
	res.Search = resp
	res.Table = table
	if len(resp.Results) == 0 {
		res.Message = fmt.Sprintf("No results for %q.", resp.Query)
	} else {
		res.Message = fmt.Sprintf("Found %d results for %q.", len(resp.Results), resp.Query)
	}
	return nil
}

func (d *Dispatcher) unavailableMessage(records []*models.Entity) string {
	// starts a build when idle, or queues one behind a build a write superseded
	if err := d.deps.Indexer.BuildAsync(d.ctx, records); err != nil {
		d.logger.Debug("index build not started", zap.Error(err))
	}
	st := d.deps.Indexer.Status()
	if st.LastError != "" && !st.Building {
		return "Semantic search is unavailable: " + st.LastError
	}
	if st.State == indexer.StateIndexing && st.Total > 0 {
		return fmt.Sprintf("Search is not available yet: indexing %d/%d records.", st.Processed, st.Total)
	}
	return StatusMessage(search.ErrSearchUnavailable)
}

func (d *Dispatcher) reindex(ctx context.Context, cmd Command, res *Result) error {
	if d.deps.Indexer == nil {
		return ErrNotSearchable
	}
	entityType := d.deps.Indexer.EntityType()
	res.EntityType = entityType
	records, err := d.deps.Cache.Get(ctx, entityType)
	if err != nil {
		return err
	}
	if err := d.deps.Indexer.RebuildAsync(d.ctx, records); err != nil {
		return err
	}
	st := d.deps.Indexer.Status()
	res.Index = &st
	res.Message = fmt.Sprintf("Reindexing %d %s records.", len(records), entityType)
	return nil
}

func (d *Dispatcher) indexStatus(res *Result) error {
	if d.deps.Indexer == nil {
		return ErrNotSearchable
	}
	st := d.deps.Indexer.Status()
	res.EntityType = st.EntityType
	res.Index = &st
	return nil
}
