package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hyperjump/reqai/internal/cache"
	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/filter"
	"github.com/hyperjump/reqai/internal/indexer"
	"github.com/hyperjump/reqai/internal/mutation"
	"github.com/hyperjump/reqai/internal/recordstore"
	"github.com/hyperjump/reqai/internal/schema"
	"github.com/hyperjump/reqai/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `{
  "requirements": [
    {"id": "REQ001", "name": "Login", "description": "login", "priority": "High", "tags": ["security", "auth"], "version": "1.0", "related_goals": ["GOAL001"]},
    {"id": "REQ002", "name": "Reports", "description": "Export monthly reports to spreadsheet", "priority": "Low", "tags": ["reporting"], "version": "1.0", "related_goals": []},
    {"id": "REQ003", "name": "Encryption", "description": "Encrypt customer data at rest", "priority": "High", "tags": ["security"], "version": "2.0", "related_goals": []},
    {"id": "REQ004", "name": "Audit", "description": "Audit trail for approvals", "priority": "Medium", "tags": ["compliance"], "version": "2.0", "related_goals": []},
    {"id": "REQ005", "name": "SSO", "description": "Single sign on for partners", "priority": "Medium", "tags": ["auth"], "version": " 1.0 ", "related_goals": []}
  ],
  "goals_and_objectives": [
    {"id": "GOAL001", "name": "Secure the platform"}
  ],
  "stakeholders": []
}`

type fixture struct {
	d     *Dispatcher
	store *recordstore.FileStore
	cache *cache.EntityCache
	index *indexer.Indexer
	gate  chan struct{}
}

// setup wires a dispatcher over a file store. The embedding provider blocks
// until gate is closed.
func setup(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	store, err := recordstore.NewFileStore(path, nil)
	require.NoError(t, err)

	gate := make(chan struct{})
	mock := embedding.NewMockEmbedder(256, embedding.Options{Normalize: true})
	provider := embedding.NewLazyProvider(func(ctx context.Context) (embedding.Embedder, error) {
		select {
		case <-gate:
			return mock, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil)

	c := cache.New(store)
	idx := indexer.New("requirements", "description", provider)
	d := New(Deps{
		Store:      store,
		Cache:      c,
		Registry:   schema.DefaultRegistry(),
		Filter:     filter.New("tags", "version"),
		Indexer:    idx,
		Search:     search.NewEngine(idx),
		Mutations:  mutation.New(store, c, mutation.WithIndex(idx)),
		ExportPath: "/export",
	})
	t.Cleanup(d.Close)
	return &fixture{d: d, store: store, cache: c, index: idx, gate: gate}
}

// ready releases the provider and waits for the index.
func (f *fixture) ready(t *testing.T) {
	t.Helper()
	close(f.gate)
	f.index.Wait()
	require.Equal(t, indexer.StateReady, f.index.State())
}

func rowIDs(res *Result) []string {
	if res.Table == nil {
		return nil
	}
	ids := make([]string, len(res.Table.Rows))
	for i, r := range res.Table.Rows {
		ids[i] = r.ID
	}
	return ids
}

func TestListTypesSorted(t *testing.T) {
	f := setup(t)
	res := f.d.Dispatch(context.Background(), Command{Name: CmdListTypes})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, []string{"goals_and_objectives", "requirements", "stakeholders"}, res.Types)
}

func TestResultsCarryRequestID(t *testing.T) {
	f := setup(t)
	first := f.d.Dispatch(context.Background(), Command{Name: CmdListTypes})
	second := f.d.Dispatch(context.Background(), Command{Name: "bogus"})
	_, err := uuid.Parse(first.RequestID)
	assert.NoError(t, err)
	assert.NotEmpty(t, second.RequestID)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestListRendersTable(t *testing.T) {
	f := setup(t)
	res := f.d.Dispatch(context.Background(), Command{Name: CmdList, EntityType: "requirements"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Requirements", res.Table.Title)
	assert.Equal(t, "Add New Requirement", res.Table.AddLabel)
	assert.Equal(t, []string{"REQ001", "REQ002", "REQ003", "REQ004", "REQ005"}, rowIDs(res))
	assert.Equal(t, []string{"auth", "compliance", "reporting", "security"}, res.Facets.Tags)
	assert.True(t, res.Filter.IsEmpty())

	// related_goals resolves to id and label
	cols := res.Table.Columns
	for i, c := range cols {
		if c.Name == "related_goals" {
			assert.Equal(t, "GOAL001 - Secure the platform", res.Table.Rows[0].Cells[i])
		}
	}
}

func TestListUnknownType(t *testing.T) {
	f := setup(t)
	res := f.d.Dispatch(context.Background(), Command{Name: CmdList, EntityType: "nope"})
	assert.False(t, res.OK)
	assert.Equal(t, "Failed to load data for nope.", res.Message)
	assert.True(t, errors.Is(res.Err, recordstore.ErrNotFound))
}

func TestFilterAndClear(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdFilter, EntityType: "requirements", Payload: map[string]interface{}{"tag": "security"}})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, []string{"REQ001", "REQ003"}, rowIDs(res))
	require.NotNil(t, res.Filter.Tag)
	assert.Equal(t, "security", *res.Filter.Tag)

	// applying the same filter again changes nothing
	again := f.d.Dispatch(ctx, Command{Name: CmdFilter, EntityType: "requirements", Payload: map[string]interface{}{"tag": "security"}})
	assert.Equal(t, rowIDs(res), rowIDs(again))

	// version combines with the tag
	res = f.d.Dispatch(ctx, Command{Name: CmdFilter, EntityType: "requirements", Payload: map[string]interface{}{"version": "1.0"}})
	assert.Equal(t, []string{"REQ001"}, rowIDs(res))

	// filters are per type and persist across list
	res = f.d.Dispatch(ctx, Command{Name: CmdList, EntityType: "requirements"})
	assert.Equal(t, []string{"REQ001"}, rowIDs(res))

	// blank value clears one predicate
	res = f.d.Dispatch(ctx, Command{Name: CmdFilter, EntityType: "requirements", Payload: map[string]interface{}{"tag": ""}})
	assert.Equal(t, []string{"REQ001", "REQ002", "REQ005"}, rowIDs(res))

	res = f.d.Dispatch(ctx, Command{Name: CmdClearFilter, EntityType: "requirements"})
	require.True(t, res.OK)
	assert.Equal(t, []string{"REQ001", "REQ002", "REQ003", "REQ004", "REQ005"}, rowIDs(res))
	assert.True(t, f.d.FilterState("requirements").IsEmpty())
}

func TestSearchUnavailableUntilIndexed(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdSearch, EntityType: "requirements", Payload: map[string]interface{}{"query": "login"}})
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, search.ErrSearchUnavailable)
	assert.Nil(t, res.Search)
	require.NotNil(t, res.Index)
	assert.True(t, res.Index.Building)

	// an explicit rebuild while one runs is rejected
	busy := f.d.Dispatch(ctx, Command{Name: CmdReindex})
	assert.False(t, busy.OK)
	assert.ErrorIs(t, busy.Err, indexer.ErrIndexBusy)
	assert.Equal(t, "Indexing is already in progress. Try again when it finishes.", busy.Message)

	f.ready(t)
	res = f.d.Dispatch(ctx, Command{Name: CmdSearch, Payload: map[string]interface{}{"query": "login"}})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "requirements", res.EntityType)
	require.NotEmpty(t, res.Search.Results)
	assert.Equal(t, "REQ001", res.Search.Results[0].Entity.ID)
	assert.Greater(t, res.Search.Results[0].SimilarityScore, 0.3)
	require.NotNil(t, res.Table.Rows[0].Score)
}

func TestSearchIgnoresFilters(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.d.Dispatch(ctx, Command{Name: CmdFilter, EntityType: "requirements", Payload: map[string]interface{}{"tag": "reporting"}})
	f.ready(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdSearch, EntityType: "requirements", Payload: map[string]interface{}{"query": "login"}})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "REQ001", res.Search.Results[0].Entity.ID)

	// clearing the search returns to the filtered baseline
	res = f.d.Dispatch(ctx, Command{Name: CmdClearSearch, EntityType: "requirements"})
	assert.Equal(t, []string{"REQ002"}, rowIDs(res))
}

func TestSearchErrors(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdSearch, EntityType: "requirements", Payload: map[string]interface{}{"query": "  "}})
	assert.ErrorIs(t, res.Err, search.ErrEmptyQuery)
	assert.Equal(t, "Enter a search query.", res.Message)

	res = f.d.Dispatch(ctx, Command{Name: CmdSearch, EntityType: "goals_and_objectives", Payload: map[string]interface{}{"query": "x"}})
	assert.ErrorIs(t, res.Err, ErrNotSearchable)
}

func TestCreateInvalidatesAndRebuilds(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.d.Dispatch(ctx, Command{Name: CmdList, EntityType: "requirements"})
	f.ready(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdCreate, EntityType: "requirements", Payload: map[string]interface{}{
		"name":          "Dark mode",
		"description":   "Offer a dark colour theme",
		"priority":      "Low",
		"tags":          "ui, accessibility",
		"related_goals": "GOAL001",
	}})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Item added successfully!", res.Message)
	assert.Equal(t, "REQ006", res.Entity.ID)
	assert.Equal(t, []string{"ui", "accessibility"}, res.Entity.Strings("tags"))
	assert.Equal(t, []string{"GOAL001"}, res.Entity.Strings("related_goals"))
	assert.Len(t, rowIDs(res), 6)

	// the reload of the searchable type started a fresh build
	f.index.Wait()
	index, _, ok := f.index.Ready()
	require.True(t, ok)
	assert.Equal(t, 6, index.Size())
}

func TestUpdateDuringBuildReindexesEditedRecord(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	// the load starts a build that blocks in the provider
	f.d.Dispatch(ctx, Command{Name: CmdList, EntityType: "requirements"})

	res := f.d.Dispatch(ctx, Command{Name: CmdUpdate, EntityType: "requirements", ID: "REQ002", Payload: map[string]interface{}{
		"description": "password reset",
	}})
	require.True(t, res.OK, res.Message)
	f.ready(t)

	res = f.d.Dispatch(ctx, Command{Name: CmdSearch, Payload: map[string]interface{}{"query": "password reset"}})
	require.True(t, res.OK, res.Message)
	require.NotEmpty(t, res.Search.Results)
	assert.Equal(t, "REQ002", res.Search.Results[0].Entity.ID)
}

func TestDeleteDuringBuildRebuildsFromLiveRecords(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.d.Dispatch(ctx, Command{Name: CmdList, EntityType: "requirements"})

	res := f.d.Dispatch(ctx, Command{Name: CmdDelete, EntityType: "requirements", ID: "REQ005"})
	require.True(t, res.OK, res.Message)
	assert.True(t, f.index.Status().Building)
	f.ready(t)

	index, _, ok := f.index.Ready()
	require.True(t, ok)
	assert.Equal(t, 4, index.Size())
	_, found := index.Get("REQ005")
	assert.False(t, found)
}

func TestUpdateReportsWarnings(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.d.Dispatch(ctx, Command{Name: CmdList, EntityType: "requirements"})

	res := f.d.Dispatch(ctx, Command{Name: CmdUpdate, EntityType: "requirements", ID: "REQ002", Payload: map[string]interface{}{
		"priority": "Urgent",
	}})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Item updated successfully!", res.Message)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "priority")

	got, err := f.store.Get(ctx, "requirements", "REQ002")
	require.NoError(t, err)
	assert.Equal(t, "Urgent", got.Text("priority"))
}

func TestDeleteOutcomes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.d.Dispatch(ctx, Command{Name: CmdList, EntityType: "requirements"})

	res := f.d.Dispatch(ctx, Command{Name: CmdDelete, EntityType: "requirements", ID: "REQ999"})
	assert.False(t, res.OK)
	assert.Equal(t, "Failed to delete item REQ999. Item with ID 'REQ999' not found in 'requirements' for deletion.", res.Message)
	_, valid, _ := f.cache.Peek("requirements")
	assert.True(t, valid)

	res = f.d.Dispatch(ctx, Command{Name: CmdDelete, EntityType: "requirements", ID: "REQ002"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Item REQ002 deleted successfully.", res.Message)
	assert.Equal(t, []string{"REQ001", "REQ003", "REQ004", "REQ005"}, rowIDs(res))

	res = f.d.Dispatch(ctx, Command{Name: CmdDelete, EntityType: "requirements"})
	assert.ErrorIs(t, res.Err, ErrMissingID)
}

func TestFormForEditAndAdd(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdForm, EntityType: "requirements", ID: "REQ001"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Edit Requirement", res.Form.Title)
	assert.Equal(t, "Update Item", res.Form.Submit)
	for _, field := range res.Form.Fields {
		assert.NotEqual(t, "id", field.Name)
		if field.Name == "related_goals" {
			assert.Equal(t, []string{"GOAL001"}, field.Selected)
			require.Len(t, field.Options, 1)
		}
	}

	res = f.d.Dispatch(ctx, Command{Name: CmdForm, EntityType: "stakeholders"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Add New Stakeholder", res.Form.Title)
	require.Len(t, res.Form.Fields, 2)
	assert.Equal(t, "name", res.Form.Fields[0].Name)

	res = f.d.Dispatch(ctx, Command{Name: CmdForm, EntityType: "requirements", ID: "REQ404"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "Failed to load item REQ404 for editing.")
}

func TestIndexStatusAndExport(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res := f.d.Dispatch(ctx, Command{Name: CmdIndexStatus})
	require.True(t, res.OK)
	assert.Equal(t, indexer.StateUninitialized, res.Index.State)
	assert.Equal(t, "requirements", res.EntityType)

	res = f.d.Dispatch(ctx, Command{Name: CmdExport})
	require.True(t, res.OK)
	assert.Equal(t, "/export", res.Location)
}

func TestUnknownCommand(t *testing.T) {
	f := setup(t)
	res := f.d.Dispatch(context.Background(), Command{Name: "explode"})
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrUnknownCommand)
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&recordstore.StoreError{Op: "list x", Status: 502, Message: "Bad Gateway"}, "Bad Gateway"},
		{&schema.ParseError{Field: "meta", Value: "{", Err: errors.New("unexpected end")}, "Invalid value for meta: unexpected end"},
		{&embedding.ProviderInitError{Err: errors.New("no model")}, "Semantic search is unavailable: the embedding model could not be loaded."},
		{search.ErrSearchUnavailable, "Search is not available yet: the index is still being built."},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusMessage(tt.err))
	}
}
