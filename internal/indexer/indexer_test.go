package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatches(t *testing.T) {
	records := numbered(t, 25)
	batches := Batches(records, 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[2], 5)
	assert.Nil(t, Batches(nil, 10))
	assert.Len(t, Batches(records[:3], 0), 3)
}

func TestIndexableText(t *testing.T) {
	e := requirement(t, "REQ001", "  two\n\twords  ")
	assert.Equal(t, "two words", IndexableText(e, "description"))

	blank := requirement(t, "REQ002", "   ")
	assert.Equal(t, "", IndexableText(blank, "description"))

	noID := models.NewEntity("requirements")
	noID.Set("description", "text")
	assert.Equal(t, "", IndexableText(noID, "description"))

	nonString := requirement(t, "REQ003", "")
	nonString.Set("description", 42)
	assert.Equal(t, "", IndexableText(nonString, "description"))
}

func TestBuildEmbedsPerBatchAndSkipsBlankText(t *testing.T) {
	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithBatchSize(2))

	records := fiveRequirements(t)
	records[3].Set("description", "   ")

	var mu sync.Mutex
	var reports []Progress
	idx.OnProgress(func(p Progress) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})

	require.NoError(t, idx.Build(context.Background(), records))

	assert.Equal(t, StateReady, idx.State())
	index, _, ok := idx.Ready()
	require.True(t, ok)
	assert.Equal(t, 4, index.Size())
	_, indexed := index.Get("REQ004")
	assert.False(t, indexed)
	rec, _ := index.Get("REQ002")
	assert.Equal(t, "Export monthly reports to spreadsheet", rec.SourceText)

	// batches of two: [1,2] [3,4] [5]; one provider call each
	assert.Equal(t, 3, emb.calls())
	assert.Equal(t, []string{"Encrypt customer data at rest"}, emb.batches[1])

	last := -1
	for _, p := range reports {
		assert.GreaterOrEqual(t, p.Processed, last)
		assert.Equal(t, 5, p.Total)
		last = p.Processed
	}
	require.NotEmpty(t, reports)
	final := reports[len(reports)-1]
	assert.True(t, final.Done)
	assert.Equal(t, 5, final.Processed)

	st := idx.Status()
	assert.Equal(t, SourceRebuild, st.Source)
	assert.Equal(t, 4, st.Records)
	assert.NotEmpty(t, st.Generation)
	assert.False(t, st.Building)
}

func TestDefaultBatchSize(t *testing.T) {
	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb})
	require.NoError(t, idx.Build(context.Background(), numbered(t, 25)))
	assert.Equal(t, 3, emb.calls())
	assert.Len(t, emb.batches[0], 10)
}

func TestSnapshotReusedWhenCountMatches(t *testing.T) {
	store := newMemStore()
	records := fiveRequirements(t)

	first := newCountingEmbedder()
	require.NoError(t, New("requirements", "description", &staticProvider{emb: first}, WithSnapshotStore(store)).
		Build(context.Background(), records))
	require.True(t, store.has(SnapshotKey("requirements")))

	second := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: second}, WithSnapshotStore(store))
	require.NoError(t, idx.Build(context.Background(), records))

	assert.Equal(t, 0, second.calls())
	assert.Equal(t, SourceSnapshot, idx.Status().Source)
	index, _, ok := idx.Ready()
	require.True(t, ok)
	assert.Equal(t, 5, index.Size())
}

func TestSnapshotDiscardedWhenCountMismatches(t *testing.T) {
	store := newMemStore()
	records := fiveRequirements(t)
	require.NoError(t, New("requirements", "description", &staticProvider{emb: newCountingEmbedder()}, WithSnapshotStore(store)).
		Build(context.Background(), records))

	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithSnapshotStore(store))
	require.NoError(t, idx.Build(context.Background(), records[:4]))

	assert.Equal(t, 1, emb.calls())
	assert.Equal(t, SourceRebuild, idx.Status().Source)
	index, _, _ := idx.Ready()
	assert.Equal(t, 4, index.Size())
}

func TestSnapshotCountIgnoresBlankText(t *testing.T) {
	store := newMemStore()
	records := append(fiveRequirements(t), requirement(t, "REQ006", ""))
	require.NoError(t, New("requirements", "description", &staticProvider{emb: newCountingEmbedder()}, WithSnapshotStore(store)).
		Build(context.Background(), records))

	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithSnapshotStore(store))
	require.NoError(t, idx.Build(context.Background(), records))
	assert.Equal(t, 0, emb.calls(), "blank records must not make the count check fail")
}

func TestMalformedSnapshotRebuilds(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(context.Background(), SnapshotKey("requirements"), []byte("garbage")))

	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithSnapshotStore(store))
	require.NoError(t, idx.Build(context.Background(), fiveRequirements(t)))

	assert.Equal(t, StateReady, idx.State())
	assert.Equal(t, SourceRebuild, idx.Status().Source)
	blob, _ := store.Get(context.Background(), SnapshotKey("requirements"))
	assert.NotEqual(t, "garbage", string(blob))
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	store.setErr = errBoom
	idx := New("requirements", "description", &staticProvider{emb: newCountingEmbedder()}, WithSnapshotStore(store))
	require.NoError(t, idx.Build(context.Background(), fiveRequirements(t)))
	assert.Equal(t, StateReady, idx.State())
}

func TestBuildWhileBuildingIsBusy(t *testing.T) {
	emb := newCountingEmbedder()
	emb.gate = make(chan struct{})
	emb.started = make(chan struct{})
	idx := New("requirements", "description", &staticProvider{emb: emb})

	require.NoError(t, idx.BuildAsync(context.Background(), fiveRequirements(t)))
	<-emb.started
	assert.Equal(t, StateIndexing, idx.State())
	assert.True(t, idx.Status().Building)

	err := idx.Build(context.Background(), fiveRequirements(t))
	assert.ErrorIs(t, err, ErrIndexBusy)
	assert.ErrorIs(t, idx.BuildAsync(context.Background(), nil), ErrIndexBusy)
	assert.Equal(t, StateIndexing, idx.State())

	close(emb.gate)
	idx.Wait()
	assert.Equal(t, StateReady, idx.State())
	assert.Equal(t, 1, emb.calls())
}

func TestProviderFailureRevertsAndRetries(t *testing.T) {
	provider := &staticProvider{err: errBoom}
	idx := New("requirements", "description", provider)

	err := idx.Build(context.Background(), fiveRequirements(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, embedding.ErrProviderInit))
	assert.Equal(t, StateUninitialized, idx.State())
	assert.Contains(t, idx.Status().LastError, "boom")

	provider.err = nil
	provider.emb = newCountingEmbedder()
	require.NoError(t, idx.Build(context.Background(), fiveRequirements(t)))
	assert.Equal(t, StateReady, idx.State())
	assert.Equal(t, 2, provider.loads)
	assert.Empty(t, idx.Status().LastError)
}

func TestEmbedFailureRevertsToUninitialized(t *testing.T) {
	emb := newCountingEmbedder()
	emb.err = errBoom
	idx := New("requirements", "description", &staticProvider{emb: emb})
	err := idx.Build(context.Background(), fiveRequirements(t))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateUninitialized, idx.State())
	_, _, ok := idx.Ready()
	assert.False(t, ok)
}

func TestCanceledBuildStopsAtBatchBoundary(t *testing.T) {
	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithBatchSize(1))
	ctx, cancel := context.WithCancel(context.Background())
	idx.OnProgress(func(p Progress) {
		if p.Processed == 2 {
			cancel()
		}
	})
	err := idx.Build(ctx, fiveRequirements(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, emb.calls())
	assert.Equal(t, StateUninitialized, idx.State())
}

func TestDiscardDropsIndexAndSnapshot(t *testing.T) {
	store := newMemStore()
	idx := New("requirements", "description", &staticProvider{emb: newCountingEmbedder()}, WithSnapshotStore(store))
	records := fiveRequirements(t)
	require.NoError(t, idx.Build(context.Background(), records))

	idx.Discard(context.Background())
	assert.Equal(t, StateUninitialized, idx.State())
	assert.False(t, store.has(SnapshotKey("requirements")))
	_, _, ok := idx.Ready()
	assert.False(t, ok)

	// deleting one record and rebuilding leaves one fewer indexed record
	require.NoError(t, idx.Build(context.Background(), records[1:]))
	index, _, _ := idx.Ready()
	assert.Equal(t, 4, index.Size())
}

func TestDiscardDuringBuildSupersedesResult(t *testing.T) {
	emb := newCountingEmbedder()
	emb.gate = make(chan struct{})
	emb.started = make(chan struct{})
	store := newMemStore()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithSnapshotStore(store))

	done := make(chan error, 1)
	go func() { done <- idx.Build(context.Background(), fiveRequirements(t)) }()
	<-emb.started
	idx.Discard(context.Background())
	close(emb.gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("build did not finish")
	}
	assert.Equal(t, StateUninitialized, idx.State())
	assert.False(t, store.has(SnapshotKey("requirements")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	b, _ := StateModelLoading.MarshalText()
	assert.Equal(t, "model_loading", string(b))
}

func TestRebuildAsyncIgnoresSnapshot(t *testing.T) {
	store := newMemStore()
	records := fiveRequirements(t)
	require.NoError(t, New("requirements", "description", &staticProvider{emb: newCountingEmbedder()}, WithSnapshotStore(store)).
		Build(context.Background(), records))

	emb := newCountingEmbedder()
	idx := New("requirements", "description", &staticProvider{emb: emb}, WithSnapshotStore(store))
	require.NoError(t, idx.RebuildAsync(context.Background(), records))
	idx.Wait()

	assert.Equal(t, StateReady, idx.State())
	assert.Equal(t, SourceRebuild, idx.Status().Source)
	assert.Equal(t, 1, emb.calls())
	assert.True(t, store.has(SnapshotKey("requirements")))
}

func TestDiscardRightAfterRequestSupersedesBuild(t *testing.T) {
	store := newMemStore()
	p := &gatedProvider{emb: newCountingEmbedder(), gate: make(chan struct{})}
	idx := New("requirements", "description", p, WithSnapshotStore(store))

	// the build is pinned to the epoch it was requested in, not the one its goroutine sees
	require.NoError(t, idx.BuildAsync(context.Background(), fiveRequirements(t)))
	idx.Discard(context.Background())
	close(p.gate)
	idx.Wait()

	assert.Equal(t, StateUninitialized, idx.State())
	_, _, ok := idx.Ready()
	assert.False(t, ok)
	assert.False(t, store.has(SnapshotKey("requirements")))
	assert.False(t, idx.Status().Building)
}

func TestRequestAfterDiscardQueuesBehindSupersededBuild(t *testing.T) {
	store := newMemStore()
	p := &gatedProvider{emb: newCountingEmbedder(), gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	idx := New("requirements", "description", p, WithSnapshotStore(store))
	records := fiveRequirements(t)

	require.NoError(t, idx.BuildAsync(context.Background(), records))
	<-p.entered
	// a live build still rejects requests
	assert.ErrorIs(t, idx.BuildAsync(context.Background(), records), ErrIndexBusy)

	idx.Discard(context.Background())
	require.NoError(t, idx.BuildAsync(context.Background(), records[1:]))
	assert.True(t, idx.Status().Building)
	// a synchronous build is never queued
	assert.ErrorIs(t, idx.Build(context.Background(), records[1:]), ErrIndexBusy)

	close(p.gate)
	idx.Wait()

	require.Equal(t, StateReady, idx.State())
	index, _, ok := idx.Ready()
	require.True(t, ok)
	assert.Equal(t, 4, index.Size())
	_, found := index.Get("REQ001")
	assert.False(t, found)
	assert.True(t, store.has(SnapshotKey("requirements")))
	assert.False(t, idx.Status().Building)
}

func TestDiscardDropsQueuedRequest(t *testing.T) {
	p := &gatedProvider{emb: newCountingEmbedder(), gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	idx := New("requirements", "description", p)
	records := fiveRequirements(t)

	require.NoError(t, idx.BuildAsync(context.Background(), records))
	<-p.entered
	idx.Discard(context.Background())
	require.NoError(t, idx.BuildAsync(context.Background(), records[1:]))
	idx.Discard(context.Background())
	close(p.gate)
	idx.Wait()

	assert.Equal(t, StateUninitialized, idx.State())
	assert.Len(t, p.entered, 0)
}

func TestNewBuildResetsProgress(t *testing.T) {
	p := &gatedProvider{emb: newCountingEmbedder()}
	idx := New("requirements", "description", p)
	require.NoError(t, idx.Build(context.Background(), fiveRequirements(t)))
	st := idx.Status()
	require.Equal(t, 5, st.Processed)
	require.Equal(t, 5, st.Total)

	p.gate = make(chan struct{})
	p.entered = make(chan struct{}, 1)
	idx.Discard(context.Background())
	require.NoError(t, idx.BuildAsync(context.Background(), fiveRequirements(t)[:3]))
	<-p.entered

	st = idx.Status()
	assert.Equal(t, StateModelLoading, st.State)
	assert.Equal(t, 0, st.Processed)
	assert.Equal(t, 0, st.Total)

	close(p.gate)
	idx.Wait()
	st = idx.Status()
	assert.Equal(t, 3, st.Processed)
	assert.Equal(t, 3, st.Total)
}
