package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/models"
)

// countingEmbedder records the batches it embeds and can hold them until released.
type countingEmbedder struct {
	*embedding.MockEmbedder
	mu      sync.Mutex
	batches [][]string
	gate    chan struct{}
	started chan struct{}
	err     error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(32, embedding.Options{Normalize: true})}
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	first := len(c.batches) == 1
	c.mu.Unlock()
	if first && c.started != nil {
		close(c.started)
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

type staticProvider struct {
	emb   embedding.Embedder
	err   error
	loads int
}

func (p *staticProvider) Load(ctx context.Context) (embedding.Embedder, error) {
	p.loads++
	if p.err != nil {
		return nil, &embedding.ProviderInitError{Err: p.err}
	}
	return p.emb, nil
}

// gatedProvider blocks Load on gate when one is set and signals entered first.
type gatedProvider struct {
	emb     embedding.Embedder
	gate    chan struct{}
	entered chan struct{}
}

func (p *gatedProvider) Load(ctx context.Context) (embedding.Embedder, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.emb, nil
}

// memStore is an in-memory SnapshotStore with injectable failures.
type memStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	setErr error
}

func newMemStore() *memStore { return &memStore{blobs: map[string][]byte{}} }

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key], nil
}

func (s *memStore) Set(ctx context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.blobs[key] = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *memStore) Path() string { return "" }
func (s *memStore) Close() error { return nil }

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

var errBoom = errors.New("boom")

func requirement(t *testing.T, id, description string) *models.Entity {
	t.Helper()
	e := models.NewEntity("requirements")
	e.Set("id", id)
	e.Set("name", "Requirement "+id)
	e.Set("description", description)
	return e
}

func fiveRequirements(t *testing.T) []*models.Entity {
	return []*models.Entity{
		requirement(t, "REQ001", "login"),
		requirement(t, "REQ002", "Export monthly reports to spreadsheet"),
		requirement(t, "REQ003", "Encrypt customer data at rest"),
		requirement(t, "REQ004", "Audit trail for approvals"),
		requirement(t, "REQ005", "Single sign on for partners"),
	}
}

func numbered(t *testing.T, n int) []*models.Entity {
	out := make([]*models.Entity, n)
	for i := range out {
		out[i] = requirement(t, fmt.Sprintf("REQ%03d", i+1), fmt.Sprintf("requirement text %d", i+1))
	}
	return out
}
