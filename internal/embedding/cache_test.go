package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	hits, misses := c.Stats()
	if hits != 3 || misses != 2 {
		t.Errorf("stats: hits=%d misses=%d", hits, misses)
	}
}

type countingEmbedder struct {
	*MockEmbedder
	batches [][]string
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, append([]string(nil), texts...))
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_BatchSendsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8, Options{Normalize: true})}
	c := NewCachedEmbedder(inner, 10)

	if _, err := c.EmbedBatch(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	out, err := c.EmbedBatch(context.Background(), []string{"b", "c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d vectors", len(out))
	}
	if len(inner.batches) != 2 || len(inner.batches[1]) != 1 || inner.batches[1][0] != "c" {
		t.Errorf("inner batches: %v", inner.batches)
	}
	want, _ := inner.Embed(context.Background(), "a")
	for i := range want {
		if out[2][i] != want[i] {
			t.Fatalf("vector for a out of order at %d", i)
		}
	}

	if _, err := c.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if len(inner.batches) != 2 {
		t.Error("fully cached batch should not reach the inner embedder")
	}
}
