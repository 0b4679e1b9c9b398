package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/reqai/internal/embedding"
	"github.com/hyperjump/reqai/internal/models"
	"github.com/hyperjump/reqai/internal/vector"
)

func BenchmarkRank(b *testing.B) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(384, embedding.Options{Normalize: true})
	records := make([]*models.Entity, 1000)
	texts := make([]string, len(records))
	for i := range records {
		texts[i] = fmt.Sprintf("requirement %d covers reporting and audit area %d", i, i%17)
		records[i] = requirement(fmt.Sprintf("REQ%04d", i), texts[i])
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		b.Fatal(err)
	}
	idx, _ := vector.NewMemoryIndex(384)
	recs := make([]vector.Record, len(records))
	for i := range records {
		recs[i] = vector.Record{EntityID: records[i].ID, Vector: vecs[i], SourceText: texts[i]}
	}
	if err := idx.Replace(recs); err != nil {
		b.Fatal(err)
	}
	query, _ := emb.Embed(ctx, "audit reporting")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Rank(query, idx, records, "description", DefaultMinSimilarity)
	}
}
